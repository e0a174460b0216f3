// Package version provides build information for the runtime agent.
package version

import (
	"fmt"
	"runtime"
)

// These variables are set via ldflags during build
//
//nolint:gochecknoglobals // These are intentionally global for ldflags injection
var (
	version = "dev"
	buildID = "dev"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   version,
		BuildID:   buildID,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (build: %s, %s, %s)", i.Version, i.BuildID, i.GoVersion, i.Platform)
}

// GetVersion returns the version carried in snapshots and lifecycle events.
func GetVersion() string {
	return version
}

func GetFullVersion() string {
	return Get().String()
}
