/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package identity derives the container identity from orchestrator-assigned
// kernel pseudo-files. The OS hostname is never used.
package identity

import (
	"fmt"
	"os"
	"regexp"

	"github.com/carverauto/runtime-agent/pkg/logger"
)

const (
	DefaultCgroupPath    = "/proc/self/cgroup"
	DefaultMountInfoPath = "/proc/self/mountinfo"
	DefaultMarker        = "/docker/"

	identityLength = 64
)

var (
	validIdentity = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	scopePattern  = regexp.MustCompile(`docker-([0-9a-fA-F]{64})\.scope(?:[^0-9a-fA-F]|$)`)
	mountPattern  = regexp.MustCompile(`/docker/containers/([0-9a-fA-F]{64})/`)
)

// Config selects the identity sources.
type Config struct {
	CgroupPath       string `json:"cgroup_path"`
	Marker           string `json:"marker"`
	MountInfoPath    string `json:"mountinfo_path"`
	DisableMountInfo bool   `json:"disable_mountinfo"`
}

// Normalize fills unset fields with the defaults.
func (c *Config) Normalize() {
	if c.CgroupPath == "" {
		c.CgroupPath = DefaultCgroupPath
	}

	if c.Marker == "" {
		c.Marker = DefaultMarker
	}

	if c.MountInfoPath == "" {
		c.MountInfoPath = DefaultMountInfoPath
	}
}

// Resolver extracts the identity once per process.
type Resolver struct {
	cfg      Config
	marker   *regexp.Regexp
	readFile func(string) ([]byte, error)
	logger   logger.Logger
}

// NewResolver creates a resolver for the given sources.
func NewResolver(cfg Config, log logger.Logger) *Resolver {
	cfg.Normalize()

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Resolver{
		cfg:      cfg,
		marker:   regexp.MustCompile(regexp.QuoteMeta(cfg.Marker) + `([0-9a-fA-F]{64})(?:[^0-9a-fA-F]|$)`),
		readFile: os.ReadFile,
		logger:   log,
	}
}

// Resolve reads the control-group file and returns the 64-hex token following
// the marker. A readable cgroup file without a marker falls through to the
// mount table. Every failure wraps ErrNoIdentity and names the file consulted.
func (r *Resolver) Resolve() (string, error) {
	data, err := r.readFile(r.cfg.CgroupPath)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrNoIdentity, r.cfg.CgroupPath, err)
	}

	if id, ok := r.fromCgroup(data); ok {
		r.logger.Debug().Str("source", r.cfg.CgroupPath).Msg("Resolved container identity")

		return id, nil
	}

	if r.cfg.DisableMountInfo {
		return "", fmt.Errorf("%w: no %q segment in %s", ErrNoIdentity, r.cfg.Marker, r.cfg.CgroupPath)
	}

	mounts, err := r.readFile(r.cfg.MountInfoPath)
	if err != nil {
		return "", fmt.Errorf("%w: no %q segment in %s and reading %s: %w",
			ErrNoIdentity, r.cfg.Marker, r.cfg.CgroupPath, r.cfg.MountInfoPath, err)
	}

	if m := mountPattern.FindSubmatch(mounts); m != nil {
		r.logger.Debug().Str("source", r.cfg.MountInfoPath).Msg("Resolved container identity")

		return string(m[1]), nil
	}

	return "", fmt.Errorf("%w: no container id in %s or %s", ErrNoIdentity, r.cfg.CgroupPath, r.cfg.MountInfoPath)
}

func (r *Resolver) fromCgroup(data []byte) (string, bool) {
	if m := r.marker.FindSubmatch(data); m != nil {
		return string(m[1]), true
	}

	if m := scopePattern.FindSubmatch(data); m != nil {
		return string(m[1]), true
	}

	return "", false
}

// Validate rejects anything that is not an orchestrator-assigned 64-hex token,
// which rules out hostnames and truncated ids.
func Validate(id string) error {
	if len(id) != identityLength || !validIdentity.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}

	return nil
}
