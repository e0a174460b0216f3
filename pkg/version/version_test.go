package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, GetVersion(), info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestGetFullVersion(t *testing.T) {
	full := GetFullVersion()

	assert.True(t, strings.HasPrefix(full, version+" (build: "+buildID), full)
	assert.Contains(t, full, runtime.Version())
	assert.Equal(t, Get().String(), full)
}
