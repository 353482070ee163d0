package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfoShort(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"no commit", Info{Version: "v1.0.0", GitCommit: "unknown"}, "v1.0.0"},
		{"dev with commit", Info{Version: "dev", GitCommit: "1a2b3c4d5e"}, "dev-1a2b3c4"},
		{"release", Info{Version: "v1.0.0", GitCommit: "1a2b3c4d5e"}, "v1.0.0 (1a2b3c4)"},
		{"dirty", Info{Version: "v1.0.0", GitCommit: "1a2b3c4d5e", Dirty: true}, "v1.0.0 (1a2b3c4) (dirty)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestParseBuildTime(t *testing.T) {
	assert.True(t, parseBuildTime("unknown").IsZero())
	assert.True(t, parseBuildTime("yesterday").IsZero())
	assert.Equal(t, 2024, parseBuildTime("2024-05-01T10:00:00Z").Year())
	assert.Equal(t, time.May, parseBuildTime("2024-05-01 10:00:00").Month())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Detailed(), "Platform: ")
	assert.Equal(t, info.Version != "dev" && !strings.HasPrefix(info.Version, "dev-"), info.IsRelease())
}
