package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	base := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		return c
	}

	tests := []struct {
		name        string
		args        []string
		expected    *Config
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd", "-d", "/tmp/s.db", "-u", "@alice:example.org", "-D", "DEV1", "-l", "debug", "-p"},
			expected: &Config{
				DatabasePath:     "/tmp/s.db",
				UserID:           "@alice:example.org",
				DeviceID:         "DEV1",
				LogLevel:         "debug",
				BusyTimeout:      5 * time.Second,
				RequestRetention: 7 * 24 * time.Hour,
				AskPassphrase:    true,
			},
		},
		{
			name:     "foreign flags ignored",
			args:     []string{"cmd", "-x", "1", "-u", "@bob:example.org"},
			expected: func() *Config { c := base(); c.UserID = "@bob:example.org"; return c }(),
		},
		{
			name:        "bad bool value",
			args:        []string{"cmd", "-p=maybe"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			cfg := base()

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg) })
				return
			}
			require.NotPanics(t, func() { parseFlags(cfg) })
			assert.Empty(t, cmp.Diff(tt.expected, cfg))
		})
	}
}
