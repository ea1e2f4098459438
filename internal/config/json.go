package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/cryptostore/internal/flagx"
	"github.com/dmitrijs2005/cryptostore/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Pointer fields tell
// "absent" apart from zero values so a partial file only overrides what it
// names.
type JsonConfig struct {
	DatabasePath     *string         `json:"database_path"`
	UserID           *string         `json:"user_id"`
	DeviceID         *string         `json:"device_id"`
	LogLevel         *string         `json:"log_level"`
	BusyTimeout      *timex.Duration `json:"busy_timeout"`
	RequestRetention *timex.Duration `json:"request_retention"`
	AskPassphrase    *bool           `json:"ask_passphrase"`
}

// parseJson overlays cfg with the file given by -c/-config. It does nothing
// when no file is requested and panics when the file cannot be read or parsed.
func parseJson(cfg *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	if jc.DatabasePath != nil {
		cfg.DatabasePath = *jc.DatabasePath
	}
	if jc.UserID != nil {
		cfg.UserID = *jc.UserID
	}
	if jc.DeviceID != nil {
		cfg.DeviceID = *jc.DeviceID
	}
	if jc.LogLevel != nil {
		cfg.LogLevel = *jc.LogLevel
	}
	if jc.BusyTimeout != nil {
		cfg.BusyTimeout = jc.BusyTimeout.Duration
	}
	if jc.RequestRetention != nil {
		cfg.RequestRetention = jc.RequestRetention.Duration
	}
	if jc.AskPassphrase != nil {
		cfg.AskPassphrase = *jc.AskPassphrase
	}
}
