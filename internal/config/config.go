package config

import "time"

// Config holds runtime settings for the cryptostore inspection CLI.
//
// DatabasePath is the SQLite file of the store. UserID and DeviceID are the
// credentials the store is opened with: a store created for another account
// is wiped on open. RequestRetention bounds how long outgoing key requests are
// kept by the tidy-up command.
type Config struct {
	DatabasePath     string
	UserID           string
	DeviceID         string
	LogLevel         string
	BusyTimeout      time.Duration
	RequestRetention time.Duration
	AskPassphrase    bool
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "crypto_store.db"
	c.LogLevel = "info"
	c.BusyTimeout = 5 * time.Second
	c.RequestRetention = 7 * 24 * time.Hour
	c.AskPassphrase = false
}

// LoadConfig applies defaults, then the JSON file (if any), then flags.
// Later sources take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
