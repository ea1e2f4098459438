package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/cryptostore/internal/flagx"
)

// parseFlags overlays cfg with the command-line flags it owns.
// Unknown arguments are filtered out with flagx.FilterArgs first.
// A malformed value panics, like the JSON loader.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-u", "-D", "-l", "-p"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the store database")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id the store belongs to")
	fs.StringVar(&cfg.DeviceID, "D", cfg.DeviceID, "device id the store belongs to")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.AskPassphrase, "p", cfg.AskPassphrase, "prompt for the at-rest passphrase")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
