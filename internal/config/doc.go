// Package config loads runtime configuration for the cryptostore CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-d string   path to the SQLite store file
//	-u string   Matrix user id the store belongs to
//	-D string   device id the store belongs to
//	-l string   log level: debug, info, warn, error
//	-p          prompt for the at-rest passphrase
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "5s" or integer
// nanoseconds. Fields missing from the file keep their previous value.
//
//	{
//	  "database_path": "crypto_store.db",
//	  "user_id": "@alice:example.org",
//	  "device_id": "ABCDEFGH",
//	  "log_level": "debug",
//	  "busy_timeout": "5s",
//	  "request_retention": "168h",
//	  "ask_passphrase": true
//	}
package config
