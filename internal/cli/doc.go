// Package cli provides the interactive inspection shell for a crypto store.
//
// It opens the store file named in the configuration with an opaque codec,
// so pickled sessions are counted and listed but never unpickled, and runs a
// REPL over the store's read and maintenance operations:
//   - stats, sessions, groups, backup
//   - devices, tracking, trust, block
//   - crosssigning, requests, rooms
//   - tidy, wipe
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
