// Package common defines sentinel errors shared by the store layers.
// Callers match them with errors.Is.
package common

import "errors"

var (
	// Repository-level errors. Lookups return (nil, nil) when nothing is
	// stored; ErrorNotFound is reserved for updates that need an existing row.
	ErrorNotFound = errors.New("not found")

	// Lifecycle errors.
	ErrStoreClosed     = errors.New("store is closed")
	ErrMigration       = errors.New("schema migration failed")
	ErrSchemaTooNew    = errors.New("schema version is newer than supported")
	ErrWrongPassphrase = errors.New("wrong passphrase")
	ErrMissingIdentity = errors.New("user id is required")

	// Data errors.
	ErrorIncorrectMetadata = errors.New("incorrect metadata")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrInvalidTransition   = errors.New("invalid request state transition")
)
