// Package migrations embeds the goose SQL migrations of the crypto store.
// Every step is additive; versions must never be renumbered.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
