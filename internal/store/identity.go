package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/metadata"
)

func readOnlyDSN(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	u := &url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}
	return u.String()
}

// ReadIdentity returns the identity of the store file at path without
// creating, migrating or writing to it. It returns nil when there is no
// store: a missing or empty file, a database without metadata, or a path
// that is not a plain file (":memory:" and "file:" URIs).
//
// Open wipes a store that belongs to another identity. Tools acting on a
// user-supplied identity call ReadIdentity first to catch a mistyped one.
func ReadIdentity(ctx context.Context, path string) (*models.Identity, error) {
	if path == "" || path == memoryPath || strings.HasPrefix(path, "file:") {
		return nil, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var tables int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'crypto_metadata'`).Scan(&tables)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if tables == 0 {
		return nil, nil
	}
	return metadata.NewSQLiteRepository(db).GetIdentity(ctx)
}
