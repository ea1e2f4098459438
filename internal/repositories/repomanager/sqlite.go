// Package repomanager provides a concrete RepositoryManager for SQLite,
// wiring together repository constructors and schema migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/migrations"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/crosssigning"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/devices"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/groupsessions"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/keyrequests"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/metadata"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/olmsessions"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/rooms"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/sharedsessions"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/withheld"
	"github.com/pressly/goose/v3"
)

// SQLiteRepositoryManager vends SQLite-backed repository implementations
// and exposes the schema migration hook.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) OlmSessions(db dbx.DBTX) olmsessions.Repository {
	return olmsessions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) GroupSessions(db dbx.DBTX) groupsessions.Repository {
	return groupsessions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) CrossSigning(db dbx.DBTX) crosssigning.Repository {
	return crosssigning.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) KeyRequests(db dbx.DBTX) keyrequests.Repository {
	return keyrequests.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Rooms(db dbx.DBTX) rooms.Repository {
	return rooms.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Withheld(db dbx.DBTX) withheld.Repository {
	return withheld.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) SharedSessions(db dbx.DBTX) sharedsessions.Repository {
	return sharedsessions.NewSQLiteRepository(db)
}

// Seams for testing the goose calls.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDBVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

func setupGoose() error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect("sqlite3")
}

// LatestVersion is the newest migration embedded in the binary.
func LatestVersion() (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, err
	}
	all, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		return 0, err
	}
	last, err := all.Last()
	if err != nil {
		return 0, err
	}
	return last.Version, nil
}

// SchemaVersion reports the version recorded in the database, 0 for a new one.
func (m *SQLiteRepositoryManager) SchemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, err
	}
	return gooseDBVersion(ctx, db)
}

// RunMigrations brings the schema up to LatestVersion. Every failure wraps
// common.ErrMigration; a database written by a newer build also wraps
// common.ErrSchemaTooNew.
func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	latest, err := LatestVersion()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrMigration, err)
	}
	current, err := m.SchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: failed to read schema version: %v", common.ErrMigration, err)
	}
	if current > latest {
		return fmt.Errorf("%w: %w: database is at %d, newest known is %d",
			common.ErrMigration, common.ErrSchemaTooNew, current, latest)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("%w: %v", common.ErrMigration, err)
	}
	return nil
}

func NewSQLiteRepositoryManager() RepositoryManager {
	return &SQLiteRepositoryManager{}
}
