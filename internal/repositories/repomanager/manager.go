package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/crosssigning"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/devices"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/groupsessions"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/keyrequests"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/metadata"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/olmsessions"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/rooms"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/sharedsessions"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/withheld"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	SchemaVersion(ctx context.Context, db *sql.DB) (int64, error)

	Metadata(db dbx.DBTX) metadata.Repository
	OlmSessions(db dbx.DBTX) olmsessions.Repository
	GroupSessions(db dbx.DBTX) groupsessions.Repository
	Devices(db dbx.DBTX) devices.Repository
	CrossSigning(db dbx.DBTX) crosssigning.Repository
	KeyRequests(db dbx.DBTX) keyrequests.Repository
	Rooms(db dbx.DBTX) rooms.Repository
	Withheld(db dbx.DBTX) withheld.Repository
	SharedSessions(db dbx.DBTX) sharedsessions.Repository
}
