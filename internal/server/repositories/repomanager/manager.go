package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/blobs"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/cosigners"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/keys"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Keys(db dbx.DBTX) keys.Repository
	Blobs(db dbx.DBTX) blobs.Repository
	Cosigners(db dbx.DBTX) cosigners.Repository
}
