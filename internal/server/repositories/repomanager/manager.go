package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/deferred"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/locks"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/mutations"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Mutations(db dbx.DBTX) mutations.Repository
	Deferred(db dbx.DBTX) deferred.Repository
	Locks(db dbx.DBTX) locks.Repository
}
