package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/folders"
)

// RepositoryManager vends repositories bound to a DBTX, so the same
// constructors serve both plain connections and open transactions.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Folders(db dbx.DBTX) folders.Repository
	Files(db dbx.DBTX) files.Repository
	Chunks(db dbx.DBTX) chunks.Repository
}
