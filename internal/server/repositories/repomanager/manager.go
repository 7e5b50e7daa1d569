package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/documents"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/orders"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/subscriptions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Documents(db dbx.DBTX) documents.Repository
	Subscriptions(db dbx.DBTX) subscriptions.Repository
	Orders(db dbx.DBTX) orders.Repository
	Sessions(db dbx.DBTX) sessions.Repository
}
