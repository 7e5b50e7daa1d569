// Package server wires the vault node together from its configuration and
// runs it until the context is cancelled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/backup"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/config"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/httpapi"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultnode/internal/server/scheduler"
	"github.com/dmitrijs2005/vaultnode/internal/server/scripting"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	http      *httpapi.Server
	scheduler *scheduler.Scheduler
	backups   *backup.Client
	issuer    *auth.Issuer
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm, err := repomanager.NewSQLRepositoryManager(c.DatabaseDriver)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app, err := build(c, db, rm, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func build(c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) (*App, error) {
	clock := timex.SystemClock{}

	store, err := filestore.New(c.DataDir)
	if err != nil {
		return nil, err
	}
	vaultPlans, err := quota.NewPlans(c.Plans)
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}
	backupPlans, err := quota.NewPlans(c.BackupPlans)
	if err != nil {
		return nil, fmt.Errorf("backup plans: %w", err)
	}

	ledgers := services.Ledgers{
		Vault:  quota.NewLedger(db, rm, models.KindVault, vaultPlans, clock, logger),
		Backup: quota.NewLedger(db, rm, models.KindBackup, backupPlans, clock, logger),
	}
	colls := collections.NewService(db, rm, clock)
	database := services.NewDatabaseService(colls, ledgers.Vault, logger)
	files := services.NewFileService(store, ledgers.Vault, logger)
	payments := services.NewPaymentService(db, rm, ledgers, clock, c.PaymentWaitDuration, logger)

	issuer := auth.NewIssuer([]byte(c.SecretKey), clock,
		c.AccessTokenValidityDuration, c.TransferTokenValidityDuration, c.BackupTokenValidityDuration)
	issuer.Node = c.NodeID
	transfers := scripting.NewTransfers(database, files, issuer, clock, logger)

	backups := backup.NewClient(db, rm, store, database, files,
		backup.HTTPDialer(c.NodeID, http.DefaultClient), c.BlockSize, clock, logger)

	svc := httpapi.Services{
		Issuer:        issuer,
		Database:      database,
		Files:         files,
		Subscriptions: services.NewSubscriptionService(ledgers, colls, store, logger),
		Payments:      payments,
		Scripts:       scripting.NewEvaluator(scripting.NewRegistry(database), database, files, transfers, logger),
		BackupClient:  backups,
		BackupServer:  backup.NewServer(store, ledgers, colls, issuer, c.BlockSize, logger),
	}

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		http:    httpapi.NewServer(c.EndpointAddrHTTP, c.AdminPassword, svc, logger),
		backups: backups,
		issuer:  issuer,
		scheduler: scheduler.New(store, ledgers, database, files, payments, transfers, scheduler.Intervals{
			Recount: c.RecountInterval,
			Expire:  c.ExpireInterval,
			Settle:  c.SettleInterval,
		}, logger),
	}, nil
}

func (app *App) Handler() http.Handler { return app.http.Handler() }

// Run serves HTTP and drives the scheduler until ctx is done, then stops
// running backup sessions and closes the database.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...", "node", app.config.NodeID, "driver", app.config.DatabaseDriver)
	defer app.db.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.http.Run(ctx) })
	g.Go(func() error { return app.scheduler.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		app.backups.Close()
		return nil
	})
	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
