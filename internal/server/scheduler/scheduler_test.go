package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/scripting"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
	"github.com/dmitrijs2005/vaultnode/internal/server/testutil"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

var ns = models.Namespace{UserDID: "did:U", AppDID: "did:A"}

type fixture struct {
	clock     *timex.ManualClock
	store     *filestore.Store
	colls     *collections.Service
	ledgers   services.Ledgers
	files     *services.FileService
	payments  *services.PaymentService
	transfers *scripting.Transfers
	sched     *Scheduler
}

func newFixture(t *testing.T, iv Intervals) *fixture {
	t.Helper()
	db, rm := testutil.OpenDB(t)
	clock := timex.NewManualClock(time.Unix(1_700_000_000, 0))
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	plans, err := quota.NewPlans([]models.Plan{
		{Name: "free", MaxBytes: 50 * mib},
		{Name: "rookie", MaxBytes: 2000 * mib, DurationDays: 30, Amount: 2.5, Currency: "ELA"},
	})
	require.NoError(t, err)

	log := logging.Nop()
	ledgers := services.Ledgers{
		Vault:  quota.NewLedger(db, rm, models.KindVault, plans, clock, log),
		Backup: quota.NewLedger(db, rm, models.KindBackup, plans, clock, log),
	}
	colls := collections.NewService(db, rm, clock)
	database := services.NewDatabaseService(colls, ledgers.Vault, log)
	files := services.NewFileService(store, ledgers.Vault, log)
	payments := services.NewPaymentService(db, rm, ledgers, clock, 30*time.Minute, log)
	issuer := auth.NewIssuer([]byte("secret"), clock, time.Hour, 5*time.Minute, time.Hour)
	transfers := scripting.NewTransfers(database, files, issuer, clock, log)

	ctx := context.Background()
	_, _, err = ledgers.Vault.Subscribe(ctx, ns.UserDID)
	require.NoError(t, err)
	_, _, err = ledgers.Backup.Subscribe(ctx, ns.UserDID)
	require.NoError(t, err)

	return &fixture{
		clock:     clock,
		store:     store,
		colls:     colls,
		ledgers:   ledgers,
		files:     files,
		payments:  payments,
		transfers: transfers,
		sched:     New(store, ledgers, database, files, payments, transfers, iv, log),
	}
}

func TestRecountPass(t *testing.T) {
	f := newFixture(t, Intervals{})
	ctx := context.Background()

	_, err := f.files.Upload(ctx, ns, "a.txt", strings.NewReader("twelve bytes"), 12)
	require.NoError(t, err)
	require.NoError(t, f.colls.CreateCollection(ctx, ns, "c"))
	_, err = f.colls.InsertMany(ctx, ns, "c", []collections.Document{{"k": "v"}}, collections.InsertOptions{})
	require.NoError(t, err)

	bt, err := f.store.BackupTree(ns.UserDID)
	require.NoError(t, err)
	_, _, err = bt.Write(ns.AppDID+"/files/b", strings.NewReader("backup"))
	require.NoError(t, err)

	// drift both counters
	require.NoError(t, f.ledgers.Vault.SetUsage(ctx, ns.UserDID, 7, 7))
	require.NoError(t, f.ledgers.Backup.SetUsage(ctx, ns.UserDID, 0, 0))

	require.NoError(t, f.sched.RecountPass(ctx))

	v, err := f.ledgers.Vault.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	dbSize, err := f.colls.Size(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v.FileBytesUsed)
	assert.Equal(t, dbSize, v.DBBytesUsed)
	assert.Positive(t, v.DBBytesUsed)

	b, err := f.ledgers.Backup.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), b.BytesUsed())

	require.NoError(t, f.sched.RecountPass(ctx), "pass is idempotent")
	again, _ := f.ledgers.Vault.Get(ctx, ns.UserDID)
	assert.Equal(t, v.BytesUsed(), again.BytesUsed())
}

func TestExpirePass(t *testing.T) {
	f := newFixture(t, Intervals{})
	ctx := context.Background()

	rookie, err := f.ledgers.Vault.Plans().Get("rookie")
	require.NoError(t, err)
	_, err = f.ledgers.Vault.ApplyPlan(ctx, ns.UserDID, rookie)
	require.NoError(t, err)
	_, err = f.ledgers.Backup.ApplyPlan(ctx, ns.UserDID, rookie)
	require.NoError(t, err)
	require.NoError(t, f.ledgers.Vault.SetUsage(ctx, ns.UserDID, 60*mib, 0))

	_, err = f.transfers.Mint(ctx, ns, "/up.bin", auth.Upload, false)
	require.NoError(t, err)

	require.NoError(t, f.sched.ExpirePass(ctx))
	v, _ := f.ledgers.Vault.Get(ctx, ns.UserDID)
	assert.Equal(t, "rookie", v.PlanName, "plan still running")

	f.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, f.sched.ExpirePass(ctx))

	v, err = f.ledgers.Vault.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, "free", v.PlanName)
	b, err := f.ledgers.Backup.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, "free", b.PlanName)

	_, err = f.files.List(ctx, ns, "/")
	assert.NoError(t, err, "reads succeed")
	_, err = f.files.Upload(ctx, ns, "x", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, common.ErrorOverQuota)

	n, err := f.colls.Count(ctx, ns, common.TransfersCollection, nil, collections.CountOptions{})
	require.NoError(t, err)
	assert.Zero(t, n, "expired transfer rows are purged")
}

func TestSettlePass(t *testing.T) {
	f := newFixture(t, Intervals{})
	ctx := context.Background()

	o, err := f.payments.CreateOrder(ctx, ns.UserDID, models.KindBackup, "rookie")
	require.NoError(t, err)
	_, err = f.payments.Settle(ctx, o.ID, "tx")
	require.NoError(t, err)

	require.NoError(t, f.sched.SettlePass(ctx))
	b, err := f.ledgers.Backup.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, "rookie", b.PlanName)
	v, err := f.ledgers.Vault.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, "free", v.PlanName, "orders apply to their own subscription")
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, Intervals{Recount: time.Millisecond, Expire: time.Millisecond})
	_, err := f.files.Upload(context.Background(), ns, "a.txt", strings.NewReader("abc"), 3)
	require.NoError(t, err)
	require.NoError(t, f.ledgers.Vault.SetUsage(context.Background(), ns.UserDID, 0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, err := f.ledgers.Vault.Get(context.Background(), ns.UserDID)
		return err == nil && v.FileBytesUsed == 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
