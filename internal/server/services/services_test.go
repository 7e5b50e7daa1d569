package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/testutil"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

const mib = 1 << 20

var ns = models.Namespace{UserDID: "did:U", AppDID: "did:A"}

type fixture struct {
	clock    *timex.ManualClock
	colls    *collections.Service
	store    *filestore.Store
	ledgers  Ledgers
	db       *DatabaseService
	files    *FileService
	subs     *SubscriptionService
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
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
	ledgers := Ledgers{
		Vault:  quota.NewLedger(db, rm, models.KindVault, plans, clock, log),
		Backup: quota.NewLedger(db, rm, models.KindBackup, plans, clock, log),
	}
	colls := collections.NewService(db, rm, clock)
	return &fixture{
		clock:    clock,
		colls:    colls,
		store:    store,
		ledgers:  ledgers,
		db:       NewDatabaseService(colls, ledgers.Vault, log),
		files:    NewFileService(store, ledgers.Vault, log),
		subs:     NewSubscriptionService(ledgers, colls, store, log),
		payments: NewPaymentService(db, rm, ledgers, clock, 30*time.Minute, log),
	}
}

// assertCounters checks the ledger against a fresh disk and store recount.
func (f *fixture) assertCounters(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	v, err := f.ledgers.Vault.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	fileSize, err := f.store.UserFileSize(ns.UserDID)
	require.NoError(t, err)
	dbSize, err := f.colls.Size(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Equal(t, fileSize, v.FileBytesUsed, "file bytes")
	assert.Equal(t, dbSize, v.DBBytesUsed, "db bytes")
}

func TestDatabaseService_CountersFollowWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.db.Find(ctx, ns, "c", nil, collections.FindOptions{})
	require.ErrorIs(t, err, common.ErrorNotFound, "no vault yet")

	_, err = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)
	require.NoError(t, err)

	require.NoError(t, f.db.CreateCollection(ctx, ns, "c"))
	require.ErrorIs(t, f.db.CreateCollection(ctx, ns, "__scripts__"), common.ErrorBadRequest)

	_, err = f.db.InsertMany(ctx, ns, "c", []collections.Document{{"a": 1}, {"a": 2}, {"a": 3}}, collections.InsertOptions{})
	require.NoError(t, err)
	f.assertCounters(t)

	_, err = f.db.Update(ctx, ns, "c", map[string]any{"a": 1}, map[string]any{"$set": map[string]any{"long": strings.Repeat("x", 500)}}, collections.UpdateOptions{})
	require.NoError(t, err)
	f.assertCounters(t)

	n, err := f.db.Count(ctx, ns, "c", nil, collections.CountOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = f.db.Delete(ctx, ns, "c", nil, collections.DeleteOptions{Many: true})
	require.NoError(t, err)
	f.assertCounters(t)

	require.NoError(t, f.db.DropCollection(ctx, ns, "c"))
	f.assertCounters(t)
}

func TestDatabaseService_Frozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)
	require.NoError(t, f.db.CreateCollection(ctx, ns, "c"))

	_, err := f.subs.Deactivate(ctx, ns.UserDID, models.KindVault)
	require.NoError(t, err)

	_, err = f.db.InsertMany(ctx, ns, "c", []collections.Document{{"a": 1}}, collections.InsertOptions{})
	assert.ErrorIs(t, err, common.ErrorFrozen)
	_, err = f.db.Delete(ctx, ns, "c", nil, collections.DeleteOptions{})
	assert.ErrorIs(t, err, common.ErrorFrozen)
	_, err = f.db.Find(ctx, ns, "c", nil, collections.FindOptions{})
	assert.NoError(t, err)

	_, err = f.subs.Activate(ctx, ns.UserDID, models.KindVault)
	require.NoError(t, err)
	_, err = f.db.InsertMany(ctx, ns, "c", []collections.Document{{"a": 1}}, collections.InsertOptions{})
	assert.NoError(t, err)
}

func TestFileService_CountersFollowWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)

	n, err := f.files.Upload(ctx, ns, "/avatars/u1.png", bytes.NewReader(frand.Bytes(1234)), 1234)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, n)
	f.assertCounters(t)

	_, err = f.files.Upload(ctx, ns, "/avatars/u1.png", strings.NewReader("short"), -1)
	require.NoError(t, err)
	f.assertCounters(t)

	require.NoError(t, f.files.Copy(ctx, ns, "avatars", "copy"))
	f.assertCounters(t)

	require.NoError(t, f.files.Move(ctx, ns, "copy/u1.png", "moved.png"))
	f.assertCounters(t)

	require.NoError(t, f.files.Delete(ctx, ns, "avatars"))
	f.assertCounters(t)

	st, err := f.files.Stat(ctx, ns, "moved.png")
	require.NoError(t, err)
	assert.EqualValues(t, 5, st.Size)

	list, err := f.files.List(ctx, ns, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// a counter drifted by a crash is repaired by a recount
	require.NoError(t, f.ledgers.Vault.AddFileBytes(ctx, ns.UserDID, 999))
	require.NoError(t, f.files.Recount(ctx, ns.UserDID))
	f.assertCounters(t)
}

func TestFileService_CopyDirectoryRespectsQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)

	for _, name := range []string{"avatars/a.png", "avatars/b.png"} {
		_, err := f.files.Upload(ctx, ns, name, bytes.NewReader(frand.Bytes(1000)), 1000)
		require.NoError(t, err)
	}
	// 1500 bytes of room: one file fits, the directory does not
	require.NoError(t, f.ledgers.Vault.AddFileBytes(ctx, ns.UserDID, 50*mib-2000-1500))

	err := f.files.Copy(ctx, ns, "avatars", "copy")
	assert.ErrorIs(t, err, common.ErrorOverQuota)
	_, err = f.files.Stat(ctx, ns, "copy")
	assert.ErrorIs(t, err, common.ErrorNotFound, "nothing was copied")

	require.NoError(t, f.files.Copy(ctx, ns, "avatars/a.png", "a-copy.png"))
	v, err := f.ledgers.Vault.Get(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.EqualValues(t, 50*mib-500, v.BytesUsed())

	err = f.files.Copy(ctx, ns, "missing", "x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFileService_QuotaAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)

	_, err := f.files.Upload(ctx, ns, "keep", strings.NewReader("data"), 4)
	require.NoError(t, err)

	rookie, _ := f.ledgers.Vault.Plans().Get("rookie")
	_, err = f.ledgers.Vault.ApplyPlan(ctx, ns.UserDID, rookie)
	require.NoError(t, err)
	require.NoError(t, f.ledgers.Vault.SetUsage(ctx, ns.UserDID, 60*mib, 0))

	f.clock.Advance(31 * 24 * time.Hour)
	n, err := f.ledgers.Vault.ExpirePass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	v, err := f.subs.Get(ctx, ns.UserDID, models.KindVault)
	require.NoError(t, err)
	assert.Equal(t, "free", v.PlanName)

	_, err = f.files.Stat(ctx, ns, "keep")
	assert.NoError(t, err, "reads succeed")
	_, err = f.files.Upload(ctx, ns, "more", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, common.ErrorOverQuota)
	assert.NoError(t, f.files.Delete(ctx, ns, "keep"), "deletes succeed")
}

func TestFileService_IncomingSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)

	_, err := f.files.Upload(ctx, ns, "big", strings.NewReader("x"), 51*mib)
	assert.ErrorIs(t, err, common.ErrorOverQuota)
}

func TestSubscriptionService_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindBackup)

	require.NoError(t, f.db.CreateCollection(ctx, ns, "c"))
	_, err := f.files.Upload(ctx, ns, "f", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, f.subs.Unsubscribe(ctx, ns.UserDID, models.KindVault))

	_, err = f.subs.Get(ctx, ns.UserDID, models.KindVault)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	apps, err := f.colls.Apps(ctx, ns.UserDID)
	require.NoError(t, err)
	assert.Empty(t, apps)
	size, err := f.store.UserFileSize(ns.UserDID)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = f.subs.Get(ctx, ns.UserDID, models.KindBackup)
	assert.NoError(t, err, "backup subscription is independent")

	assert.ErrorIs(t, f.subs.Unsubscribe(ctx, ns.UserDID, models.KindVault), common.ErrorNotFound)
	_, err = f.subs.Get(ctx, ns.UserDID, "gold")
	assert.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestPaymentService_OrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.payments.CreateOrder(ctx, ns.UserDID, models.KindVault, "rookie")
	assert.ErrorIs(t, err, common.ErrorNotFound, "requires a subscription")

	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindVault)
	_, err = f.payments.CreateOrder(ctx, ns.UserDID, models.KindVault, "free")
	assert.ErrorIs(t, err, common.ErrorBadRequest)

	o, err := f.payments.CreateOrder(ctx, ns.UserDID, models.KindVault, "rookie")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, o.State)

	_, err = f.payments.GetOrder(ctx, "did:other", o.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	applied, expired, err := f.payments.SettlePass(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied+expired)

	paid, err := f.payments.Settle(ctx, o.ID, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.State)

	_, err = f.payments.Settle(ctx, o.ID, "tx-1")
	assert.ErrorIs(t, err, common.ErrorConflict)

	applied, _, err = f.payments.SettlePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	v, err := f.subs.Get(ctx, ns.UserDID, models.KindVault)
	require.NoError(t, err)
	assert.Equal(t, "rookie", v.PlanName)
	assert.Equal(t, f.clock.Now().Unix()+30*86400, v.EndTime)

	got, err := f.payments.GetOrder(ctx, ns.UserDID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderApplied, got.State)

	applied, _, err = f.payments.SettlePass(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied, "pass is idempotent")
}

func TestPaymentService_PendingOrdersExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.subs.Subscribe(ctx, ns.UserDID, models.KindBackup)

	o, err := f.payments.CreateOrder(ctx, ns.UserDID, models.KindBackup, "rookie")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	_, expired, err := f.payments.SettlePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	_, err = f.payments.Settle(ctx, o.ID, "late")
	assert.ErrorIs(t, err, common.ErrorConflict)

	plans, err := f.payments.Plans(models.KindBackup)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}
