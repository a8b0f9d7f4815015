package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/itemledger/config"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/ledger"
	"github.com/kasuganosora/itemledger/economy/notify"
	"github.com/kasuganosora/itemledger/economy/trade"
	"github.com/kasuganosora/itemledger/economy/worlditem"
	"github.com/kasuganosora/itemledger/model"
	"github.com/kasuganosora/itemledger/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	db    *gorm.DB
	l     *ledger.Ledger
	clock *clock
	sink  *testutil.EventRecorder
}

func newEnv(t testing.TB, cfg *config.Config) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	clk := &clock{now: t0}
	sink := &testutil.EventRecorder{}
	l, err := ledger.New(ledger.Options{
		Config: cfg,
		DB:     db,
		Cache:  c,
		PubSub: ps,
		Sink:   sink,
		Clock:  clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Stop(context.Background()) })
	return &env{db: db, l: l, clock: clk, sink: sink}
}

func (e *env) supply(t testing.TB) [4]int64 {
	t.Helper()
	s, err := e.l.Supply.Snapshot(context.Background(), "shark")
	require.NoError(t, err)
	return [4]int64{s.Total, s.InCirculation, s.InWorld, s.Destroyed}
}

func registerShark(t testing.TB, l *ledger.Ledger) {
	t.Helper()
	_, err := l.Registry.Register(context.Background(), model.ItemDefinition{
		ID: "shark", Name: "Shark", Category: model.CategoryConsumable,
		BaseValue: 800, MaxStack: 28, Tradeable: true,
		Metadata: datatypes.NewJSONType(model.ItemMetadata{Consumable: &model.ConsumableMeta{HealAmount: 20}}),
	})
	require.NoError(t, err)
}

// The six worked scenarios, run in order against one ledger.
func TestScenarios(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	l := e.l

	// 1. register + generate
	registerShark(t, l)
	item, err := l.World.Generate(ctx, worlditem.GenerateRequest{
		ItemID: "shark", Quantity: 5, Source: "boss_drop", SourceID: "abyssal_demon", PlayerID: "p1",
		Location: model.Location{X: 1, Y: 2, Plane: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, [4]int64{5, 0, 5, 0}, e.supply(t))
	dropped, err := l.World.ListDropped(ctx)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(5), dropped[0].Quantity)

	// 2. pickup
	res, err := l.World.Pickup(ctx, item.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "shark", res.ItemID)
	assert.Equal(t, int64(5), res.Quantity)
	assert.Equal(t, [4]int64{5, 5, 0, 0}, e.supply(t))
	q, err := l.Inventory.QuantityOf(ctx, "p1", "shark")
	require.NoError(t, err)
	assert.Equal(t, int64(5), q)

	// 3. trade
	_, err = l.Trades.Trade(ctx, trade.Request{ItemID: "shark", Quantity: 3, SellerID: "p1", BuyerID: "p2", PricePerItem: 800})
	require.NoError(t, err)
	q1, _ := l.Inventory.QuantityOf(ctx, "p1", "shark")
	q2, _ := l.Inventory.QuantityOf(ctx, "p2", "shark")
	assert.Equal(t, int64(2), q1)
	assert.Equal(t, int64(3), q2)
	assert.Equal(t, [4]int64{5, 5, 0, 0}, e.supply(t))
	trades, err := l.Audit.Trades(ctx, "shark", time.Time{})
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	// 4. second pickup of the same stack
	_, err = l.World.Pickup(ctx, item.ID, "p2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, economy.ErrAlreadyPickedUp) || errors.Is(err, economy.ErrWorldItemNotFound))
	assert.Equal(t, [4]int64{5, 5, 0, 0}, e.supply(t))
	q2, _ = l.Inventory.QuantityOf(ctx, "p2", "shark")
	assert.Equal(t, int64(3), q2)

	// 5. a second drop of 2 left past its deadline
	_, err = l.World.Generate(ctx, worlditem.GenerateRequest{ItemID: "shark", Quantity: 2, Source: "boss_drop", SourceID: "abyssal_demon"})
	require.NoError(t, err)
	assert.Equal(t, [4]int64{7, 5, 2, 0}, e.supply(t))
	e.clock.Advance(2*time.Minute + time.Second)
	require.NoError(t, l.Sweep(ctx))
	assert.Equal(t, [4]int64{7, 5, 0, 2}, e.supply(t), "inWorld -2, destroyed +2, total unaffected")
	destructions, err := l.Audit.Destructions(ctx, "shark")
	require.NoError(t, err)
	require.Len(t, destructions, 1)
	assert.Equal(t, model.DestructionDespawned, destructions[0].Type)

	// 6. overdraft
	_, err = l.Inventory.Debit(ctx, "p1", "shark", 999)
	require.ErrorIs(t, err, economy.ErrInsufficientQuantity)
	q1, _ = l.Inventory.QuantityOf(ctx, "p1", "shark")
	assert.Equal(t, int64(2), q1)

	rec, err := l.Supply.Reconcile(ctx, "shark")
	require.NoError(t, err)
	assert.True(t, rec.Match, "%+v", rec)

	assert.Equal(t, []economy.EventType{
		economy.EventItemGenerated,
		economy.EventItemPickedUp, economy.EventInventoryUpdated,
		economy.EventItemTraded, economy.EventInventoryUpdated, economy.EventInventoryUpdated,
		economy.EventItemGenerated,
		economy.EventItemDespawned,
	}, e.sink.Types())
}

func TestRegister_Idempotent(t *testing.T) {
	e := newEnv(t, nil)
	registerShark(t, e.l)
	registerShark(t, e.l)

	var n int64
	require.NoError(t, e.db.Model(&model.ItemSupply{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, [4]int64{0, 0, 0, 0}, e.supply(t))
}

func TestSweep_Idempotent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	registerShark(t, e.l)
	_, err := e.l.World.Generate(ctx, worlditem.GenerateRequest{ItemID: "shark", Quantity: 3, Source: "skilling"})
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	require.NoError(t, e.l.Sweep(ctx))
	after := e.supply(t)
	require.NoError(t, e.l.Sweep(ctx))
	assert.Equal(t, after, e.supply(t))
	assert.Equal(t, [4]int64{3, 0, 0, 3}, after)
}

func TestStart_SweepsAndArchives(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.SweepInterval = 20 * time.Millisecond
	cfg.Audit.ArchiveDir = t.TempDir()
	e := newEnv(t, cfg)
	ctx := context.Background()
	registerShark(t, e.l)

	_, err := e.l.World.Generate(ctx, worlditem.GenerateRequest{ItemID: "shark", Quantity: 4, Source: "boss_drop", TTL: time.Second})
	require.NoError(t, err)
	e.clock.Advance(2 * time.Second)

	e.l.Start()
	assert.Eventually(t, func() bool {
		var s model.ItemSupply
		err := e.db.Where("item_id = ?", "shark").Take(&s).Error
		return err == nil && s.Destroyed == 4
	}, 3*time.Second, 20*time.Millisecond)
	e.l.Stop(ctx)

	files, err := filepath.Glob(filepath.Join(cfg.Audit.ArchiveDir, "audit-*.jsonl.zst"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	fi, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}

func TestPubSubReceivesEvents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	msgs, cancel, err := ps.Subscribe(context.Background(), notify.Channel(economy.EventItemGenerated))
	require.NoError(t, err)
	defer cancel()

	l, err := ledger.New(ledger.Options{DB: db, Cache: c, PubSub: ps})
	require.NoError(t, err)
	registerShark(t, l)
	_, err = l.World.Generate(context.Background(), worlditem.GenerateRequest{ItemID: "shark", Quantity: 1, Source: "quest_reward"})
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Contains(t, msg.Payload, `"item_id":"shark"`)
	case <-time.After(time.Second):
		t.Fatal("itemGenerated not published")
	}
}

func TestNew_RequiresDB(t *testing.T) {
	_, err := ledger.New(ledger.Options{})
	assert.Error(t, err)
}
