package worlditem_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/itemledger/audit"
	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/inventory"
	"github.com/kasuganosora/itemledger/economy/supply"
	"github.com/kasuganosora/itemledger/economy/worlditem"
	"github.com/kasuganosora/itemledger/model"
	"github.com/kasuganosora/itemledger/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	store  *worlditem.Store
	sink   *testutil.EventRecorder
	locker *cache.Locker
	now    atomic.Pointer[time.Time]
}

func (f *fixture) setNow(t time.Time) { f.now.Store(&t) }

func newFixture(t *testing.T, cfg worlditem.Config) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	testutil.SeedItem(t, db, "shark", true)

	f := &fixture{db: db, sink: &testutil.EventRecorder{}, locker: cache.NewLocker(c, time.Second, 100*time.Millisecond)}
	f.setNow(t0)
	f.store = worlditem.New(db, supply.New(db, c, 0, zap.NewNop()), audit.NewRecorder(db, nil), f.locker, f.sink, cfg, zap.NewNop()).
		WithClock(func() time.Time { return *f.now.Load() })
	return f
}

func (f *fixture) generate(t *testing.T, q int64) *model.WorldItem {
	t.Helper()
	item, err := f.store.Generate(context.Background(), worlditem.GenerateRequest{
		ItemID: "shark", Quantity: q, Source: "boss_drop", SourceID: "abyssal_demon", PlayerID: "p1",
		Location: model.Location{X: 1, Y: 2, Plane: 0},
	})
	require.NoError(t, err)
	return item
}

func holding(t *testing.T, db *gorm.DB, player string) int64 {
	t.Helper()
	var q int64
	require.NoError(t, db.Model(&model.InventoryEntry{}).
		Where("player_id = ? AND item_id = ?", player, "shark").
		Select("COALESCE(SUM(quantity), 0)").Scan(&q).Error)
	return q
}

func parts(s model.ItemSupply) [4]int64 {
	return [4]int64{s.Total, s.InCirculation, s.InWorld, s.Destroyed}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	item, err := f.store.Generate(context.Background(), worlditem.GenerateRequest{
		ItemID: "shark", Quantity: 5, Source: "boss_drop", SourceID: "abyssal_demon", PlayerID: "p1",
		AlgorithmSnapshot: map[string]interface{}{"table": "abyssal_demon", "rolls": 1},
		RNGValues:         []float64{0.42},
		Location:          model.Location{X: 1, Y: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, model.WorldItemDropped, item.State)
	assert.Equal(t, model.OriginGenerated, item.Origin)
	assert.Equal(t, t0.Add(2*time.Minute), item.DespawnAt)
	assert.Equal(t, [4]int64{5, 0, 5, 0}, parts(testutil.Supply(t, f.db, "shark")))

	var gen model.GenerationRecord
	require.NoError(t, f.db.Take(&gen).Error)
	assert.Equal(t, item.ID, gen.WorldItemID)
	assert.JSONEq(t, `{"table":"abyssal_demon","rolls":1}`, string(gen.AlgorithmSnapshot))
	assert.Equal(t, []float64{0.42}, []float64(gen.RNGValues))

	evs := f.sink.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, economy.EventItemGenerated, evs[0].Type)
	require.NotNil(t, evs[0].Location)
	assert.Equal(t, 2, evs[0].Location.Y)
}

func TestGenerate_Rejects(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	ctx := context.Background()

	_, err := f.store.Generate(ctx, worlditem.GenerateRequest{ItemID: "dragon_claws", Quantity: 1, Source: "x"})
	assert.ErrorIs(t, err, economy.ErrItemNotRegistered)
	_, err = f.store.Generate(ctx, worlditem.GenerateRequest{ItemID: "shark", Quantity: 0, Source: "x"})
	assert.ErrorIs(t, err, economy.ErrInvalidQuantity)
	_, err = f.store.Generate(ctx, worlditem.GenerateRequest{ItemID: "shark", Quantity: 1})
	assert.ErrorIs(t, err, economy.ErrInvalidRequest)

	assert.Equal(t, [4]int64{0, 0, 0, 0}, parts(testutil.Supply(t, f.db, "shark")))
	assert.Empty(t, f.sink.Events())
}

func TestPickup(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	item := f.generate(t, 5)

	res, err := f.store.Pickup(context.Background(), item.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "shark", res.ItemID)
	assert.Equal(t, int64(5), res.Quantity)
	assert.Equal(t, int64(5), res.Holding)

	assert.Equal(t, [4]int64{5, 5, 0, 0}, parts(testutil.Supply(t, f.db, "shark")))
	assert.Equal(t, int64(5), holding(t, f.db, "p1"))

	got, err := f.store.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorldItemPickedUp, got.State)
	assert.Equal(t, "p1", got.PickedUpBy)
	require.NotNil(t, got.ResolvedAt)

	_, err = f.store.Pickup(context.Background(), item.ID, "p2")
	assert.ErrorIs(t, err, economy.ErrAlreadyPickedUp)
	assert.Equal(t, [4]int64{5, 5, 0, 0}, parts(testutil.Supply(t, f.db, "shark")))
	assert.Zero(t, holding(t, f.db, "p2"))

	assert.Equal(t, []economy.EventType{
		economy.EventItemGenerated, economy.EventItemPickedUp, economy.EventInventoryUpdated,
	}, f.sink.Types())
}

func TestPickup_UnknownAndExpired(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	_, err := f.store.Pickup(context.Background(), "no-such-id", "p1")
	assert.ErrorIs(t, err, economy.ErrWorldItemNotFound)

	item := f.generate(t, 2)
	f.setNow(t0.Add(2 * time.Minute))
	_, err = f.store.Pickup(context.Background(), item.ID, "p1")
	assert.ErrorIs(t, err, economy.ErrWorldItemNotFound, "past the deadline counts as gone")
	assert.Equal(t, [4]int64{2, 0, 2, 0}, parts(testutil.Supply(t, f.db, "shark")))
}

func TestPickup_RequiresPlayer(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	item := f.generate(t, 3)

	_, err := f.store.Pickup(context.Background(), item.ID, "")
	assert.ErrorIs(t, err, economy.ErrInvalidRequest)
	assert.True(t, economy.IsExpected(err))

	got, err := f.store.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorldItemDropped, got.State)
	assert.Equal(t, [4]int64{3, 0, 3, 0}, parts(testutil.Supply(t, f.db, "shark")))

	var rows int64
	require.NoError(t, f.db.Model(&model.InventoryEntry{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestPickup_ConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	item := f.generate(t, 5)

	var wins, lost atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		player := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}[i]
		g.Go(func() error {
			_, err := f.store.Pickup(context.Background(), item.ID, player)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, economy.ErrAlreadyPickedUp):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), lost.Load())
	assert.Equal(t, [4]int64{5, 5, 0, 0}, parts(testutil.Supply(t, f.db, "shark")))

	var total int64
	require.NoError(t, f.db.Model(&model.InventoryEntry{}).Select("COALESCE(SUM(quantity), 0)").Scan(&total).Error)
	assert.Equal(t, int64(5), total)
}

func TestPickupVersusSweep_OneWinner(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	item := f.generate(t, 3)
	// The pickup clock is still before the deadline while the sweep runs
	// with a time past it, so both transitions are eligible.
	sweepAt := t0.Add(3 * time.Minute)

	var g errgroup.Group
	var picked atomic.Bool
	var swept atomic.Int32
	g.Go(func() error {
		_, err := f.store.Pickup(context.Background(), item.ID, "p1")
		if err == nil {
			picked.Store(true)
			return nil
		}
		if errors.Is(err, economy.ErrWorldItemNotFound) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		n, err := f.store.DespawnSweep(context.Background(), sweepAt)
		swept.Add(int32(n))
		return err
	})
	require.NoError(t, g.Wait())

	s := testutil.Supply(t, f.db, "shark")
	if picked.Load() {
		assert.Zero(t, swept.Load())
		assert.Equal(t, [4]int64{3, 3, 0, 0}, parts(s))
	} else {
		assert.Equal(t, int32(1), swept.Load())
		assert.Equal(t, [4]int64{3, 0, 0, 3}, parts(s))
	}
}

func TestDespawnSweep(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	ctx := context.Background()
	old := f.generate(t, 2)
	f.setNow(t0.Add(time.Minute))
	fresh := f.generate(t, 1)

	n, err := f.store.DespawnSweep(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [4]int64{3, 0, 1, 2}, parts(testutil.Supply(t, f.db, "shark")))

	got, err := f.store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorldItemDespawned, got.State)

	var recs []model.DestructionRecord
	require.NoError(t, f.db.Find(&recs).Error)
	require.Len(t, recs, 1)
	assert.Equal(t, model.DestructionDespawned, recs[0].Type)
	assert.Equal(t, old.ID, recs[0].WorldItemID)

	// Same now again: nothing left to do.
	n, err = f.store.DespawnSweep(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	dropped, err := f.store.ListDropped(ctx)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, fresh.ID, dropped[0].ID)

	_, err = f.store.Pickup(ctx, old.ID, "p1")
	assert.ErrorIs(t, err, economy.ErrWorldItemNotFound)
}

func TestDespawnSweep_RowFailureDoesNotStopPass(t *testing.T) {
	f := newFixture(t, worlditem.Config{BatchSize: 2})
	ctx := context.Background()
	testutil.SeedItem(t, f.db, "bones", true)

	first := f.generate(t, 2)
	bones, err := f.store.Generate(ctx, worlditem.GenerateRequest{ItemID: "bones", Quantity: 3, Source: "boss_drop"})
	require.NoError(t, err)
	last := f.generate(t, 1)

	// A supply row that no longer accounts for the stack on the ground.
	require.NoError(t, f.db.Model(&model.ItemSupply{}).Where("item_id = ?", "bones").
		Updates(map[string]interface{}{"total": 0, "in_world": 0}).Error)

	n, err := f.store.DespawnSweep(ctx, t0.Add(time.Hour))
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, economy.ErrInvariantViolation)

	for _, id := range []string{first.ID, last.ID} {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.WorldItemDespawned, got.State)
	}
	got, err := f.store.Get(ctx, bones.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorldItemDropped, got.State)
	assert.Equal(t, [4]int64{3, 0, 0, 3}, parts(testutil.Supply(t, f.db, "shark")))

	var recs int64
	require.NoError(t, f.db.Model(&model.DestructionRecord{}).Where("item_id = ?", "bones").Count(&recs).Error)
	assert.Zero(t, recs)
}

func TestDespawnSweep_Batches(t *testing.T) {
	f := newFixture(t, worlditem.Config{BatchSize: 2, RowsPerSecond: 1000})
	for i := 0; i < 5; i++ {
		f.generate(t, 1)
	}
	n, err := f.store.DespawnSweep(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, [4]int64{5, 0, 0, 5}, parts(testutil.Supply(t, f.db, "shark")))
}

func TestDespawnSweep_SkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	f.generate(t, 1)

	release, ok, err := f.locker.TryAcquire(context.Background(), "lock:despawn_sweep")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := f.store.DespawnSweep(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	release()
	n, err = f.store.DespawnSweep(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrop(t *testing.T) {
	f := newFixture(t, worlditem.Config{DespawnTTL: time.Minute})
	ctx := context.Background()
	item := f.generate(t, 5)
	_, err := f.store.Pickup(ctx, item.ID, "p1")
	require.NoError(t, err)

	dropped, err := f.store.Drop(ctx, worlditem.DropRequest{ItemID: "shark", Quantity: 2, DroppedBy: "p1", Location: model.Location{X: 9}})
	require.NoError(t, err)
	assert.Equal(t, model.OriginPlayerDrop, dropped.Origin)
	assert.Equal(t, t0.Add(time.Minute), dropped.DespawnAt)
	assert.Equal(t, [4]int64{5, 3, 2, 0}, parts(testutil.Supply(t, f.db, "shark")))
	assert.Equal(t, int64(3), holding(t, f.db, "p1"))

	_, err = f.store.Drop(ctx, worlditem.DropRequest{ItemID: "shark", Quantity: 10, DroppedBy: "p1"})
	assert.ErrorIs(t, err, economy.ErrInsufficientQuantity)
	assert.Equal(t, [4]int64{5, 3, 2, 0}, parts(testutil.Supply(t, f.db, "shark")))

	res, err := f.store.Pickup(ctx, dropped.ID, "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Quantity)
	assert.Equal(t, [4]int64{5, 5, 0, 0}, parts(testutil.Supply(t, f.db, "shark")))
}

func TestDrop_RequiresPlayer(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	_, err := f.store.Drop(context.Background(), worlditem.DropRequest{ItemID: "shark", Quantity: 1})
	assert.ErrorIs(t, err, economy.ErrInvalidRequest)

	var rows int64
	require.NoError(t, f.db.Model(&model.WorldItem{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestDrop_ThenDespawnDestroys(t *testing.T) {
	f := newFixture(t, worlditem.Config{})
	ctx := context.Background()
	// Credit directly, as a pickup would have.
	require.NoError(t, economy.RunTx(ctx, f.db, t0, func(tx *economy.Tx) error {
		if err := tx.DB.Model(&model.ItemSupply{}).Where("item_id = ?", "shark").
			Updates(map[string]interface{}{"total": 4, "in_circulation": 4}).Error; err != nil {
			return err
		}
		_, err := inventory.CreditTx(tx, "p1", "shark", 4, "pickup")
		return err
	}))
	_, err := f.store.Drop(ctx, worlditem.DropRequest{ItemID: "shark", Quantity: 4, DroppedBy: "p1"})
	require.NoError(t, err)

	n, err := f.store.DespawnSweep(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [4]int64{4, 0, 0, 4}, parts(testutil.Supply(t, f.db, "shark")))
}
