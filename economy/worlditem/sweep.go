package worlditem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
)

// DespawnSweep despawns every dropped stack whose deadline is at or before
// now and returns how many it despawned. Each stack is handled in its own
// transaction; failures are logged and joined into the returned error
// without stopping the pass. Running it twice for the same now is a no-op
// the second time.
func (s *Store) DespawnSweep(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx, sweepLockKey)
		switch {
		case err != nil:
			s.logger.Warn("despawn sweep lock unavailable, sweeping anyway", zap.Error(err))
		case !ok:
			s.logger.Debug("despawn sweep already running elsewhere")
			return 0, nil
		default:
			defer release()
		}
	}

	var (
		count  int
		errs   []error
		failed []string
	)
	for {
		q := s.db.WithContext(ctx).Model(&model.WorldItem{}).
			Where("state = ? AND despawn_at <= ?", model.WorldItemDropped, now)
		if len(failed) > 0 {
			q = q.Where("id NOT IN ?", failed)
		}
		var ids []string
		if err := q.Order("despawn_at, id").Limit(s.cfg.BatchSize).Pluck("id", &ids).Error; err != nil {
			errs = append(errs, fmt.Errorf("worlditem: sweep select: %w", err))
			break
		}

		for _, id := range ids {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					errs = append(errs, err)
					return count, errors.Join(errs...)
				}
			}
			done, err := s.despawn(ctx, id, now)
			if err != nil {
				s.logger.Error("despawn failed", zap.String("world_item_id", id), zap.Error(err))
				errs = append(errs, err)
				failed = append(failed, id)
				continue
			}
			if done {
				count++
			}
		}
		if len(ids) < s.cfg.BatchSize {
			break
		}
	}

	if count > 0 {
		s.logger.Info("despawn sweep finished", zap.Int("despawned", count), zap.Int("failed", len(failed)))
	}
	return count, errors.Join(errs...)
}

// despawn resolves one stack. It reports false when the stack was already
// resolved by a concurrent pickup or sweep.
func (s *Store) despawn(ctx context.Context, id string, now time.Time) (bool, error) {
	done := false
	err := economy.RunTx(ctx, s.db, now, func(tx *economy.Tx) error {
		res := tx.DB.Model(&model.WorldItem{}).
			Where("id = ? AND state = ? AND despawn_at <= ?", id, model.WorldItemDropped, now).
			Updates(map[string]interface{}{
				"state":       model.WorldItemDespawned,
				"resolved_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("worlditem: despawn %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		item, err := get(tx.DB, id)
		if err != nil {
			return err
		}
		if _, err := s.supply.ApplyDelta(tx, item.ItemID, economy.DespawnDelta(item.Quantity)); err != nil {
			return err
		}
		if err := s.audit.RecordDestruction(tx, &model.DestructionRecord{
			ItemID:      item.ItemID,
			Quantity:    item.Quantity,
			Type:        model.DestructionDespawned,
			WorldItemID: item.ID,
		}); err != nil {
			return err
		}
		loc := item.Location
		tx.Emit(s.sink, economy.Event{
			Type:        economy.EventItemDespawned,
			ItemID:      item.ItemID,
			Quantity:    item.Quantity,
			WorldItemID: item.ID,
			Location:    &loc,
		})
		done = true
		return nil
	})
	return done, err
}
