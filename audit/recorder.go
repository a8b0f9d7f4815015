// Package audit appends the generation, trade and destruction records that
// explain every change to an item's supply, and optionally streams them to a
// compressed archive once committed.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/model"
	"gorm.io/gorm"
)

// Record kinds as they appear in the archive.
const (
	KindGeneration  = "generation"
	KindTrade       = "trade"
	KindDestruction = "destruction"
)

// Recorder writes audit rows inside ledger transactions. Records are never
// updated or deleted.
type Recorder struct {
	db      *gorm.DB
	archive *Archive
}

// NewRecorder creates a Recorder. archive may be nil.
func NewRecorder(db *gorm.DB, archive *Archive) *Recorder {
	return &Recorder{db: db, archive: archive}
}

func (r *Recorder) append(tx *economy.Tx, kind string, rec interface{}) {
	if r.archive == nil {
		return
	}
	at := tx.Now
	tx.AfterCommit(func() {
		r.archive.Enqueue(Entry{Kind: kind, At: at, Record: rec})
	})
}

func (r *Recorder) RecordGeneration(tx *economy.Tx, rec *model.GenerationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = tx.Now
	}
	if err := tx.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("audit: generation %s: %w", rec.ItemID, err)
	}
	r.append(tx, KindGeneration, rec)
	return nil
}

func (r *Recorder) RecordTrade(tx *economy.Tx, rec *model.TradeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = tx.Now
	}
	if err := tx.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("audit: trade %s: %w", rec.ItemID, err)
	}
	r.append(tx, KindTrade, rec)
	return nil
}

func (r *Recorder) RecordDestruction(tx *economy.Tx, rec *model.DestructionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = tx.Now
	}
	if err := tx.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("audit: destruction %s: %w", rec.ItemID, err)
	}
	r.append(tx, KindDestruction, rec)
	return nil
}

// Generations lists the generation records of itemID, oldest first.
func (r *Recorder) Generations(ctx context.Context, itemID string) ([]model.GenerationRecord, error) {
	var out []model.GenerationRecord
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("id").Find(&out).Error
	return out, err
}

// Trades lists the trade records of itemID created at or after since.
func (r *Recorder) Trades(ctx context.Context, itemID string, since time.Time) ([]model.TradeRecord, error) {
	var out []model.TradeRecord
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND created_at >= ?", itemID, since).
		Order("id").Find(&out).Error
	return out, err
}

// Destructions lists the destruction records of itemID, oldest first.
func (r *Recorder) Destructions(ctx context.Context, itemID string) ([]model.DestructionRecord, error) {
	var out []model.DestructionRecord
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("id").Find(&out).Error
	return out, err
}
