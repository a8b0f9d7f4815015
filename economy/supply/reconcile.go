package supply

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/model"
	"gorm.io/gorm"
)

// Reconciliation compares a stored supply row against the figures derived
// from inventories, world items and the audit records.
type Reconciliation struct {
	ItemID   string           `json:"item_id"`
	Stored   model.ItemSupply `json:"stored"`
	Computed model.ItemSupply `json:"computed"`
	Match    bool             `json:"match"`
}

// Reconcile recomputes the supply of itemID from source rows. It never writes.
func (l *Ledger) Reconcile(ctx context.Context, itemID string) (*Reconciliation, error) {
	db := l.db.WithContext(ctx)
	var stored model.ItemSupply
	err := db.Where("item_id = ?", itemID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", economy.ErrItemNotRegistered, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("supply: reconcile %s: %w", itemID, err)
	}

	computed := model.ItemSupply{ItemID: itemID}
	sums := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&computed.Total, db.Model(&model.GenerationRecord{}).Where("item_id = ?", itemID)},
		{&computed.InCirculation, db.Model(&model.InventoryEntry{}).Where("item_id = ?", itemID)},
		{&computed.InWorld, db.Model(&model.WorldItem{}).Where("item_id = ? AND state = ?", itemID, model.WorldItemDropped)},
		{&computed.Destroyed, db.Model(&model.DestructionRecord{}).Where("item_id = ?", itemID)},
	}
	for _, s := range sums {
		if err := s.query.Select("COALESCE(SUM(quantity), 0)").Scan(s.dst).Error; err != nil {
			return nil, fmt.Errorf("supply: reconcile %s: %w", itemID, err)
		}
	}

	computed.UpdatedAt = stored.UpdatedAt
	return &Reconciliation{
		ItemID:   itemID,
		Stored:   stored,
		Computed: computed,
		Match: stored.Total == computed.Total &&
			stored.InCirculation == computed.InCirculation &&
			stored.InWorld == computed.InWorld &&
			stored.Destroyed == computed.Destroyed,
	}, nil
}
