package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CategoryEquipment  = "equipment"
	CategoryConsumable = "consumable"
	CategoryMaterial   = "material"
	CategoryCurrency   = "currency"
	CategoryMisc       = "misc"
)

// ItemDefinition is a catalog entry. ID is immutable; everything else may be
// updated by re-registration. Definitions are never deleted.
type ItemDefinition struct {
	ID        string                           `gorm:"primaryKey;size:64" json:"id"`
	Name      string                           `gorm:"size:128;not null" json:"name"`
	Category  string                           `gorm:"size:32;index:idx_item_category" json:"category"`
	Rarity    string                           `gorm:"size:32" json:"rarity"`
	BaseValue int64                            `gorm:"not null" json:"base_value"`
	MaxStack  int                              `gorm:"not null" json:"max_stack"`
	Tradeable bool                             `gorm:"not null" json:"tradeable"`
	Metadata  datatypes.JSONType[ItemMetadata] `json:"metadata"`
	CreatedAt time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemMetadata is a tagged variant: at most one member is set and it must
// match the definition's category.
type ItemMetadata struct {
	Equipment  *EquipmentMeta  `json:"equipment,omitempty" yaml:"equipment,omitempty"`
	Consumable *ConsumableMeta `json:"consumable,omitempty" yaml:"consumable,omitempty"`
	Material   *MaterialMeta   `json:"material,omitempty" yaml:"material,omitempty"`
	Currency   *CurrencyMeta   `json:"currency,omitempty" yaml:"currency,omitempty"`
}

type EquipmentMeta struct {
	Slot             string `json:"slot" yaml:"slot"`
	AttackBonus      int    `json:"attack_bonus,omitempty" yaml:"attack_bonus,omitempty"`
	DefenceBonus     int    `json:"defence_bonus,omitempty" yaml:"defence_bonus,omitempty"`
	LevelRequirement int    `json:"level_requirement,omitempty" yaml:"level_requirement,omitempty"`
}

type ConsumableMeta struct {
	HealAmount int    `json:"heal_amount,omitempty" yaml:"heal_amount,omitempty"`
	Effect     string `json:"effect,omitempty" yaml:"effect,omitempty"`
	Doses      int    `json:"doses,omitempty" yaml:"doses,omitempty"`
}

type MaterialMeta struct {
	Tier  int    `json:"tier,omitempty" yaml:"tier,omitempty"`
	Skill string `json:"skill,omitempty" yaml:"skill,omitempty"`
}

type CurrencyMeta struct {
	Symbol string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
}

// Variants returns the categories whose metadata member is populated.
func (m ItemMetadata) Variants() []string {
	var out []string
	if m.Equipment != nil {
		out = append(out, CategoryEquipment)
	}
	if m.Consumable != nil {
		out = append(out, CategoryConsumable)
	}
	if m.Material != nil {
		out = append(out, CategoryMaterial)
	}
	if m.Currency != nil {
		out = append(out, CategoryCurrency)
	}
	return out
}
