package registry

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kasuganosora/itemledger/model"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

//go:embed catalog.schema.json
var catalogSchemaSrc string

var catalogSchema = jsonschema.MustCompileString("catalog.schema.json", catalogSchemaSrc)

// Catalog is the YAML file format used to seed the registry.
type Catalog struct {
	Items []CatalogItem `yaml:"items"`
}

type CatalogItem struct {
	ID        string             `yaml:"id"`
	Name      string             `yaml:"name"`
	Category  string             `yaml:"category"`
	Rarity    string             `yaml:"rarity"`
	BaseValue int64              `yaml:"base_value"`
	MaxStack  int                `yaml:"max_stack"`
	Tradeable *bool              `yaml:"tradeable"` // defaults to true
	Metadata  model.ItemMetadata `yaml:"metadata"`
}

// Definition converts the catalog entry into a registry definition.
func (c CatalogItem) Definition() model.ItemDefinition {
	tradeable := true
	if c.Tradeable != nil {
		tradeable = *c.Tradeable
	}
	return model.ItemDefinition{
		ID:        c.ID,
		Name:      c.Name,
		Category:  c.Category,
		Rarity:    c.Rarity,
		BaseValue: c.BaseValue,
		MaxStack:  c.MaxStack,
		Tradeable: tradeable,
		Metadata:  datatypes.NewJSONType(c.Metadata),
	}
}

// ParseCatalog validates raw YAML against the catalog schema and decodes it.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	// The validator expects encoding/json value types.
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	var inst interface{}
	if err := json.Unmarshal(js, &inst); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := catalogSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	seen := make(map[string]bool, len(cat.Items))
	for _, it := range cat.Items {
		if seen[it.ID] {
			return nil, fmt.Errorf("catalog: duplicate item id %q", it.ID)
		}
		seen[it.ID] = true
	}
	return &cat, nil
}

// LoadCatalog registers every item in the YAML file at path and returns how
// many were new.
func (r *Registry) LoadCatalog(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	cat, err := ParseCatalog(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	created := 0
	for _, it := range cat.Items {
		isNew, err := r.Register(ctx, it.Definition())
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	r.logger.Info("item catalog loaded",
		zap.String("path", path),
		zap.Int("items", len(cat.Items)),
		zap.Int("new", created))
	return created, nil
}
