// Package asset is the canonical instrument registry: low cardinality,
// strongly consistent, backed by Postgres under migration control.
package asset

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies what kind of instrument an asset is.
type Category string

const (
	CategoryStock     Category = "stock"
	CategoryCrypto    Category = "crypto"
	CategoryCommodity Category = "commodity"
	CategoryCurrency  Category = "currency"
)

// Tier is a coarse liquidity/importance classification.
type Tier string

const (
	Tier1 Tier = "TIER1"
	Tier2 Tier = "TIER2"
	Tier3 Tier = "TIER3"
	Tier4 Tier = "TIER4" // default: unclassified
)

// ParseTier parses a tier name, accepting any case.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToUpper(s)); t {
	case Tier1, Tier2, Tier3, Tier4:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier: %s", s)
}

// Asset is one tradable instrument. Ingestion never deletes assets; only
// explicit admin action mutates them after creation.
type Asset struct {
	ID          int64     `json:"id"`
	Ticker      string    `json:"ticker"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Tier        Tier      `json:"tier"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filter selects assets in List queries. Nil/empty fields match everything.
type Filter struct {
	Category Category
	Tier     Tier
	Active   *bool
}
