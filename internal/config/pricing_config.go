package config

import (
	"fmt"

	"newsroomledger/internal/pricing"

	"github.com/BurntSushi/toml"
)

// PricingFile is the on-disk shape of a pricing catalog override. The file is
// optional; when absent the built-in defaults apply.
type PricingFile struct {
	Tiers []pricing.SubscriptionTier `toml:"tiers"`
	Packs []pricing.TopOffPack       `toml:"packs"`
}

// LoadPricingCatalog loads a catalog from a TOML file.
func LoadPricingCatalog(filename string) (*pricing.Catalog, error) {
	var file PricingFile
	if _, err := toml.DecodeFile(filename, &file); err != nil {
		return nil, fmt.Errorf("failed to load pricing file: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("pricing file %s defines no tiers", filename)
	}
	return pricing.NewCatalog(file.Tiers, file.Packs), nil
}
