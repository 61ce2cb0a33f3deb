package pricing

import (
	"math"
	"sort"
)

// Features that consume credits.
const (
	FeatureArticle    = "article"
	FeatureImage      = "image"
	FeatureImageHD    = "image_hd"
	FeatureTTS        = "tts"
	FeatureAgent      = "agent"
	FeatureAdCreation = "ad_creation"
	FeatureAdManual   = "ad_manual"
)

// CreditCosts maps each metered feature to its price in credits. TTS is
// charged per TTSCharsPerCredit characters, see CalculateTTSCredits.
var CreditCosts = map[string]int64{
	FeatureArticle:    5,
	FeatureImage:      2,
	FeatureImageHD:    4,
	FeatureTTS:        1,
	FeatureAgent:      3,
	FeatureAdCreation: 5,
	FeatureAdManual:   1,
}

// TTSCharsPerCredit is the number of text-to-speech characters covered by one
// credit.
const TTSCharsPerCredit = 500

// Trial defaults applied when an account is first seen.
const (
	TrialCredits      = 100
	TrialDurationDays = 14
)

// SubscriptionTier is one monthly plan. Prices are in cents. TotalCredits is
// what a cycle actually grants (included + bonus).
type SubscriptionTier struct {
	ID                string `toml:"id" json:"id"`
	Name              string `toml:"name" json:"name"`
	MonthlyPriceCents int64  `toml:"monthly_price_cents" json:"monthly_price_cents"`
	IncludedCredits   int64  `toml:"included_credits" json:"included_credits"`
	BonusCredits      int64  `toml:"bonus_credits" json:"bonus_credits"`
}

// TotalCredits is the full monthly allotment for the tier.
func (t SubscriptionTier) TotalCredits() int64 {
	return t.IncludedCredits + t.BonusCredits
}

// TopOffPack is a one-time credit purchase. Top-off credits never expire.
type TopOffPack struct {
	ID           string `toml:"id" json:"id"`
	Name         string `toml:"name" json:"name"`
	CreditAmount int64  `toml:"credit_amount" json:"credit_amount"`
	PriceCents   int64  `toml:"price_cents" json:"price_cents"`
}

// Catalog is the static, versioned price list. It is immutable at runtime:
// the renewal path treats it as the single source of truth for how many
// credits a plan grants.
type Catalog struct {
	tiers map[string]SubscriptionTier
	packs map[string]TopOffPack
}

// NewCatalog builds a catalog from explicit tier and pack lists.
func NewCatalog(tiers []SubscriptionTier, packs []TopOffPack) *Catalog {
	c := &Catalog{
		tiers: make(map[string]SubscriptionTier, len(tiers)),
		packs: make(map[string]TopOffPack, len(packs)),
	}
	for _, t := range tiers {
		c.tiers[t.ID] = t
	}
	for _, p := range packs {
		c.packs[p.ID] = p
	}
	return c
}

// DefaultCatalog returns the built-in price list.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		[]SubscriptionTier{
			{ID: "starter", Name: "Starter", MonthlyPriceCents: 1900, IncludedCredits: 150, BonusCredits: 25},
			{ID: "growth", Name: "Growth", MonthlyPriceCents: 4900, IncludedCredits: 500, BonusCredits: 75},
			{ID: "professional", Name: "Professional", MonthlyPriceCents: 9900, IncludedCredits: 1200, BonusCredits: 200},
			{ID: "enterprise", Name: "Enterprise", MonthlyPriceCents: 24900, IncludedCredits: 4000, BonusCredits: 500},
		},
		[]TopOffPack{
			{ID: "small", Name: "Small", CreditAmount: 50, PriceCents: 500},
			{ID: "medium", Name: "Medium", CreditAmount: 100, PriceCents: 1000},
			{ID: "large", Name: "Large", CreditAmount: 250, PriceCents: 2000},
			{ID: "bulk", Name: "Bulk", CreditAmount: 500, PriceCents: 3500},
		},
	)
}

// Tiers returns every subscription tier, cheapest first.
func (c *Catalog) Tiers() []SubscriptionTier {
	tiers := make([]SubscriptionTier, 0, len(c.tiers))
	for _, t := range c.tiers {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MonthlyPriceCents < tiers[j].MonthlyPriceCents })
	return tiers
}

// Packs returns every top-off pack, cheapest first.
func (c *Catalog) Packs() []TopOffPack {
	packs := make([]TopOffPack, 0, len(c.packs))
	for _, p := range c.packs {
		packs = append(packs, p)
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].PriceCents < packs[j].PriceCents })
	return packs
}

// TierByID looks up a subscription tier.
func (c *Catalog) TierByID(id string) (SubscriptionTier, bool) {
	t, ok := c.tiers[id]
	return t, ok
}

// PackByID looks up a top-off pack.
func (c *Catalog) PackByID(id string) (TopOffPack, bool) {
	p, ok := c.packs[id]
	return p, ok
}

// SubscriptionCredits returns the monthly allotment for a plan, or 0 for an
// unknown plan.
func (c *Catalog) SubscriptionCredits(planID string) int64 {
	t, ok := c.tiers[planID]
	if !ok {
		return 0
	}
	return t.TotalCredits()
}

// FeatureCost returns the credit price of one use of a feature.
func FeatureCost(feature string) (int64, bool) {
	cost, ok := CreditCosts[feature]
	return cost, ok
}

// CalculateTTSCredits converts a character count into credits, rounding up.
func CalculateTTSCredits(characterCount int) int64 {
	if characterCount <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(characterCount) / float64(TTSCharsPerCredit)))
}
