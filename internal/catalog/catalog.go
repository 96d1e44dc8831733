// Package catalog maintains the set of usable upstream models, classified
// into capability tiers. The remote catalog is fetched at most once per TTL
// window; fetch failures fall back to the previous catalog or a static table
// so that selection always has something to work with.
package catalog

// Tier is a coarse capability/speed class assigned to a model.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierHeavy    Tier = "heavy"
	TierCode     Tier = "code"
)

// CanonicalTiers is the fixed tier order used when filling out a candidate
// list beyond the policy's preferred tiers.
var CanonicalTiers = []Tier{TierFast, TierBalanced, TierHeavy, TierCode}

// Descriptor describes one usable upstream model. Immutable once classified.
type Descriptor struct {
	ID     string
	Tier   Tier
	IsFree bool
}

// Catalog maps tiers to ordered model ids. Every id appears in at most one
// tier. Catalogs are rebuilt wholesale on refresh, never mutated in place.
type Catalog struct {
	byTier map[Tier][]string
}

// NewCatalog builds a catalog from classified descriptors, preserving input
// order within each tier.
func NewCatalog(models []Descriptor) *Catalog {
	byTier := make(map[Tier][]string, len(CanonicalTiers))
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		byTier[m.Tier] = append(byTier[m.Tier], m.ID)
	}
	return &Catalog{byTier: byTier}
}

// ByTier returns the model ids in the given tier, in catalog order.
func (c *Catalog) ByTier(tier Tier) []string {
	return c.byTier[tier]
}

// All returns every model id in canonical tier order.
func (c *Catalog) All() []string {
	var out []string
	for _, tier := range CanonicalTiers {
		out = append(out, c.byTier[tier]...)
	}
	return out
}

// TierOf returns the tier containing id, or TierBalanced if unknown.
func (c *Catalog) TierOf(id string) Tier {
	for _, tier := range CanonicalTiers {
		for _, m := range c.byTier[tier] {
			if m == id {
				return tier
			}
		}
	}
	return TierBalanced
}

// Size returns the total number of models.
func (c *Catalog) Size() int {
	n := 0
	for _, ids := range c.byTier {
		n += len(ids)
	}
	return n
}
