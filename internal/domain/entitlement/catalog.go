package entitlement

import (
	"fmt"
	"time"
)

// ProductCatalog maps platform product identifiers to the tier they grant.
// Which products count as entitlement-granting is policy, loaded from
// configuration, not a fixed contract.
type ProductCatalog struct {
	tiers map[string]Tier
}

// NewProductCatalog builds a catalog from product ID to tier assignments
func NewProductCatalog(products map[string]Tier) (*ProductCatalog, error) {
	tiers := make(map[string]Tier, len(products))
	for id, tier := range products {
		if id == "" {
			return nil, fmt.Errorf("product ID cannot be empty")
		}
		if !tier.IsValid() || tier == TierNone {
			return nil, fmt.Errorf("product %s has invalid tier %q", id, tier)
		}
		tiers[id] = tier
	}
	return &ProductCatalog{tiers: tiers}, nil
}

// TierFor returns the tier a product grants, if the product is recognized
func (c *ProductCatalog) TierFor(productID string) (Tier, bool) {
	tier, ok := c.tiers[productID]
	return tier, ok
}

// Recognizes reports whether the product is entitlement-granting
func (c *ProductCatalog) Recognizes(productID string) bool {
	_, ok := c.tiers[productID]
	return ok
}

// VerdictFromRecord derives a verdict from a ledger record. An inactive,
// expired, or unrecognized record yields the negative ledger verdict.
func (c *ProductCatalog) VerdictFromRecord(record *LedgerRecord, now time.Time) Verdict {
	if !record.IsActiveAt(now) {
		return DeniedVerdict(SourceLedger, now)
	}
	tier, ok := c.TierFor(record.ProductID)
	if !ok {
		return DeniedVerdict(SourceLedger, now)
	}
	v, err := NewVerdict(tier, record.ExpiresAt, SourceLedger, now)
	if err != nil {
		// A recognized product whose record shape violates the tier (e.g. a
		// time-limited product with no expiry) cannot produce a positive verdict.
		return DeniedVerdict(SourceLedger, now)
	}
	return v
}

// VerdictFromTransaction derives a verdict from a platform transaction
func (c *ProductCatalog) VerdictFromTransaction(tx Transaction, now time.Time) Verdict {
	if !tx.ActiveAt(now) {
		return DeniedVerdict(SourceStore, now)
	}
	tier, ok := c.TierFor(tx.ProductID)
	if !ok {
		return DeniedVerdict(SourceStore, now)
	}
	v, err := NewVerdict(tier, tx.ExpiresAt, SourceStore, now)
	if err != nil {
		return DeniedVerdict(SourceStore, now)
	}
	return v
}

// BestTransaction picks the transaction granting the most access: unlimited
// beats time-limited, later expiry beats earlier. Returns nil when no
// transaction is active and recognized.
func (c *ProductCatalog) BestTransaction(txs []Transaction, now time.Time) *Transaction {
	var best *Transaction
	var bestTier Tier
	for i := range txs {
		tx := txs[i]
		if !tx.ActiveAt(now) {
			continue
		}
		tier, ok := c.TierFor(tx.ProductID)
		if !ok {
			continue
		}
		if best == nil || tierRank(tier) > tierRank(bestTier) ||
			(tier == bestTier && laterExpiry(tx.ExpiresAt, best.ExpiresAt)) {
			best = &txs[i]
			bestTier = tier
		}
	}
	return best
}

func tierRank(t Tier) int {
	switch t {
	case TierUnlimited:
		return 2
	case TierTimeLimited:
		return 1
	default:
		return 0
	}
}

func laterExpiry(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.After(*b)
}
