package entitlement

import (
	"context"
	"time"
)

// Transaction is a read-only view of a platform store transaction. The client
// observes it but never owns it; the platform billing subsystem is
// authoritative for "a purchase happened" while staying blind to server-side
// revocation.
type Transaction struct {
	ProductID     string     `json:"product_id"`
	TransactionID string     `json:"transaction_id"`
	PurchasedAt   time.Time  `json:"purchased_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // nil means perpetual
}

// ActiveAt reports whether the transaction still grants access at the given time
func (t Transaction) ActiveAt(now time.Time) bool {
	if t.ExpiresAt == nil {
		return true
	}
	return now.Before(*t.ExpiresAt)
}

// StoreClient is the narrow port to the platform billing subsystem.
// Implementations apply a single-attempt-with-timeout contract per call; the
// reconciler treats errors as the source being unreachable and never retries.
type StoreClient interface {
	// ActiveTransactions returns the subject's current transactions. An empty
	// slice means the store confirmed zero transactions, which is treated
	// differently from an error under the failure-asymmetry policy.
	ActiveTransactions(ctx context.Context, subjectKey string) ([]Transaction, error)
	// Purchase initiates a purchase flow for a product and returns the
	// resulting transaction once the platform confirms it.
	Purchase(ctx context.Context, subjectKey string, productID string) (*Transaction, error)
	// Restore replays the subject's historical purchases from the platform.
	Restore(ctx context.Context, subjectKey string) ([]Transaction, error)
}
