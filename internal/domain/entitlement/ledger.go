package entitlement

import (
	"context"
	"time"
)

// NotificationType is the last platform billing notification the ledger saw
// for a record. Server-side webhook processors set it; the client only reads
// it, except for the synthetic types written by write-back and revocation.
type NotificationType string

const (
	// NotificationRenewal records a platform renewal callback
	NotificationRenewal NotificationType = "renewal"
	// NotificationCancellation records a platform cancellation callback
	NotificationCancellation NotificationType = "cancellation"
	// NotificationRefund records a platform refund callback
	NotificationRefund NotificationType = "refund"
	// NotificationGrant records a purchase discovered on-device and pushed to
	// the ledger before the server-side callback landed (write-back)
	NotificationGrant NotificationType = "grant"
	// NotificationRevocation records an explicit user-initiated revocation
	NotificationRevocation NotificationType = "revocation"
)

// IsValid checks if the notification type is valid. Empty is valid: a record
// created before any callback arrived has no notification.
func (n NotificationType) IsValid() bool {
	switch n {
	case "", NotificationRenewal, NotificationCancellation, NotificationRefund,
		NotificationGrant, NotificationRevocation:
		return true
	default:
		return false
	}
}

// String returns the string representation of the notification type
func (n NotificationType) String() string {
	return string(n)
}

// LedgerRecord is the server-side purchase record for one identity: the most
// recent known purchase derived from verified platform transactions. The
// backend owns it; the client reads it as authoritative and writes it only to
// self-heal (write-back of an unreported purchase) or to revoke.
type LedgerRecord struct {
	ProductID        string
	PurchasedAt      time.Time
	ExpiresAt        *time.Time // nil means perpetual
	Active           bool
	LastNotification NotificationType
	Metadata         map[string]any
	UpdatedAt        time.Time
}

// IsActiveAt reports whether the record grants entitlement at the given time
func (r *LedgerRecord) IsActiveAt(now time.Time) bool {
	if r == nil || !r.Active {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}

// LedgerRepository is the narrow port to the backend purchase ledger.
// Implementations apply their own per-call timeout; callers treat any error
// as the source being unreachable.
type LedgerRepository interface {
	// GetBySubject returns the ledger record for a subject key, or (nil, nil)
	// when the ledger confirmed that no record exists.
	GetBySubject(ctx context.Context, subjectKey string) (*LedgerRecord, error)
	// Upsert creates or replaces the subject's ledger record as a whole.
	Upsert(ctx context.Context, subjectKey string, record *LedgerRecord) error
}
