package entitlement

import (
	"fmt"
	"time"
)

// Tier represents the level of premium access a verdict grants
type Tier string

const (
	// TierNone grants nothing; the ad-supported experience applies
	TierNone Tier = "none"
	// TierTimeLimited grants premium access until an expiry timestamp
	TierTimeLimited Tier = "time_limited"
	// TierUnlimited grants perpetual premium access
	TierUnlimited Tier = "unlimited"
)

// IsValid checks if the tier is valid
func (t Tier) IsValid() bool {
	switch t {
	case TierNone, TierTimeLimited, TierUnlimited:
		return true
	default:
		return false
	}
}

// String returns the string representation of the tier
func (t Tier) String() string {
	return string(t)
}

// Source identifies which verdict source produced a verdict
type Source string

const (
	// SourceCache means the verdict was served from the local cache
	SourceCache Source = "cache"
	// SourceLedger means the remote ledger was authoritative
	SourceLedger Source = "ledger"
	// SourceStore means the platform store was consulted as fallback
	SourceStore Source = "store"
	// SourceDefault means no source could answer; the deny-by-default verdict
	SourceDefault Source = "default"
)

// IsValid checks if the source is valid
func (s Source) IsValid() bool {
	switch s {
	case SourceCache, SourceLedger, SourceStore, SourceDefault:
		return true
	default:
		return false
	}
}

// String returns the string representation of the source
func (s Source) String() string {
	return string(s)
}

// Verdict is the point-in-time answer to "is this identity entitled". It is
// an immutable value: reconciliation always produces a whole new verdict and
// never patches fields of an old one. Invariants, enforced by the
// constructors: Entitled implies Tier != none, and Tier == time_limited
// implies ExpiresAt is set and in the future as of AsOf.
type Verdict struct {
	Entitled  bool       `json:"entitled"`
	Tier      Tier       `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	AsOf      time.Time  `json:"as_of"`
	Source    Source     `json:"source"`
}

// NewVerdict creates a positive verdict for the given tier
func NewVerdict(tier Tier, expiresAt *time.Time, source Source, asOf time.Time) (Verdict, error) {
	if !tier.IsValid() || tier == TierNone {
		return Verdict{}, fmt.Errorf("invalid tier for positive verdict: %s", tier)
	}
	if !source.IsValid() {
		return Verdict{}, fmt.Errorf("invalid verdict source: %s", source)
	}
	if tier == TierTimeLimited {
		if expiresAt == nil {
			return Verdict{}, fmt.Errorf("time-limited verdict requires an expiry")
		}
		if !expiresAt.After(asOf) {
			return Verdict{}, fmt.Errorf("time-limited verdict expiry %s is not in the future", expiresAt)
		}
	}
	if tier == TierUnlimited && expiresAt != nil {
		return Verdict{}, fmt.Errorf("unlimited verdict must not carry an expiry")
	}
	return Verdict{
		Entitled:  true,
		Tier:      tier,
		ExpiresAt: expiresAt,
		AsOf:      asOf.UTC(),
		Source:    source,
	}, nil
}

// DeniedVerdict creates the negative verdict for the given source
func DeniedVerdict(source Source, asOf time.Time) Verdict {
	return Verdict{
		Entitled: false,
		Tier:     TierNone,
		AsOf:     asOf.UTC(),
		Source:   source,
	}
}

// WithSource returns a copy of the verdict attributed to another source.
// Used when a cached verdict is re-served: the payload is unchanged but the
// source of truth is the cache, not the source that originally produced it.
func (v Verdict) WithSource(source Source) Verdict {
	v.Source = source
	return v
}

// ExpiredAt reports whether a time-limited verdict has lapsed by now
func (v Verdict) ExpiredAt(now time.Time) bool {
	if v.ExpiresAt == nil {
		return false
	}
	return now.After(*v.ExpiresAt)
}

// Validate performs domain-level validation of the verdict invariants
func (v Verdict) Validate() error {
	if !v.Tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", v.Tier)
	}
	if !v.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", v.Source)
	}
	if v.Entitled && v.Tier == TierNone {
		return fmt.Errorf("entitled verdict cannot carry tier none")
	}
	if !v.Entitled && v.Tier != TierNone {
		return fmt.Errorf("denied verdict cannot carry tier %s", v.Tier)
	}
	if v.Tier == TierTimeLimited && v.ExpiresAt == nil {
		return fmt.Errorf("time-limited verdict requires an expiry")
	}
	return nil
}
