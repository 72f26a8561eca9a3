// Package entitlement provides domain models and business logic for premium
// entitlement reconciliation. It defines the identities entitlement is tracked
// for, the verdict value produced by reconciliation, and the ports to the
// three verdict sources: local cache, remote ledger, and platform store.
package entitlement

import (
	"fmt"
	"strings"
)

// IdentityKind represents the kind of identity a session is bound to
type IdentityKind string

const (
	// IdentityKindGuest is a device-scoped identity with no durable account key.
	// Guest identities may read and write the local verdict cache but never
	// write to the remote ledger.
	IdentityKindGuest IdentityKind = "guest"
	// IdentityKindUser is an authenticated account identity
	IdentityKindUser IdentityKind = "user"
)

// IsValid checks if the identity kind is valid
func (k IdentityKind) IsValid() bool {
	switch k {
	case IdentityKindGuest, IdentityKindUser:
		return true
	default:
		return false
	}
}

// String returns the string representation of the identity kind
func (k IdentityKind) String() string {
	return string(k)
}

// Identity is the subject entitlement is tracked for. The zero value means
// "no session". An identity is a value: switching identities replaces the
// whole value, and any verdict bound to the previous identity is invalid for
// the new one.
type Identity struct {
	kind IdentityKind
	id   string
}

// GuestIdentity creates a guest identity from a device-local identifier
func GuestIdentity(localID string) (Identity, error) {
	if localID == "" {
		return Identity{}, fmt.Errorf("guest local ID is required")
	}
	return Identity{kind: IdentityKindGuest, id: localID}, nil
}

// UserIdentity creates an authenticated identity from an account user ID
func UserIdentity(userID string) (Identity, error) {
	if userID == "" {
		return Identity{}, fmt.Errorf("user ID is required")
	}
	return Identity{kind: IdentityKindUser, id: userID}, nil
}

// IdentityFromKey parses a subject key produced by Key back into an
// identity. Used by consumers of entitlement change events, which carry only
// the subject key.
func IdentityFromKey(key string) (Identity, error) {
	kindStr, id, found := strings.Cut(key, ":")
	if !found || id == "" {
		return Identity{}, fmt.Errorf("malformed subject key %q", key)
	}
	kind := IdentityKind(kindStr)
	if !kind.IsValid() {
		return Identity{}, fmt.Errorf("unknown identity kind in subject key %q", key)
	}
	return Identity{kind: kind, id: id}, nil
}

// Kind returns the identity kind
func (i Identity) Kind() IdentityKind {
	return i.kind
}

// ID returns the raw identifier
func (i Identity) ID() string {
	return i.id
}

// IsZero reports whether the identity is the "no session" value
func (i Identity) IsZero() bool {
	return i.kind == "" && i.id == ""
}

// IsGuest reports whether the identity is device-scoped
func (i Identity) IsGuest() bool {
	return i.kind == IdentityKindGuest
}

// IsAuthenticated reports whether the identity is backed by an account
func (i Identity) IsAuthenticated() bool {
	return i.kind == IdentityKindUser
}

// Equal reports whether two identities refer to the same subject
func (i Identity) Equal(other Identity) bool {
	return i.kind == other.kind && i.id == other.id
}

// Key returns the stable key used for cache entries, ledger rows, and
// in-flight deduplication. Kinds are namespaced so a guest ID colliding with
// a user ID can never alias its state.
func (i Identity) Key() string {
	if i.IsZero() {
		return ""
	}
	return string(i.kind) + ":" + i.id
}

// String returns the identity key for logging
func (i Identity) String() string {
	if i.IsZero() {
		return "none"
	}
	return i.Key()
}
