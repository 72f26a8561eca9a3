package entitlement

import (
	"context"
	"sync"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

// SessionState is the session binding state
type SessionState string

const (
	// SessionStateNone means no session is bound
	SessionStateNone SessionState = "no_session"
	// SessionStateGuest means a device-scoped guest session is bound
	SessionStateGuest SessionState = "guest"
	// SessionStateAuthenticated means an account session is bound
	SessionStateAuthenticated SessionState = "authenticated"
)

// SessionBinding reacts to identity changes by invalidating the previous
// identity's state and re-running reconciliation for the new one. It is the
// only component that decides when to refresh; UI consumers read verdicts but
// never trigger reconciliation on their own.
type SessionBinding struct {
	reconciler *Reconciler
	logger     logger.Interface

	mu      sync.Mutex
	current entitlement.Identity
}

// NewSessionBinding creates a session binding over a reconciler
func NewSessionBinding(reconciler *Reconciler, log logger.Interface) *SessionBinding {
	return &SessionBinding{
		reconciler: reconciler,
		logger:     log,
	}
}

// Current returns the currently bound identity
func (b *SessionBinding) Current() entitlement.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// State returns the session binding state
func (b *SessionBinding) State() SessionState {
	current := b.Current()
	switch {
	case current.IsZero():
		return SessionStateNone
	case current.IsGuest():
		return SessionStateGuest
	default:
		return SessionStateAuthenticated
	}
}

// Bind switches the session to a new identity and returns the verdict for
// it. The previous identity's cached verdict is invalidated first so it can
// never leak into the new identity's reads, and any in-flight resolve for it
// is marked stale. Binding the zero identity is sign-out.
func (b *SessionBinding) Bind(ctx context.Context, identity entitlement.Identity) entitlement.Verdict {
	b.mu.Lock()
	previous := b.current
	if previous.Equal(identity) && !identity.IsZero() {
		b.mu.Unlock()
		// Re-binding the same identity (app foreground) re-runs
		// reconciliation without discarding state.
		return b.reconciler.Resolve(ctx, identity, ResolveOptions{})
	}
	b.current = identity
	b.mu.Unlock()

	if identity.IsZero() {
		return b.signOut(ctx, previous)
	}

	if !previous.IsZero() {
		b.reconciler.Invalidate(ctx, previous)
	}

	b.logger.Infow("session bound",
		"previous", previous.String(),
		"identity", identity.String())
	return b.reconciler.Resolve(ctx, identity, ResolveOptions{ForceRefresh: true})
}

// signOut clears the whole verdict cache. The ledger record is deliberately
// untouched: it must survive for when the user signs back in.
func (b *SessionBinding) signOut(ctx context.Context, previous entitlement.Identity) entitlement.Verdict {
	b.reconciler.Reset(ctx)
	b.logger.Infow("session signed out", "previous", previous.String())
	return b.reconciler.Resolve(ctx, entitlement.Identity{}, ResolveOptions{})
}

// OnEntitlementChanged handles an entitlement change event for a subject
// (server-side renewal, cancellation, refund). If the event concerns the
// bound identity its verdict is forcibly re-resolved; events for other
// subjects are ignored.
func (b *SessionBinding) OnEntitlementChanged(ctx context.Context, subjectKey string) {
	current := b.Current()
	if current.IsZero() || current.Key() != subjectKey {
		return
	}
	b.logger.Infow("entitlement changed server-side, re-resolving",
		"identity", current.String())
	b.reconciler.Resolve(ctx, current, ResolveOptions{ForceRefresh: true})
}
