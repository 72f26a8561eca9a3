package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
)

func newTestSession(t *testing.T) (*SessionBinding, *Reconciler, *fakeCache, *fakeLedger) {
	t.Helper()
	r, cache, ledger, _ := newTestReconciler(t)
	return NewSessionBinding(r, noopLogger{}), r, cache, ledger
}

func TestSessionBinding_InitialState(t *testing.T) {
	binding, _, _, _ := newTestSession(t)

	assert.Equal(t, SessionStateNone, binding.State())
	assert.True(t, binding.Current().IsZero())
}

func TestSessionBinding_BindGuest(t *testing.T) {
	binding, _, _, _ := newTestSession(t)
	guest := mustGuest(t, "device-1")

	verdict := binding.Bind(context.Background(), guest)

	assert.Equal(t, SessionStateGuest, binding.State())
	assert.True(t, binding.Current().Equal(guest))
	assert.False(t, verdict.Entitled)
}

func TestSessionBinding_BindUser_ResolvesFromLedger(t *testing.T) {
	binding, _, _, ledger := newTestSession(t)
	user := mustUser(t, "u1")

	ledger.seed(user.Key(), entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: testNow.Add(-24 * time.Hour),
		Active:      true,
	})

	verdict := binding.Bind(context.Background(), user)

	assert.Equal(t, SessionStateAuthenticated, binding.State())
	assert.True(t, verdict.Entitled)
	assert.Equal(t, entitlement.SourceLedger, verdict.Source)
}

func TestSessionBinding_IdentitySwitch_NeverLeaksVerdict(t *testing.T) {
	binding, _, cache, ledger := newTestSession(t)
	alice := mustUser(t, "alice")
	bob := mustUser(t, "bob")

	ledger.seed(alice.Key(), entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: testNow.Add(-24 * time.Hour),
		Active:      true,
	})

	aliceVerdict := binding.Bind(context.Background(), alice)
	require.True(t, aliceVerdict.Entitled)
	require.NotNil(t, cache.entry(alice.Key()))

	bobVerdict := binding.Bind(context.Background(), bob)

	assert.False(t, bobVerdict.Entitled, "bob must not inherit alice's entitlement")
	assert.Nil(t, cache.entry(alice.Key()), "previous identity's cached verdict is invalidated on switch")
	assert.True(t, binding.Current().Equal(bob))
}

func TestSessionBinding_SignOut_ClearsCacheNotLedger(t *testing.T) {
	binding, reconciler, cache, ledger := newTestSession(t)
	user := mustUser(t, "u1")

	ledger.seed(user.Key(), entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: testNow.Add(-24 * time.Hour),
		Active:      true,
	})
	binding.Bind(context.Background(), user)
	require.NotNil(t, cache.entry(user.Key()))

	verdict := binding.Bind(context.Background(), entitlement.Identity{})

	assert.Equal(t, SessionStateNone, binding.State())
	assert.False(t, verdict.Entitled)
	assert.Equal(t, entitlement.SourceDefault, verdict.Source)
	assert.Nil(t, cache.entry(user.Key()))
	assert.NotNil(t, ledger.record(user.Key()), "the ledger record survives sign-out")

	_, ok := reconciler.Latest(user)
	assert.False(t, ok)
}

func TestSessionBinding_Rebind_SameIdentity_ServesCache(t *testing.T) {
	binding, _, _, ledger := newTestSession(t)
	user := mustUser(t, "u1")

	ledger.seed(user.Key(), entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: testNow.Add(-24 * time.Hour),
		Active:      true,
	})
	binding.Bind(context.Background(), user)
	firstGets := ledger.getCount()

	// App-foreground rebind of the same identity takes the cache fast path
	// instead of forcing a refresh.
	verdict := binding.Bind(context.Background(), user)

	assert.True(t, verdict.Entitled)
	assert.Equal(t, entitlement.SourceCache, verdict.Source)
	assert.Equal(t, firstGets, ledger.getCount())
}

func TestSessionBinding_OnEntitlementChanged_BoundIdentity(t *testing.T) {
	binding, reconciler, _, ledger := newTestSession(t)
	user := mustUser(t, "u1")

	ledger.seed(user.Key(), entitlement.LedgerRecord{
		ProductID:   "premium.monthly",
		PurchasedAt: testNow.Add(-24 * time.Hour),
		ExpiresAt:   futureExpiry(30 * 24 * time.Hour),
		Active:      true,
	})
	binding.Bind(context.Background(), user)

	// A refund lands server-side: the ledger flips inactive and the event
	// arrives over pub/sub.
	ledger.seed(user.Key(), entitlement.LedgerRecord{
		ProductID:        "premium.monthly",
		PurchasedAt:      testNow.Add(-24 * time.Hour),
		Active:           false,
		LastNotification: entitlement.NotificationRefund,
	})
	binding.OnEntitlementChanged(context.Background(), user.Key())

	latest, ok := reconciler.Latest(user)
	require.True(t, ok)
	assert.False(t, latest.Entitled, "refund must override the previously cached entitlement")
}

func TestSessionBinding_OnEntitlementChanged_OtherSubjectIgnored(t *testing.T) {
	binding, _, _, ledger := newTestSession(t)
	user := mustUser(t, "u1")

	ledger.seed(user.Key(), entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: testNow.Add(-24 * time.Hour),
		Active:      true,
	})
	binding.Bind(context.Background(), user)
	boundGets := ledger.getCount()

	binding.OnEntitlementChanged(context.Background(), "user:someone-else")

	assert.Equal(t, boundGets, ledger.getCount(), "events for other subjects must not trigger a resolve")
}
