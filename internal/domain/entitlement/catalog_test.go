package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *ProductCatalog {
	t.Helper()
	catalog, err := NewProductCatalog(map[string]Tier{
		"premium.unlimited": TierUnlimited,
		"premium.monthly":   TierTimeLimited,
	})
	require.NoError(t, err)
	return catalog
}

func TestNewProductCatalog_RejectsInvalidTier(t *testing.T) {
	_, err := NewProductCatalog(map[string]Tier{"premium.broken": TierNone})
	assert.Error(t, err)

	_, err = NewProductCatalog(map[string]Tier{"": TierUnlimited})
	assert.Error(t, err)
}

func TestProductCatalog_TierFor(t *testing.T) {
	catalog := newTestCatalog(t)

	tier, ok := catalog.TierFor("premium.unlimited")
	assert.True(t, ok)
	assert.Equal(t, TierUnlimited, tier)

	_, ok = catalog.TierFor("coffee.tip")
	assert.False(t, ok)
	assert.False(t, catalog.Recognizes("coffee.tip"))
}

func TestVerdictFromRecord_ActivePerpetual(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	record := &LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: now.Add(-24 * time.Hour),
		Active:      true,
	}

	v := catalog.VerdictFromRecord(record, now)

	assert.True(t, v.Entitled)
	assert.Equal(t, TierUnlimited, v.Tier)
	assert.Equal(t, SourceLedger, v.Source)
	assert.Nil(t, v.ExpiresAt)
}

func TestVerdictFromRecord_MatchesLedgerExpiry(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	expiry := now.Add(7 * 24 * time.Hour)
	record := &LedgerRecord{
		ProductID:   "premium.monthly",
		PurchasedAt: now.Add(-24 * time.Hour),
		ExpiresAt:   &expiry,
		Active:      true,
	}

	v := catalog.VerdictFromRecord(record, now)

	require.True(t, v.Entitled)
	assert.Equal(t, TierTimeLimited, v.Tier)
	require.NotNil(t, v.ExpiresAt)
	assert.Equal(t, expiry, *v.ExpiresAt, "verdict expiry must match the ledger exactly")
}

func TestVerdictFromRecord_InactiveRecord(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	record := &LedgerRecord{
		ProductID:        "premium.unlimited",
		PurchasedAt:      now.Add(-24 * time.Hour),
		Active:           false,
		LastNotification: NotificationRefund,
	}

	v := catalog.VerdictFromRecord(record, now)

	assert.False(t, v.Entitled)
	assert.Equal(t, SourceLedger, v.Source)
}

func TestVerdictFromRecord_ExpiredRecord(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	record := &LedgerRecord{
		ProductID:   "premium.monthly",
		PurchasedAt: now.Add(-40 * 24 * time.Hour),
		ExpiresAt:   &past,
		Active:      true,
	}

	v := catalog.VerdictFromRecord(record, now)

	assert.False(t, v.Entitled)
}

func TestVerdictFromRecord_UnrecognizedProduct(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	record := &LedgerRecord{ProductID: "coffee.tip", PurchasedAt: now, Active: true}

	v := catalog.VerdictFromRecord(record, now)

	assert.False(t, v.Entitled)
}

func TestVerdictFromTransaction_Active(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	tx := Transaction{ProductID: "premium.unlimited", TransactionID: "tx-1", PurchasedAt: now}

	v := catalog.VerdictFromTransaction(tx, now)

	assert.True(t, v.Entitled)
	assert.Equal(t, TierUnlimited, v.Tier)
	assert.Equal(t, SourceStore, v.Source)
}

func TestBestTransaction_PrefersUnlimited(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)
	txs := []Transaction{
		{ProductID: "premium.monthly", TransactionID: "tx-1", PurchasedAt: now, ExpiresAt: &soon},
		{ProductID: "premium.unlimited", TransactionID: "tx-2", PurchasedAt: now},
		{ProductID: "premium.monthly", TransactionID: "tx-3", PurchasedAt: now, ExpiresAt: &later},
	}

	best := catalog.BestTransaction(txs, now)

	require.NotNil(t, best)
	assert.Equal(t, "tx-2", best.TransactionID)
}

func TestBestTransaction_PrefersLaterExpiry(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)
	txs := []Transaction{
		{ProductID: "premium.monthly", TransactionID: "tx-1", PurchasedAt: now, ExpiresAt: &soon},
		{ProductID: "premium.monthly", TransactionID: "tx-2", PurchasedAt: now, ExpiresAt: &later},
	}

	best := catalog.BestTransaction(txs, now)

	require.NotNil(t, best)
	assert.Equal(t, "tx-2", best.TransactionID)
}

func TestBestTransaction_IgnoresExpiredAndUnrecognized(t *testing.T) {
	catalog := newTestCatalog(t)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	txs := []Transaction{
		{ProductID: "premium.monthly", TransactionID: "tx-1", PurchasedAt: now, ExpiresAt: &past},
		{ProductID: "coffee.tip", TransactionID: "tx-2", PurchasedAt: now},
	}

	assert.Nil(t, catalog.BestTransaction(txs, now))
	assert.Nil(t, catalog.BestTransaction(nil, now))
}
