package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	apperrors "github.com/daybrief/daybrief/internal/shared/errors"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

func newBridgeClient(t *testing.T, handler http.HandlerFunc) *StoreBridgeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewStoreBridgeClient(server.URL, "test-key", 2*time.Second, logger.NewLogger())
}

func TestStoreBridgeClient_ActiveTransactions(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "user:42", r.URL.Query().Get("subject"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []entitlement.Transaction{
				{ProductID: "premium.unlimited", TransactionID: "tx-1", PurchasedAt: now},
			},
		})
	})

	txs, err := client.ActiveTransactions(context.Background(), "user:42")

	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-1", txs[0].TransactionID)
	assert.Equal(t, "premium.unlimited", txs[0].ProductID)
}

func TestStoreBridgeClient_ActiveTransactionsConfirmedEmpty(t *testing.T) {
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"transactions": []entitlement.Transaction{}})
	})

	txs, err := client.ActiveTransactions(context.Background(), "user:42")

	require.NoError(t, err, "a confirmed empty answer is not an error")
	assert.Empty(t, txs)
}

func TestStoreBridgeClient_ServerErrorIsSourceUnreachable(t *testing.T) {
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.ActiveTransactions(context.Background(), "user:42")

	require.Error(t, err)
	assert.True(t, apperrors.IsSourceUnreachableError(err))
}

func TestStoreBridgeClient_Purchase(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/purchase", r.URL.Path)

		var req purchaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user:42", req.SubjectKey)
		assert.Equal(t, "premium.monthly", req.ProductID)

		expiry := now.Add(30 * 24 * time.Hour)
		json.NewEncoder(w).Encode(map[string]any{
			"transaction": entitlement.Transaction{
				ProductID:     req.ProductID,
				TransactionID: "tx-new",
				PurchasedAt:   now,
				ExpiresAt:     &expiry,
			},
		})
	})

	tx, err := client.Purchase(context.Background(), "user:42", "premium.monthly")

	require.NoError(t, err)
	assert.Equal(t, "tx-new", tx.TransactionID)
	require.NotNil(t, tx.ExpiresAt)
}

func TestStoreBridgeClient_PurchaseEmptyTransaction(t *testing.T) {
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"transaction": entitlement.Transaction{}})
	})

	_, err := client.Purchase(context.Background(), "user:42", "premium.monthly")

	assert.Error(t, err)
}

func TestStoreBridgeClient_Restore(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/restore", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []entitlement.Transaction{
				{ProductID: "premium.unlimited", TransactionID: "tx-old", PurchasedAt: now.Add(-90 * 24 * time.Hour)},
			},
		})
	})

	txs, err := client.Restore(context.Background(), "user:42")

	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-old", txs[0].TransactionID)
}

func TestStoreBridgeClient_Timeout(t *testing.T) {
	client := newBridgeClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"transactions": []entitlement.Transaction{}})
	})
	client.httpClient.Timeout = 50 * time.Millisecond

	_, err := client.ActiveTransactions(context.Background(), "user:42")

	require.Error(t, err)
	assert.True(t, apperrors.IsSourceUnreachableError(err))
}
