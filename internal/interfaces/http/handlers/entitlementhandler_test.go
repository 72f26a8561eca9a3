package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appentitlement "github.com/daybrief/daybrief/internal/application/entitlement"
	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/infrastructure/auth"
	"github.com/daybrief/daybrief/internal/infrastructure/cache"
	httpiface "github.com/daybrief/daybrief/internal/interfaces/http"
	"github.com/daybrief/daybrief/internal/interfaces/http/handlers"
	"github.com/daybrief/daybrief/internal/interfaces/http/middleware"
	sharedConfig "github.com/daybrief/daybrief/internal/shared/config"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

type stubLedger struct {
	mu      sync.Mutex
	records map[string]*entitlement.LedgerRecord
	gets    int
}

func newStubLedger() *stubLedger {
	return &stubLedger{records: make(map[string]*entitlement.LedgerRecord)}
}

func (l *stubLedger) GetBySubject(_ context.Context, subjectKey string) (*entitlement.LedgerRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gets++
	record, ok := l.records[subjectKey]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (l *stubLedger) getCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gets
}

func (l *stubLedger) Upsert(_ context.Context, subjectKey string, record *entitlement.LedgerRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *record
	l.records[subjectKey] = &copied
	return nil
}

type stubStore struct {
	mu  sync.Mutex
	txs []entitlement.Transaction
}

func (s *stubStore) ActiveTransactions(_ context.Context, _ string) ([]entitlement.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entitlement.Transaction(nil), s.txs...), nil
}

func (s *stubStore) Purchase(_ context.Context, _ string, productID string) (*entitlement.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := entitlement.Transaction{
		ProductID:     productID,
		TransactionID: "tx-test",
		PurchasedAt:   time.Now().UTC(),
	}
	s.txs = append(s.txs, tx)
	return &tx, nil
}

func (s *stubStore) Restore(_ context.Context, _ string) ([]entitlement.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entitlement.Transaction(nil), s.txs...), nil
}

type testEnv struct {
	router *gin.Engine
	ledger *stubLedger
	store  *stubStore
	jwt    *auth.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog, err := entitlement.NewProductCatalog(map[string]entitlement.Tier{
		"premium.unlimited": entitlement.TierUnlimited,
		"premium.monthly":   entitlement.TierTimeLimited,
	})
	require.NoError(t, err)

	log := logger.NewLogger()
	ledger := newStubLedger()
	store := &stubStore{}
	reconciler := appentitlement.NewReconciler(
		cache.NewMemoryVerdictCache(),
		ledger,
		store,
		catalog,
		appentitlement.Policy{StalenessWindow: 24 * time.Hour, RefreshMargin: time.Hour},
		log,
	)

	jwtService := auth.NewJWTService("test-secret", "daybrief")
	router := httpiface.NewRouter(
		sharedConfig.ServerConfig{Mode: "test"},
		middleware.NewIdentityMiddleware(jwtService, log),
		nil,
		handlers.NewEntitlementHandler(reconciler, log),
		log,
	)

	return &testEnv{router: router, ledger: ledger, store: store, jwt: jwtService}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func (e *testEnv) bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := e.jwt.Sign(userID, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

type verdictPayload struct {
	Entitled  bool       `json:"entitled"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at"`
	Source    string     `json:"source"`
}

func decodeVerdict(t *testing.T, recorder *httptest.ResponseRecorder) verdictPayload {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    verdictPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestGetEntitlement_NoSession(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/entitlement", nil, nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	verdict := decodeVerdict(t, recorder)
	assert.False(t, verdict.Entitled)
	assert.Equal(t, "default", verdict.Source)
}

func TestGetEntitlement_Guest_NoPurchases(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/entitlement", nil,
		map[string]string{"X-Guest-ID": "device-42"})

	require.Equal(t, http.StatusOK, recorder.Code)
	verdict := decodeVerdict(t, recorder)
	assert.False(t, verdict.Entitled)
	assert.Equal(t, "store", verdict.Source)
}

func TestGetEntitlement_AuthenticatedWithLedgerRecord(t *testing.T) {
	env := newTestEnv(t)
	user, err := entitlement.UserIdentity("u1")
	require.NoError(t, err)
	env.ledger.records[user.Key()] = &entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: time.Now().UTC().Add(-24 * time.Hour),
		Active:      true,
	}

	recorder := env.request(t, http.MethodGet, "/api/entitlement", nil, env.bearer(t, "u1"))

	require.Equal(t, http.StatusOK, recorder.Code)
	verdict := decodeVerdict(t, recorder)
	assert.True(t, verdict.Entitled)
	assert.Equal(t, "unlimited", verdict.Tier)
	assert.Equal(t, "ledger", verdict.Source)
}

func TestGetEntitlement_InvalidToken(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/entitlement", nil,
		map[string]string{"Authorization": "Bearer garbage"})

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestGetStatus_ReflectsSessionState(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/entitlement/status", nil,
		map[string]string{"X-Guest-ID": "device-42"})

	require.Equal(t, http.StatusOK, recorder.Code)
	var envelope struct {
		Data struct {
			SessionState string          `json:"session_state"`
			Verdict      *verdictPayload `json:"verdict"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, "guest", envelope.Data.SessionState)
	assert.Nil(t, envelope.Data.Verdict, "no resolve has happened yet")
}

func TestPurchase_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/purchase",
		map[string]string{"product_id": "premium.unlimited"}, nil)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestPurchase_MissingProductID(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/purchase",
		map[string]string{}, env.bearer(t, "u1"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPurchase_MalformedProductID(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/purchase",
		map[string]string{"product_id": "Not A Product!"}, env.bearer(t, "u1"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPurchase_UnrecognizedProduct(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/purchase",
		map[string]string{"product_id": "news.tipjar"}, env.bearer(t, "u1"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPurchase_Succeeds(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/purchase",
		map[string]string{"product_id": "premium.unlimited"}, env.bearer(t, "u1"))

	require.Equal(t, http.StatusOK, recorder.Code)
	verdict := decodeVerdict(t, recorder)
	assert.True(t, verdict.Entitled)
	assert.Equal(t, "unlimited", verdict.Tier)
	assert.Nil(t, verdict.ExpiresAt)
}

func TestGetEntitlement_ForceBypassesCache(t *testing.T) {
	env := newTestEnv(t)
	user, err := entitlement.UserIdentity("u1")
	require.NoError(t, err)
	env.ledger.records[user.Key()] = &entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: time.Now().UTC().Add(-24 * time.Hour),
		Active:      true,
	}
	headers := env.bearer(t, "u1")

	recorder := env.request(t, http.MethodGet, "/api/entitlement", nil, headers)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, 1, env.ledger.getCount())

	recorder = env.request(t, http.MethodGet, "/api/entitlement", nil, headers)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, env.ledger.getCount(), "second resolve must be served from cache")

	recorder = env.request(t, http.MethodGet, "/api/entitlement?force=true", nil, headers)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 2, env.ledger.getCount(), "force=true must re-query the ledger")
}

func TestRevoke_NoSession(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/entitlement/revoke", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRevoke_Guest(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/entitlement/revoke", nil,
		map[string]string{"X-Guest-ID": "device-42"})

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRevoke_Authenticated(t *testing.T) {
	env := newTestEnv(t)
	user, err := entitlement.UserIdentity("u1")
	require.NoError(t, err)
	env.ledger.records[user.Key()] = &entitlement.LedgerRecord{
		ProductID:   "premium.unlimited",
		PurchasedAt: time.Now().UTC().Add(-24 * time.Hour),
		Active:      true,
	}

	recorder := env.request(t, http.MethodPost, "/api/entitlement/revoke", nil, env.bearer(t, "u1"))

	require.Equal(t, http.StatusOK, recorder.Code)
	verdict := decodeVerdict(t, recorder)
	assert.False(t, verdict.Entitled)
	assert.Equal(t, "ledger", verdict.Source)

	record := env.ledger.records[user.Key()]
	require.NotNil(t, record)
	assert.False(t, record.Active)
}

func TestRestore_ReplaysPurchases(t *testing.T) {
	env := newTestEnv(t)
	expiry := time.Now().UTC().Add(20 * 24 * time.Hour)
	env.store.txs = []entitlement.Transaction{{
		ProductID:     "premium.monthly",
		TransactionID: "tx-old",
		PurchasedAt:   time.Now().UTC().Add(-10 * 24 * time.Hour),
		ExpiresAt:     &expiry,
	}}

	recorder := env.request(t, http.MethodPost, "/api/purchase/restore", nil, env.bearer(t, "u1"))

	require.Equal(t, http.StatusOK, recorder.Code)
	verdict := decodeVerdict(t, recorder)
	assert.True(t, verdict.Entitled)
	assert.Equal(t, "time_limited", verdict.Tier)
}
