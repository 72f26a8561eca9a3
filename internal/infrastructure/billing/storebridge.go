// Package billing provides the client to the platform store bridge: the
// service that fronts the operating system billing subsystem (receipt state,
// purchase and restore flows) for app sessions. The bridge knows about
// purchases the ledger may not have recorded yet, but is blind to server-side
// revocation.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	apperrors "github.com/daybrief/daybrief/internal/shared/errors"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

const defaultBridgeTimeout = 10 * time.Second

// StoreBridgeClient implements entitlement.StoreClient over the store bridge
// HTTP API. Every call is a single attempt bounded by the client timeout; the
// reconciler's degradation policy absorbs failures, so there is no retry loop
// here.
type StoreBridgeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Interface
}

// NewStoreBridgeClient creates a store bridge client. A non-positive timeout
// falls back to the default.
func NewStoreBridgeClient(baseURL, apiKey string, timeout time.Duration, log logger.Interface) *StoreBridgeClient {
	if timeout <= 0 {
		timeout = defaultBridgeTimeout
	}
	return &StoreBridgeClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

type transactionsResponse struct {
	Transactions []entitlement.Transaction `json:"transactions"`
}

type purchaseRequest struct {
	SubjectKey string `json:"subject_key"`
	ProductID  string `json:"product_id"`
}

type purchaseResponse struct {
	Transaction entitlement.Transaction `json:"transaction"`
}

type restoreRequest struct {
	SubjectKey string `json:"subject_key"`
}

// ActiveTransactions returns the subject's current transactions. An empty
// slice is a confirmed "zero records" answer; an error means the bridge was
// unreachable, which the reconciler treats differently.
func (c *StoreBridgeClient) ActiveTransactions(ctx context.Context, subjectKey string) ([]entitlement.Transaction, error) {
	endpoint := fmt.Sprintf("%s/v1/transactions?subject=%s", c.baseURL, url.QueryEscape(subjectKey))

	var resp transactionsResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Purchase initiates a purchase flow and returns the confirmed transaction
func (c *StoreBridgeClient) Purchase(ctx context.Context, subjectKey string, productID string) (*entitlement.Transaction, error) {
	endpoint := c.baseURL + "/v1/purchase"

	var resp purchaseResponse
	if err := c.do(ctx, http.MethodPost, endpoint, purchaseRequest{SubjectKey: subjectKey, ProductID: productID}, &resp); err != nil {
		return nil, err
	}
	if resp.Transaction.TransactionID == "" {
		return nil, apperrors.NewSourceUnreachableError("store bridge returned an empty transaction")
	}
	return &resp.Transaction, nil
}

// Restore replays the subject's historical purchases from the platform
func (c *StoreBridgeClient) Restore(ctx context.Context, subjectKey string) ([]entitlement.Transaction, error) {
	endpoint := c.baseURL + "/v1/restore"

	var resp transactionsResponse
	if err := c.do(ctx, http.MethodPost, endpoint, restoreRequest{SubjectKey: subjectKey}, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *StoreBridgeClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warnw("store bridge request failed",
			"method", method,
			"endpoint", endpoint,
			"error", err)
		return apperrors.NewSourceUnreachableError("store bridge unreachable", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warnw("store bridge returned error status",
			"method", method,
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"body", string(payload))
		return apperrors.NewSourceUnreachableError(
			fmt.Sprintf("store bridge returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewSourceUnreachableError("failed to decode store bridge response", err.Error())
	}
	return nil
}
