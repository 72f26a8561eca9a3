// Package dto carries the request and response shapes of the entitlement API.
package dto

import (
	"time"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
)

// PurchaseRequest asks to complete a purchase for a product
type PurchaseRequest struct {
	ProductID string `json:"product_id" binding:"required,product_id"`
}

// VerdictResponse is the wire form of an entitlement verdict
type VerdictResponse struct {
	Entitled  bool       `json:"entitled"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	AsOf      time.Time  `json:"as_of"`
	Source    string     `json:"source"`
}

// StatusResponse reports the session state and the last known verdict, if any
type StatusResponse struct {
	SessionState string           `json:"session_state"`
	Verdict      *VerdictResponse `json:"verdict,omitempty"`
}

// NewVerdictResponse maps a domain verdict to its wire form
func NewVerdictResponse(v entitlement.Verdict) VerdictResponse {
	return VerdictResponse{
		Entitled:  v.Entitled,
		Tier:      v.Tier.String(),
		ExpiresAt: v.ExpiresAt,
		AsOf:      v.AsOf,
		Source:    v.Source.String(),
	}
}
