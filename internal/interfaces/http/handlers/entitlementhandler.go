package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appentitlement "github.com/daybrief/daybrief/internal/application/entitlement"
	"github.com/daybrief/daybrief/internal/application/entitlement/dto"
	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/interfaces/http/middleware"
	"github.com/daybrief/daybrief/internal/shared/logger"
	"github.com/daybrief/daybrief/internal/shared/utils"
)

// EntitlementHandler exposes the reconciliation engine over HTTP. Resolve
// never fails: every response carries a verdict, degraded or not, so the
// client can always decide whether to show ads.
type EntitlementHandler struct {
	reconciler *appentitlement.Reconciler
	logger     logger.Interface
}

func NewEntitlementHandler(reconciler *appentitlement.Reconciler, log logger.Interface) *EntitlementHandler {
	return &EntitlementHandler{
		reconciler: reconciler,
		logger:     log,
	}
}

// GetEntitlement resolves the caller's entitlement verdict. force=true
// bypasses the cache fast path.
func (h *EntitlementHandler) GetEntitlement(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	opts := appentitlement.ResolveOptions{
		ForceRefresh: c.Query("force") == "true",
	}

	verdict := h.reconciler.Resolve(c.Request.Context(), identity, opts)
	utils.SuccessResponse(c, http.StatusOK, "", dto.NewVerdictResponse(verdict))
}

// GetStatus reports the session state and the last verdict produced for the
// caller without triggering reconciliation.
func (h *EntitlementHandler) GetStatus(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)

	response := dto.StatusResponse{SessionState: sessionState(identity)}
	if latest, ok := h.reconciler.Latest(identity); ok {
		verdict := dto.NewVerdictResponse(latest)
		response.Verdict = &verdict
	}

	utils.SuccessResponse(c, http.StatusOK, "", response)
}

// Revoke drops the caller's entitlement across cache and ledger. Only an
// authenticated identity has a ledger record to revoke.
func (h *EntitlementHandler) Revoke(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	if !identity.IsAuthenticated() {
		utils.ErrorResponse(c, http.StatusUnauthorized, "revoke requires an authenticated session")
		return
	}

	verdict, err := h.reconciler.Revoke(c.Request.Context(), identity)
	if err != nil {
		h.logger.Errorw("revoke failed", "identity", identity.String(), "error", err)
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "failed to revoke entitlement, try again")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "entitlement revoked", dto.NewVerdictResponse(verdict))
}

// Purchase completes a purchase through the platform store and returns the
// re-resolved verdict.
func (h *EntitlementHandler) Purchase(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	if identity.IsZero() {
		utils.ErrorResponse(c, http.StatusUnauthorized, "purchase requires a session")
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	verdict, err := h.reconciler.CompletePurchase(c.Request.Context(), identity, req.ProductID)
	if err != nil {
		h.logger.Warnw("purchase failed",
			"identity", identity.String(),
			"product_id", req.ProductID,
			"error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "purchase completed", dto.NewVerdictResponse(verdict))
}

// Restore replays the caller's historical purchases from the platform store
func (h *EntitlementHandler) Restore(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	if identity.IsZero() {
		utils.ErrorResponse(c, http.StatusUnauthorized, "restore requires a session")
		return
	}

	verdict, err := h.reconciler.Restore(c.Request.Context(), identity)
	if err != nil {
		h.logger.Warnw("restore failed", "identity", identity.String(), "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "purchases restored", dto.NewVerdictResponse(verdict))
}

func sessionState(identity entitlement.Identity) string {
	switch {
	case identity.IsZero():
		return string(appentitlement.SessionStateNone)
	case identity.IsGuest():
		return string(appentitlement.SessionStateGuest)
	default:
		return string(appentitlement.SessionStateAuthenticated)
	}
}
