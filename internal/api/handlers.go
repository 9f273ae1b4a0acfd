// Package api exposes the consent ledger over HTTP: the public API on gin and
// the administrative API on gorilla/mux.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

const actorContextKey = "actor_id"

// Handlers contains the public HTTP handlers
type Handlers struct {
	service interfaces.ConsentLedgerService
	auth    *TokenValidator
	limiter *RateLimiter
	logger  *logger.Logger
}

// NewHandlers creates the public handlers. auth may be nil to disable bearer tokens.
func NewHandlers(service interfaces.ConsentLedgerService, auth *TokenValidator, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Discard()
	}
	return &Handlers{
		service: service,
		auth:    auth,
		logger:  log,
	}
}

// WithRateLimiter enables per-caller rate limiting on /api/v1
func (h *Handlers) WithRateLimiter(rl *RateLimiter) *Handlers {
	h.limiter = rl
	return h
}

// NewRouter builds a gin engine with the public routes registered
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the public routes with the router
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	v1.Use(h.AuthMiddleware(), h.RateLimitMiddleware())
	{
		consents := v1.Group("/consents")
		{
			consents.POST("", h.RequestConsent)
			consents.GET("/:id", h.GetContract)
			consents.GET("/:id/history", h.GetContractHistory)
			consents.POST("/:id/approve", h.ApproveConsent)
			consents.POST("/:id/revoke", h.RevokeConsent)
		}

		v1.GET("/patients/:id/consents", h.GetContractsForPatient)
		v1.GET("/patients/:id/records", h.AccessRecords)
		v1.GET("/providers/:id/consents", h.GetContractsForProvider)
		v1.GET("/access/authorize", h.Authorize)
	}
}

// AuthMiddleware validates the bearer token when token auth is enabled
func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.auth == nil {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedResponse("Authorization header required"))
			return
		}

		claims, err := h.auth.ValidateJWT(token)
		if err != nil {
			h.logger.Security("invalid_token", "", map[string]interface{}{
				"path":  c.FullPath(),
				"error": err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedResponse("Invalid token"))
			return
		}

		c.Set(actorContextKey, claims.Subject)
		c.Next()
	}
}

// requireActor checks the authenticated subject acts as actorID
func (h *Handlers) requireActor(c *gin.Context, actorID string) bool {
	if h.auth == nil {
		return true
	}
	if c.GetString(actorContextKey) == actorID {
		return true
	}
	h.handleError(c, types.NewLedgerError(types.KindNotAuthorized, "token subject may not act as %s", actorID))
	return false
}

type patientActionRequest struct {
	PatientID string `json:"patient_id" binding:"required"`
}

// RequestConsent handles consent requests by providers
func (h *Handlers) RequestConsent(c *gin.Context) {
	var req types.ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validationResponse(err.Error()))
		return
	}
	if !h.requireActor(c, req.ProviderID) {
		return
	}

	contractID, err := h.service.RequestConsent(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"contract_id": contractID,
		"status":      types.StatusPending,
	})
}

// ApproveConsent handles approval by the contract's patient
func (h *Handlers) ApproveConsent(c *gin.Context) {
	h.patientAction(c, h.service.ApproveConsent)
}

// RevokeConsent handles revocation by the contract's patient
func (h *Handlers) RevokeConsent(c *gin.Context) {
	h.patientAction(c, h.service.RevokeConsent)
}

func (h *Handlers) patientAction(c *gin.Context, action func(ctx context.Context, contractID, patientID string) error) {
	var req patientActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validationResponse(err.Error()))
		return
	}
	if !h.requireActor(c, req.PatientID) {
		return
	}

	contractID := c.Param("id")
	if err := action(c.Request.Context(), contractID, req.PatientID); err != nil {
		h.handleError(c, err)
		return
	}

	contract, err := h.service.GetContract(c.Request.Context(), contractID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// GetContract returns a contract with its effective status
func (h *Handlers) GetContract(c *gin.Context) {
	contract, err := h.service.GetContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// GetContractHistory returns the contract's hash-chained history
func (h *Handlers) GetContractHistory(c *gin.Context) {
	history, err := h.service.GetContractHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contract_id": c.Param("id"),
		"history":     history,
	})
}

func (h *Handlers) GetContractsForPatient(c *gin.Context) {
	contracts, err := h.service.GetContractsForPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts, "count": len(contracts)})
}

func (h *Handlers) GetContractsForProvider(c *gin.Context) {
	contracts, err := h.service.GetContractsForProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts, "count": len(contracts)})
}

// Authorize reports the access decision without side effects
func (h *Handlers) Authorize(c *gin.Context) {
	providerID := c.Query("provider_id")
	patientID := c.Query("patient_id")
	if providerID == "" || patientID == "" {
		c.JSON(http.StatusBadRequest, validationResponse("provider_id and patient_id are required"))
		return
	}
	c.JSON(http.StatusOK, h.service.Decide(c.Request.Context(), providerID, patientID))
}

// AccessRecords returns the patient's records to an authorized provider
func (h *Handlers) AccessRecords(c *gin.Context) {
	providerID := c.Query("provider_id")
	if providerID == "" {
		c.JSON(http.StatusBadRequest, validationResponse("provider_id is required"))
		return
	}
	if !h.requireActor(c, providerID) {
		return
	}

	record, err := h.service.AccessRecords(c.Request.Context(), providerID, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Health reports ledger store availability
func (h *Handlers) Health(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "consent-ledger"})
}

func (h *Handlers) handleError(c *gin.Context, err error) {
	status, resp := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("Internal server error")
	}
	c.JSON(status, resp)
}
