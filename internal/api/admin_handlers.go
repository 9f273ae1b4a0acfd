package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

// AdminHandlers provides the administrative HTTP handlers
type AdminHandlers struct {
	service interfaces.ConsentLedgerService
	auth    *TokenValidator
	metrics *monitoring.MetricsCollector
	health  *monitoring.HealthManager
	logger  *logger.Logger
}

// NewAdminHandlers creates the admin handlers. auth, metrics and health may be nil.
func NewAdminHandlers(service interfaces.ConsentLedgerService, auth *TokenValidator, metrics *monitoring.MetricsCollector, health *monitoring.HealthManager, log *logger.Logger) *AdminHandlers {
	if log == nil {
		log = logger.Discard()
	}
	return &AdminHandlers{
		service: service,
		auth:    auth,
		metrics: metrics,
		health:  health,
		logger:  log,
	}
}

// RegisterRoutes registers all admin routes with the router
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
	if h.health != nil {
		router.HandleFunc("/health", h.health.HTTPHandler()).Methods(http.MethodGet)
	}

	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(h.authMiddleware)

	adminRouter.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	adminRouter.HandleFunc("/users", h.RegisterUser).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)
	adminRouter.HandleFunc("/users/{id}/suspend", h.SuspendUser).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{id}/reinstate", h.ReinstateUser).Methods(http.MethodPost)

	adminRouter.HandleFunc("/security-logs", h.GetSecurityLogs).Methods(http.MethodGet)
	adminRouter.HandleFunc("/audit/verify", h.VerifyAuditTrail).Methods(http.MethodGet)
}

type adminContextKey struct{}

// authMiddleware requires an admin-role bearer token when token auth is enabled
func (h *AdminHandlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeJSON(w, http.StatusUnauthorized, unauthorizedResponse("Authorization header required"))
			return
		}
		claims, err := h.auth.ValidateJWT(token)
		if err != nil {
			h.writeJSON(w, http.StatusUnauthorized, unauthorizedResponse("Invalid token"))
			return
		}
		if role, _ := types.ParseRole(claims.Role); role != types.RoleAdmin {
			h.logger.Security("admin_access_denied", claims.Subject, map[string]interface{}{"path": r.URL.Path})
			h.writeJSON(w, http.StatusForbidden, unauthorizedResponse("administrator token required"))
			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey{}, claims.Subject)
		ctx = context.WithValue(ctx, logger.ActorIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type registerUserRequest struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Organization string `json:"organization"`
	PublicKey    string `json:"public_key"`
}

type adminActionRequest struct {
	AdminID string `json:"admin_id"`
}

// ListUsers lists every registered identity
func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	identities, err := h.service.ListIdentities(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": identities,
		"count": len(identities),
	})
}

// RegisterUser enrolls a new identity
func (h *AdminHandlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, validationResponse("Invalid JSON payload"))
		return
	}

	identity, err := types.NewNetworkIdentity(req.ID, types.Role(req.Role), req.Organization, req.PublicKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.RegisterIdentity(r.Context(), identity); err != nil {
		h.writeError(w, r, err)
		return
	}

	registered, err := h.service.GetIdentity(r.Context(), identity.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, registered)
}

// GetUser returns one identity
func (h *AdminHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.GetIdentity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, identity)
}

// SuspendUser suspends an identity
func (h *AdminHandlers) SuspendUser(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.SuspendIdentity)
}

// ReinstateUser reinstates a suspended identity
func (h *AdminHandlers) ReinstateUser(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.service.ReinstateIdentity)
}

func (h *AdminHandlers) statusChange(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, adminID, id string) error) {
	var req adminActionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSON(w, http.StatusBadRequest, validationResponse("Invalid JSON payload"))
			return
		}
	}

	adminID, ok := h.actingAdmin(w, r, req.AdminID)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := change(r.Context(), adminID, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	identity, err := h.service.GetIdentity(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, identity)
}

// actingAdmin resolves the admin performing the request. With token auth the
// token subject is authoritative and a differing admin_id is rejected.
func (h *AdminHandlers) actingAdmin(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	subject, _ := r.Context().Value(adminContextKey{}).(string)
	switch {
	case subject == "" && requested == "":
		h.writeJSON(w, http.StatusBadRequest, validationResponse("admin_id is required"))
		return "", false
	case subject == "":
		return requested, true
	case requested != "" && requested != subject:
		h.writeError(w, r, types.NewLedgerError(types.KindNotAuthorized, "token subject may not act as %s", requested))
		return "", false
	default:
		return subject, true
	}
}

// GetSecurityLogs returns global audit entries. Query parameters: actor_id,
// action (repeatable or comma separated), since, until (RFC3339).
func (h *AdminHandlers) GetSecurityLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.service.GetSecurityLogs(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func parseAuditFilter(r *http.Request) (*types.AuditFilter, error) {
	query := r.URL.Query()
	filter := &types.AuditFilter{ActorID: query.Get("actor_id")}

	for _, raw := range query["action"] {
		for _, name := range strings.Split(raw, ",") {
			action, ok := types.ParseAuditAction(strings.ToUpper(strings.TrimSpace(name)))
			if !ok {
				return nil, types.NewValidationError("action", "unknown audit action "+name)
			}
			filter.Actions = append(filter.Actions, action)
		}
	}

	for field, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := query.Get(field)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, types.NewValidationError(field, "must be an RFC3339 timestamp")
		}
		*dst = parsed
	}
	return filter, nil
}

// VerifyAuditTrail recomputes the global hash chain
func (h *AdminHandlers) VerifyAuditTrail(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VerifyAuditTrail(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).WithError(err).Error("Internal server error")
	}
	h.writeJSON(w, status, resp)
}

func (h *AdminHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
