package lti

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/edulaunch/ltiauth/internal/launch/store"
	"github.com/edulaunch/ltiauth/pkg/common/jwkscache"
	"github.com/edulaunch/ltiauth/pkg/common/keys"
	"github.com/edulaunch/ltiauth/pkg/common/logger"
	"github.com/edulaunch/ltiauth/pkg/launch"
	repoIface "github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// Handler serves the tool-side LTI 1.3 endpoints: login initiation (step 1),
// login completion (step 3), the tool's JWKS and registration admin.
type Handler struct {
	registrations repoIface.Repository
	store         *store.OptimisticStore
	keys          keys.Service

	resolver *launch.Resolver
	auth     *launch.Authenticator

	direct launch.DirectRedirectHandler
	relay  launch.StateRelayRedirectHandler

	// defaultTargetURL is used when a verified launch carries no
	// target-link-uri claim (e.g. deep linking requests).
	defaultTargetURL string
}

// NewHandler wires the launch flow against the given collaborators.
func NewHandler(registrations repoIface.Repository, st *store.OptimisticStore, keySvc keys.Service, platformKeys jwkscache.Cache) *Handler {
	return &Handler{
		registrations:    registrations,
		store:            st,
		keys:             keySvc,
		resolver:         launch.NewResolver(registrations),
		auth:             launch.NewAuthenticator(st, registrations, platformKeys),
		defaultTargetURL: "/",
	}
}

// SetDefaultTargetURL overrides the fallback redirect destination.
func (h *Handler) SetDefaultTargetURL(u string) {
	if u != "" {
		h.defaultTargetURL = u
	}
}

// SetGrantMapper installs the hook that turns verified claims into
// authorization grants on the principal.
func (h *Handler) SetGrantMapper(m launch.GrantMapper) { h.auth.SetGrantMapper(m) }

// Router returns a chi-based router for the LTI endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(wrapWriter)
	r.Use(h.store.Middleware)

	r.Get("/api/health", h.health)

	// Tool metadata/JWKS: platforms fetch these to verify our assertions.
	r.Get("/.well-known/jwks.json", h.jwks)

	// LTI launch (third-party initiated login).
	r.Post("/lti/login_initiation/{registrationId}", h.loginInitiation)
	r.Get("/lti/login_initiation/{registrationId}", h.loginInitiation)
	r.Post("/lti/login", h.login)
	r.Get("/lti/login", h.login)

	// Registration admin.
	r.Get("/api/registrations", h.listRegistrations)
	r.Post("/api/registrations", h.createRegistration)
	r.Delete("/api/registrations/{id}", h.deleteRegistration)
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.registrations.Health(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// jwks serves the tool's public keys.
func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	set, err := h.keys.JWKS()
	if err != nil {
		http.Error(w, "failed to get JWKS", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

// wrapWriter lets downstream code observe whether the response has been
// committed (redirect handlers must no-op in that case).
func wrapWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
	})
}

// writeFlowError writes an error code + description pair the way the
// protocol surface expects, with the status class per error taxonomy:
// client/input errors are 4xx, configuration and upstream failures 5xx.
func writeFlowError(w http.ResponseWriter, err error) {
	code := launch.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "unknown_registration":
		status = http.StatusNotFound
	case "invalid_initiation_request":
		status = http.StatusBadRequest
	case "invalid_state", "invalid_token", "claim_validation_failed":
		status = http.StatusUnauthorized
	case "misconfigured_grant_type":
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":             code,
		"error_description": err.Error(),
	})
	logger.Debug("launch flow error: status=%d error=%s desc=%s", status, code, err.Error())
}
