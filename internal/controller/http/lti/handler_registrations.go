package lti

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edulaunch/ltiauth/pkg/common/logger"
	repoIface "github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

func (h *Handler) createRegistration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req repoIface.ClientRegistration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("createRegistration: invalid JSON: %v", err)
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.RegistrationID) == "" || strings.TrimSpace(req.ClientID) == "" ||
		strings.TrimSpace(req.Issuer) == "" || strings.TrimSpace(req.AuthorizationURI) == "" {
		http.Error(w, "registration_id, client_id, issuer and authorization_uri are required", http.StatusBadRequest)
		return
	}
	if req.GrantType == "" {
		req.GrantType = repoIface.GrantTypeImplicit
	}
	id, err := h.registrations.Register(r.Context(), &req)
	if err != nil {
		logger.Error("register client registration: %v", err)
		http.Error(w, "failed to register", http.StatusInternalServerError)
		return
	}
	logger.Debug("createRegistration: created id=%d registration_id=%s", id, req.RegistrationID)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         id,
		"created_at": req.CreatedAt,
	})
}

func (h *Handler) listRegistrations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	items, err := h.registrations.List(r.Context())
	if err != nil {
		logger.Error("list registrations: %v", err)
		http.Error(w, "failed to list registrations", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*repoIface.ClientRegistration{}
	}
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) deleteRegistration(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		logger.Debug("deleteRegistration: invalid id=%q", idStr)
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.registrations.DeleteByID(r.Context(), id); err != nil {
		logger.Error("delete registration %d: %v", id, err)
		http.Error(w, "failed to delete registration", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
