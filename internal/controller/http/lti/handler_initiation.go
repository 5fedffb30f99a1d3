package lti

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edulaunch/ltiauth/pkg/common/logger"
)

// loginInitiation handles step 1 of the third-party initiated login: the
// platform opens this endpoint and we send the browser back to the
// platform's authorization endpoint with a stored state/nonce pair.
func (h *Handler) loginInitiation(w http.ResponseWriter, r *http.Request) {
	// Platforms use either GET query parameters or a form POST.
	_ = r.ParseForm()
	registrationID := chi.URLParam(r, "registrationId")
	logger.Debug("loginInitiation: registration=%s iss=%s", registrationID, r.FormValue("iss"))

	req, err := h.resolver.Resolve(r, registrationID)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if err := h.store.Save(req, w, r); err != nil {
		logger.Error("save authorization request: %v", err)
		http.Error(w, "failed to store authorization request", http.StatusInternalServerError)
		return
	}

	// A proven session, or a platform without the client-side storage
	// relay (no lti_storage_target, e.g. mobile apps), takes the plain
	// redirect; everything else gets the sessionStorage relay page.
	if h.store.HasWorkingSession(r) || r.FormValue("lti_storage_target") == "" {
		err = h.direct.SendRedirect(w, r, req)
	} else {
		err = h.relay.SendRedirect(w, r, req)
	}
	if err != nil {
		logger.Error("deliver authorization redirect: %v", err)
		return
	}
	logger.Debug("loginInitiation: state=%s delivered for registration=%s", req.State, registrationID)
}
