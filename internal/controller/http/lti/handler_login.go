package lti

import (
	"net/http"

	"github.com/edulaunch/ltiauth/pkg/common/logger"
	"github.com/edulaunch/ltiauth/pkg/launch"
)

// login handles step 3 of the third-party initiated login: the platform
// posts back id_token and state, we validate both against the stored
// request and forward the browser to the platform-asserted target link.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	principal, err := h.auth.Authenticate(w, r)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	target := principal.TargetLinkURI
	if target == "" {
		target = h.defaultTargetURL
	}
	logger.Info("launch authenticated: registration=%s sub=%s anonymous=%t target=%s",
		principal.RegistrationID, principal.Subject, principal.Anonymous, target)

	// With a working session the browser has nothing stashed to double
	// check, so a plain redirect does. Otherwise the relay page compares
	// the state against what sessionStorage recorded at initiation.
	if h.store.HasWorkingSession(r) {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	if err := launch.WriteStateCheckPage(w, principal.State, target); err != nil {
		logger.Error("write state check page: %v", err)
	}
}
