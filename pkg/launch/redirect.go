package launch

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/edulaunch/ltiauth/pkg/common/logger"
)

// RedirectHandler delivers a resolved authorization request to the user
// agent, sending it on to the platform's authorization endpoint.
type RedirectHandler interface {
	SendRedirect(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) error
}

// DirectRedirectHandler issues a plain 302 to the authorization URI. Used
// when the browser session can be trusted or the platform offers no
// client-side storage relay.
type DirectRedirectHandler struct{}

func (DirectRedirectHandler) SendRedirect(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) error {
	url := req.AuthorizationRequestURI()
	if committed(w) {
		logger.Debug("response already committed, unable to redirect to %s", url)
		return nil
	}
	http.Redirect(w, r, url, http.StatusFound)
	return nil
}

// StateRelayRedirectHandler renders a small script page that persists state
// and nonce into the browser's sessionStorage before navigating to the
// authorization URI. Each iframe/tab gets its own copy of the values, so
// simultaneous launches don't need a shared cookie jar. Storage failures
// are logged client-side and never block the launch.
type StateRelayRedirectHandler struct{}

func (StateRelayRedirectHandler) SendRedirect(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) error {
	url := req.AuthorizationRequestURI()
	if committed(w) {
		logger.Debug("response already committed, unable to redirect to %s", url)
		return nil
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := `<!DOCTYPE html>
<html><head><title>redirect</title><script>
var state = ` + jsString(req.State) + `;
var nonce = ` + jsString(req.Nonce) + `;
var url = ` + jsString(url) + `;
try {
    window.sessionStorage.setItem('state', state);
    window.sessionStorage.setItem('nonce', nonce);
} catch (error) {
    if (error.name === 'SecurityError') {
        console.log("You have cookies disabled for this site.");
    } else {
        throw error;
    }
}
document.location = url;
</script></head><body></body></html>`
	_, err := w.Write([]byte(page))
	return err
}

// WriteStateCheckPage renders the completion-side relay: the browser
// re-checks the state it stashed at initiation before following the
// verified target link.
func WriteStateCheckPage(w http.ResponseWriter, state, targetURL string) error {
	if committed(w) {
		logger.Debug("response already committed, unable to redirect to %s", targetURL)
		return nil
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := `<!DOCTYPE html>
<html><head><title>redirect</title><script>
var state = ` + jsString(state) + `;
var url = ` + jsString(targetURL) + `;
try {
    if (state !== window.sessionStorage.getItem('state')) {
        console.log('State does not match');
    } else {
        document.location = url;
    }
} catch (error) {
    if (error.name === 'SecurityError') {
        console.log("You have cookies disabled for this site.");
        document.location = url;
    } else {
        throw error;
    }
}
</script></head><body></body></html>`
	_, err := w.Write([]byte(page))
	return err
}

// jsString encodes s as a JavaScript string literal, quotes included.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// committed reports whether a wrapped response writer has already written
// its header.
func committed(w http.ResponseWriter) bool {
	if ww, ok := w.(middleware.WrapResponseWriter); ok {
		return ww.Status() != 0
	}
	return false
}
