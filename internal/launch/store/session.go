package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/edulaunch/ltiauth/pkg/launch"
)

// SessionCookieName carries the opaque session id. SameSite must be None
// because launches run inside platform iframes.
const SessionCookieName = "lti_session"

// DefaultSessionTTL is how long a session slot survives without a
// completed launch.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore holds at most the single most-recent in-flight request per
// browser session. The session is an opaque random cookie pointing at a
// server-side slot.
type SessionStore struct {
	slots      *gocache.Cache
	cookieName string
	ttl        time.Duration
	mu         sync.Mutex
}

var _ launch.RequestStore = (*SessionStore)(nil)

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		slots:      gocache.New(ttl, time.Minute),
		cookieName: SessionCookieName,
		ttl:        ttl,
	}
}

// Load returns the session's in-flight request when its state matches the
// returned state parameter. A mismatch is not an error: another tab may own
// the slot, and the state-keyed cache is authoritative for that state.
func (s *SessionStore) Load(r *http.Request) (*launch.AuthorizationRequest, error) {
	req := s.current(r)
	if req == nil || req.State != r.FormValue("state") {
		return nil, nil
	}
	return req, nil
}

func (s *SessionStore) Save(req *launch.AuthorizationRequest, w http.ResponseWriter, r *http.Request) error {
	if req == nil || req.State == "" {
		return errors.New("store: authorization request state cannot be empty")
	}
	id := s.sessionID(r)
	if id == "" {
		var err error
		if id, err = newSessionID(); err != nil {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     s.cookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(s.ttl / time.Second),
			Secure:   true,
			HttpOnly: true,
			SameSite: http.SameSiteNoneMode,
		})
		// Make the fresh cookie visible to later lookups in this request.
		r.AddCookie(&http.Cookie{Name: s.cookieName, Value: id})
	}
	s.slots.SetDefault(id, req)
	return nil
}

func (s *SessionStore) Remove(w http.ResponseWriter, r *http.Request) (*launch.AuthorizationRequest, error) {
	id := s.sessionID(r)
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.current(r)
	if req == nil || req.State != r.FormValue("state") {
		return nil, nil
	}
	s.slots.Delete(id)
	return req, nil
}

func (s *SessionStore) current(r *http.Request) *launch.AuthorizationRequest {
	id := s.sessionID(r)
	if id == "" {
		return nil
	}
	v, ok := s.slots.Get(id)
	if !ok {
		return nil
	}
	req, _ := v.(*launch.AuthorizationRequest)
	return req
}

func (s *SessionStore) sessionID(r *http.Request) string {
	c, err := r.Cookie(s.cookieName)
	if err != nil || c == nil {
		return ""
	}
	return c.Value
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
