package store

import (
	"context"
	"hash/fnv"
	"net/http"
	"sync"

	"github.com/edulaunch/ltiauth/pkg/launch"
)

// WorkingCookieName marks a browser that has previously demonstrated a
// persistent session across a launch round trip. Long-lived on purpose: the
// session itself is short but the fact that cookies work is not.
const WorkingCookieName = "lti_working_session"

const workingCookieMaxAge = 60 * 60 * 24 * 365

type ctxKey int

const workingFlagKey ctxKey = iota

// workingFlag lets the store mark a working session for the remainder of
// the current request, without waiting for the cookie to round-trip.
type workingFlag struct{ set bool }

// OptimisticStore composes the session-bound store with the state-keyed
// cache. Until a browser proves it can round-trip session state, requests
// are written to both; once proven (working-session marker) the cache is
// skipped.
type OptimisticStore struct {
	session launch.RequestStore
	state   launch.RequestStore

	// removeLocks serialize Remove per state value. Each sub-store consumes
	// atomically on its own, but a request saved to both must act as one
	// entry: without this, racing completions could each win a different
	// sub-store and both walk away with the request. Striped so unrelated
	// launches don't contend.
	removeLocks [removeLockStripes]sync.Mutex
}

const removeLockStripes = 64

func (o *OptimisticStore) removeLock(state string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(state))
	return &o.removeLocks[h.Sum32()%removeLockStripes]
}

var _ launch.RequestStore = (*OptimisticStore)(nil)

func NewOptimisticStore(session, state launch.RequestStore) *OptimisticStore {
	return &OptimisticStore{session: session, state: state}
}

// Middleware injects the per-request working-session flag holder. Mount it
// on any router whose handlers use the store.
func (o *OptimisticStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), workingFlagKey, &workingFlag{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HasWorkingSession reports whether this browser previously completed a
// session-bound launch, either earlier in this request or via the marker
// cookie.
func (o *OptimisticStore) HasWorkingSession(r *http.Request) bool {
	if f, ok := r.Context().Value(workingFlagKey).(*workingFlag); ok && f.set {
		return true
	}
	c, err := r.Cookie(WorkingCookieName)
	return err == nil && c != nil
}

func (o *OptimisticStore) setWorkingSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     WorkingCookieName,
		Value:    "true",
		Path:     "/",
		MaxAge:   workingCookieMaxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
	if f, ok := r.Context().Value(workingFlagKey).(*workingFlag); ok {
		f.set = true
	}
}

func (o *OptimisticStore) Load(r *http.Request) (*launch.AuthorizationRequest, error) {
	req, err := o.session.Load(r)
	if err != nil {
		return nil, err
	}
	if req != nil {
		return req, nil
	}
	return o.state.Load(r)
}

// Save always writes the session slot, and writes the state cache too
// unless the browser has already proven a working session.
func (o *OptimisticStore) Save(req *launch.AuthorizationRequest, w http.ResponseWriter, r *http.Request) error {
	if !o.HasWorkingSession(r) {
		if err := o.state.Save(req, w, r); err != nil {
			return err
		}
	}
	return o.session.Save(req, w, r)
}

// Remove consumes the request from both sub-stores. A session hit wins and
// marks the browser's session as working for future initiations. Of two
// racing removals for the same state, exactly one gets the request.
func (o *OptimisticStore) Remove(w http.ResponseWriter, r *http.Request) (*launch.AuthorizationRequest, error) {
	if state := r.FormValue("state"); state != "" {
		mu := o.removeLock(state)
		mu.Lock()
		defer mu.Unlock()
	}
	stateReq, err := o.state.Remove(w, r)
	if err != nil {
		return nil, err
	}
	sessionReq, err := o.session.Remove(w, r)
	if err != nil {
		return nil, err
	}
	if sessionReq != nil {
		o.setWorkingSession(w, r)
		return sessionReq, nil
	}
	return stateReq, nil
}
