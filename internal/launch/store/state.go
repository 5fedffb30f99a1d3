package store

import (
	"errors"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/edulaunch/ltiauth/pkg/launch"
)

// DefaultStateTTL bounds how long an in-flight launch may take between
// initiation and completion when only the state-keyed cache holds it.
const DefaultStateTTL = time.Minute

// StateStore keeps in-flight authorization requests keyed by their state
// value. Looking requests up by a value the platform round-trips would
// normally expose the login to CSRF, so the caller's IP is recorded at save
// time and compared on load.
//
// Entries expire lazily per key; unrelated launches never contend on a lock
// held across I/O.
type StateStore struct {
	cache *gocache.Cache
	// mu guards the load-compare-delete sequence in Remove so a state can
	// be consumed at most once.
	mu sync.Mutex

	limitIPAddress bool
	onIPMismatch   MismatchHandler
}

var _ launch.RequestStore = (*StateStore)(nil)

// NewStateStore creates a state-keyed store whose entries live for ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		cache:          gocache.New(ttl, time.Minute),
		limitIPAddress: true,
		onIPMismatch:   func(string, string) {},
	}
}

// SetLimitIPAddress controls whether an IP mismatch turns the lookup into a
// miss. Disabling it helps mobile clients that rotate addresses mid-launch;
// the mismatch handler still fires either way.
func (s *StateStore) SetLimitIPAddress(limit bool) { s.limitIPAddress = limit }

// SetIPMismatchHandler replaces the observer called on IP mismatches.
func (s *StateStore) SetIPMismatchHandler(h MismatchHandler) {
	if h != nil {
		s.onIPMismatch = h
	}
}

func (s *StateStore) Load(r *http.Request) (*launch.AuthorizationRequest, error) {
	state := r.FormValue("state")
	if state == "" {
		return nil, nil
	}
	return s.lookup(state, remoteIP(r)), nil
}

func (s *StateStore) Save(req *launch.AuthorizationRequest, w http.ResponseWriter, r *http.Request) error {
	if req == nil || req.State == "" {
		return errors.New("store: authorization request state cannot be empty")
	}
	if req.Attribute(launch.AttrRemoteIP) == "" {
		if req.Attributes == nil {
			req.Attributes = map[string]string{}
		}
		req.Attributes[launch.AttrRemoteIP] = remoteIP(r)
	}
	s.cache.SetDefault(req.State, req)
	return nil
}

func (s *StateStore) Remove(w http.ResponseWriter, r *http.Request) (*launch.AuthorizationRequest, error) {
	state := r.FormValue("state")
	if state == "" {
		return nil, nil
	}
	ip := remoteIP(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.lookup(state, ip)
	if req != nil {
		s.cache.Delete(state)
	}
	return req, nil
}

func (s *StateStore) lookup(state, currentIP string) *launch.AuthorizationRequest {
	v, ok := s.cache.Get(state)
	if !ok {
		return nil
	}
	req, ok := v.(*launch.AuthorizationRequest)
	if !ok {
		return nil
	}
	if initial := req.Attribute(launch.AttrRemoteIP); initial != "" && initial != currentIP {
		// Even when not limiting by IP the observer gets called.
		s.onIPMismatch(initial, currentIP)
		if s.limitIPAddress {
			return nil
		}
	}
	return req
}
