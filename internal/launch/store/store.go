// Package store provides the authorization request stores backing the
// launch flow: a session-bound store, a state-keyed TTL cache (in-memory or
// sqlite-backed) and the optimistic store composing the two.
package store

import (
	"net"
	"net/http"
)

// MismatchHandler is invoked when a completion request arrives from a
// different IP address than the one recorded at initiation time. Intended
// for observability; it runs whether or not IP pinning is enabled.
type MismatchHandler func(initialIP, currentIP string)

// remoteIP returns the caller's address without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
