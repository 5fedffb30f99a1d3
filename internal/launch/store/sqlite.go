package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edulaunch/ltiauth/pkg/launch"
)

// SQLiteStateStore is a state-keyed store backed by SQLite, for deployments
// where several processes must see the same in-flight launches. Same
// contract as StateStore; atomic consumption comes from a transaction
// instead of a mutex.
type SQLiteStateStore struct {
	db  *sql.DB
	ttl time.Duration

	limitIPAddress bool
	onIPMismatch   MismatchHandler
}

var _ launch.RequestStore = (*SQLiteStateStore)(nil)

func NewSQLiteStateStore(path string, ttl time.Duration) (*SQLiteStateStore, error) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS launch_requests (
    state TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    remote_ip TEXT,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_launch_requests_expires_at ON launch_requests(expires_at);
`); err != nil {
		return nil, err
	}
	return &SQLiteStateStore{
		db:             db,
		ttl:            ttl,
		limitIPAddress: true,
		onIPMismatch:   func(string, string) {},
	}, nil
}

func (s *SQLiteStateStore) Disconnect() { _ = s.db.Close() }

func (s *SQLiteStateStore) SetLimitIPAddress(limit bool) { s.limitIPAddress = limit }

func (s *SQLiteStateStore) SetIPMismatchHandler(h MismatchHandler) {
	if h != nil {
		s.onIPMismatch = h
	}
}

func (s *SQLiteStateStore) Load(r *http.Request) (*launch.AuthorizationRequest, error) {
	state := r.FormValue("state")
	if state == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(r.Context(),
		`SELECT data, remote_ip, expires_at FROM launch_requests WHERE state = ?`, state)
	return s.scan(row.Scan, remoteIP(r))
}

func (s *SQLiteStateStore) Save(req *launch.AuthorizationRequest, w http.ResponseWriter, r *http.Request) error {
	if req == nil || req.State == "" {
		return errors.New("store: authorization request state cannot be empty")
	}
	ip := req.Attribute(launch.AttrRemoteIP)
	if ip == "" {
		ip = remoteIP(r)
		if req.Attributes == nil {
			req.Attributes = map[string]string{}
		}
		req.Attributes[launch.AttrRemoteIP] = ip
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	// Best-effort sweep of expired entries.
	_, _ = s.db.ExecContext(r.Context(), `DELETE FROM launch_requests WHERE expires_at < CURRENT_TIMESTAMP`)
	_, err = s.db.ExecContext(r.Context(),
		`INSERT OR REPLACE INTO launch_requests (state, data, remote_ip, expires_at) VALUES (?, ?, ?, ?)`,
		req.State, string(data), ip, time.Now().Add(s.ttl).UTC())
	return err
}

// Remove consumes the stored request. The DELETE's affected-row count
// decides the winner when completions race.
func (s *SQLiteStateStore) Remove(w http.ResponseWriter, r *http.Request) (*launch.AuthorizationRequest, error) {
	state := r.FormValue("state")
	if state == "" {
		return nil, nil
	}
	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(r.Context(),
		`SELECT data, remote_ip, expires_at FROM launch_requests WHERE state = ?`, state)
	req, err := s.scan(row.Scan, remoteIP(r))
	if err != nil || req == nil {
		return nil, err
	}
	res, err := tx.ExecContext(r.Context(), `DELETE FROM launch_requests WHERE state = ?`, state)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return req, nil
}

func (s *SQLiteStateStore) scan(scan func(dest ...any) error, currentIP string) (*launch.AuthorizationRequest, error) {
	var data, initialIP string
	var expiresAt time.Time
	if err := scan(&data, &initialIP, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if time.Now().After(expiresAt) {
		return nil, nil
	}
	var req launch.AuthorizationRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, err
	}
	if initialIP != "" && initialIP != currentIP {
		s.onIPMismatch(initialIP, currentIP)
		if s.limitIPAddress {
			return nil, nil
		}
	}
	return &req, nil
}
