package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	repoIface "github.com/edulaunch/ltiauth/pkg/repositories/registration"
)

// SQLiteRepo stores client registrations in a local SQLite database.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteRepo{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS client_registrations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            registration_id TEXT NOT NULL UNIQUE,
            client_id TEXT NOT NULL,
            issuer TEXT NOT NULL,
            authorization_uri TEXT NOT NULL,
            token_uri TEXT,
            key_set_url TEXT,
            redirect_uri_template TEXT,
            scopes TEXT,
            grant_type TEXT NOT NULL DEFAULT 'implicit',
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        );
    `)
	return err
}

// Ensure interface compliance
var _ repoIface.Repository = (*SQLiteRepo)(nil)

func (r *SQLiteRepo) Health() error {
	return r.db.Ping()
}

// Disconnect closes the DB. Safe to call on shutdown.
func (r *SQLiteRepo) Disconnect() {
	_ = r.db.Close()
}

// Register inserts a new registration and returns its ID.
func (r *SQLiteRepo) Register(ctx context.Context, reg *repoIface.ClientRegistration) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO client_registrations
            (registration_id, client_id, issuer, authorization_uri, token_uri, key_set_url, redirect_uri_template, scopes, grant_type, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, reg.RegistrationID, reg.ClientID, reg.Issuer, reg.AuthorizationURI, reg.TokenURI,
		reg.KeySetURL, reg.RedirectURITemplate, strings.Join(reg.Scopes, " "), reg.GrantType, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	reg.ID = id
	reg.CreatedAt = now
	return id, nil
}

// List returns all registrations ordered by newest first.
func (r *SQLiteRepo) List(ctx context.Context) ([]*repoIface.ClientRegistration, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, registration_id, client_id, issuer, authorization_uri, token_uri, key_set_url, redirect_uri_template, scopes, grant_type, created_at
        FROM client_registrations ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*repoIface.ClientRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByRegistrationID returns a registration by registration_id, nil if absent.
func (r *SQLiteRepo) FindByRegistrationID(ctx context.Context, registrationID string) (*repoIface.ClientRegistration, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, registration_id, client_id, issuer, authorization_uri, token_uri, key_set_url, redirect_uri_template, scopes, grant_type, created_at
        FROM client_registrations WHERE registration_id = ?`, registrationID)
	reg, err := scanRegistration(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return reg, nil
}

// DeleteByID deletes a registration by its numeric ID.
func (r *SQLiteRepo) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM client_registrations WHERE id = ?`, id)
	return err
}

func scanRegistration(scan func(dest ...any) error) (*repoIface.ClientRegistration, error) {
	var reg repoIface.ClientRegistration
	var scopes string
	var created time.Time
	if err := scan(&reg.ID, &reg.RegistrationID, &reg.ClientID, &reg.Issuer, &reg.AuthorizationURI,
		&reg.TokenURI, &reg.KeySetURL, &reg.RedirectURITemplate, &scopes, &reg.GrantType, &created); err != nil {
		return nil, err
	}
	if scopes != "" {
		reg.Scopes = strings.Fields(scopes)
	}
	reg.CreatedAt = created
	return &reg, nil
}
