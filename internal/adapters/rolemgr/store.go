package rolemgr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/civicforge/recordengine/internal/config"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

const pgUniqueViolation = "23505"

// SessionStore persists the sessions table (spec.md §3: "the core holds
// its row and invalidates sessions on role change"). Token generation
// uses crypto/rand directly rather than a library: no teacher or pack
// dependency models opaque bearer-token issuance outside of the
// JWT/OAuth machinery spec.md §1 places out of scope, and a random
// 32-byte token is exactly what crypto/rand exists for.
type SessionStore struct {
	db     *sql.DB
	driver config.DBDriver
}

func NewSessionStore(db *sql.DB, driver config.DBDriver) *SessionStore {
	return &SessionStore{db: db, driver: driver}
}

func (s *SessionStore) builder() sqrl.StatementBuilderType {
	if s.driver == config.DBDriverPostgres {
		return sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)
	}

	return sqrl.StatementBuilder.PlaceholderFormat(sqrl.Question)
}

// Create issues a new session token for username, valid for ttl.
func (s *SessionStore) Create(ctx context.Context, username string, ttl time.Duration) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", cerrors.Operational("rolemgr", "generating session token", err)
	}

	now := time.Now().UTC()

	_, err = s.builder().Insert("sessions").
		Columns("token", "username", "created_at", "expires_at").
		Values(token, username, now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano)).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return "", cerrors.Transient("creating session", err)
	}

	return token, nil
}

// Resolve returns the username bound to token, or an Authorization
// error if the token is unknown or expired (spec.md §7: "expired/
// invalid session" is an Authorization failure, "responses deliberately
// uniform to avoid probing").
func (s *SessionStore) Resolve(ctx context.Context, token string) (string, error) {
	row := s.builder().Select("username", "expires_at").
		From("sessions").
		Where(sqrl.Eq{"token": token}).
		RunWith(s.db).
		QueryRowContext(ctx)

	var (
		username, expiresAt string
	)

	if err := row.Scan(&username, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", cerrors.Authorization("invalid or expired session")
		}

		return "", cerrors.Transient("resolving session", err)
	}

	expires, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return "", cerrors.Transient("parsing session expiry", err)
	}

	if time.Now().After(expires) {
		return "", cerrors.Authorization("invalid or expired session")
	}

	return username, nil
}

// Revoke deletes one session by token (logout).
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	_, err := s.builder().Delete("sessions").
		Where(sqrl.Eq{"token": token}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("revoking session", err)
	}

	return nil
}

// RevokeAllForUser deletes every session for username, called on role
// change or account deactivation (spec.md §3).
func (s *SessionStore) RevokeAllForUser(ctx context.Context, username string) error {
	_, err := s.builder().Delete("sessions").
		Where(sqrl.Eq{"username": username}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("revoking sessions for user", err)
	}

	return nil
}

// APIKeyStore persists the api_keys table: unlike sessions, the raw key
// is never stored, only its SHA-256 digest, so a leaked database dump
// cannot be replayed as a credential.
type APIKeyStore struct {
	db     *sql.DB
	driver config.DBDriver
}

func NewAPIKeyStore(db *sql.DB, driver config.DBDriver) *APIKeyStore {
	return &APIKeyStore{db: db, driver: driver}
}

func (s *APIKeyStore) builder() sqrl.StatementBuilderType {
	if s.driver == config.DBDriverPostgres {
		return sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)
	}

	return sqrl.StatementBuilder.PlaceholderFormat(sqrl.Question)
}

func (s *APIKeyStore) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Create mints a new API key for username and returns the raw key —
// the only time it is ever visible; only its digest is persisted.
func (s *APIKeyStore) Create(ctx context.Context, id, username, description string) (rawKey string, err error) {
	rawKey, err = randomToken()
	if err != nil {
		return "", cerrors.Operational("rolemgr", "generating api key", err)
	}

	_, err = s.builder().Insert("api_keys").
		Columns("id", "key_hash", "username", "description", "created_at").
		Values(id, hashKey(rawKey), username, description, time.Now().UTC().Format(time.RFC3339Nano)).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		if s.isUniqueViolation(err) {
			return "", cerrors.Conflict("APIKey", "id", "api key id already exists")
		}

		return "", cerrors.Transient("creating api key", err)
	}

	return rawKey, nil
}

// Resolve returns the username owning rawKey, or Authorization if the
// key is unknown or revoked.
func (s *APIKeyStore) Resolve(ctx context.Context, rawKey string) (string, error) {
	row := s.builder().Select("username", "revoked_at").
		From("api_keys").
		Where(sqrl.Eq{"key_hash": hashKey(rawKey)}).
		RunWith(s.db).
		QueryRowContext(ctx)

	var (
		username string
		revoked  sql.NullString
	)

	if err := row.Scan(&username, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", cerrors.Authorization("invalid or revoked api key")
		}

		return "", cerrors.Transient("resolving api key", err)
	}

	if revoked.Valid && revoked.String != "" {
		return "", cerrors.Authorization("invalid or revoked api key")
	}

	return username, nil
}

// Revoke marks id's key revoked without deleting its audit row.
func (s *APIKeyStore) Revoke(ctx context.Context, id string) error {
	_, err := s.builder().Update("api_keys").
		Set("revoked_at", time.Now().UTC().Format(time.RFC3339Nano)).
		Where(sqrl.Eq{"id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("revoking api key", err)
	}

	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
