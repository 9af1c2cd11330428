package rolemgr

import (
	"context"
	"time"
)

// DefaultSessionTTL is the lifetime Login grants a new session when the
// caller doesn't specify one.
const DefaultSessionTTL = 24 * time.Hour

// Resolver composes the role Catalog with the session/api-key stores
// into the single port recordmanager consumes to turn a caller
// credential into a Principal.
type Resolver struct {
	catalog  *Catalog
	sessions *SessionStore
	apiKeys  *APIKeyStore
}

func NewResolver(catalog *Catalog, sessions *SessionStore, apiKeys *APIKeyStore) *Resolver {
	return &Resolver{catalog: catalog, sessions: sessions, apiKeys: apiKeys}
}

// Login issues a new session for username and returns its token. The
// password (or OAuth) check that authorizes this call already happened
// upstream of this module (spec.md §1 Non-goal); Login's only job is to
// mint and persist the session row.
func (r *Resolver) Login(ctx context.Context, username string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	return r.sessions.Create(ctx, username, ttl)
}

// Logout revokes one session token.
func (r *Resolver) Logout(ctx context.Context, token string) error {
	return r.sessions.Revoke(ctx, token)
}

// FromSessionToken resolves the Principal bound to a bearer session
// token.
func (r *Resolver) FromSessionToken(ctx context.Context, token string) (Principal, error) {
	username, err := r.sessions.Resolve(ctx, token)
	if err != nil {
		return Principal{}, err
	}

	return r.catalog.Resolve(username)
}

// FromAPIKey resolves the Principal bound to a raw API key.
func (r *Resolver) FromAPIKey(ctx context.Context, rawKey string) (Principal, error) {
	username, err := r.apiKeys.Resolve(ctx, rawKey)
	if err != nil {
		return Principal{}, err
	}

	return r.catalog.Resolve(username)
}

// CreateAPIKey mints a new API key bound to username.
func (r *Resolver) CreateAPIKey(ctx context.Context, id, username, description string) (string, error) {
	return r.apiKeys.Create(ctx, id, username, description)
}

// RevokeAPIKey revokes an API key by id.
func (r *Resolver) RevokeAPIKey(ctx context.Context, id string) error {
	return r.apiKeys.Revoke(ctx, id)
}

// OnRoleChange invalidates every session held by username (spec.md §3:
// "the core holds its row and invalidates sessions on role change").
// Call this whenever roles.yml's binding for username is updated.
func (r *Resolver) OnRoleChange(ctx context.Context, username string) error {
	return r.sessions.RevokeAllForUser(ctx, username)
}
