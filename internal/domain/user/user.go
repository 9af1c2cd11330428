// Package user defines the User entity (spec.md §3) and its repository
// port, following the same entity+port split as the record package.
package user

import (
	"context"
	"regexp"
	"time"
)

// AuthProvider names how a user authenticates. "password" is the only
// provider the core manages a password_hash for; any other value is an
// external identifier and the core refuses to set/change a password for it
// (spec.md §3 invariant, the "external-provider guard").
type AuthProvider string

const (
	AuthProviderPassword AuthProvider = "password"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9-]{3,50}$`)

// reservedUsernames blocks names that would collide with system concepts
// (spec.md §3 "reserved names blocked").
var reservedUsernames = map[string]bool{
	"admin": true, "root": true, "system": true, "public": true, "anonymous": true,
}

// ValidUsername reports whether username satisfies spec.md §3: lowercase,
// alphanumeric-hyphen, 3-50 chars, not reserved.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username) && !reservedUsernames[username]
}

// User is a registered principal.
type User struct {
	ID             int64
	Username       string
	Email          string
	Name           string
	Role           string
	AuthProvider   AuthProvider
	PasswordHash   string
	EmailVerified  bool
	CreatedAt      time.Time
}

// CanManagePassword reports whether the core is allowed to set/change this
// user's password (spec.md §3, §8 boundary: non-password auth_provider
// users are guarded before the DB is ever touched).
func (u *User) CanManagePassword() bool {
	return u.AuthProvider == AuthProviderPassword
}

// Repository is the Index DB's view of users.
type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	Update(ctx context.Context, u *User) (*User, error)
	Delete(ctx context.Context, id int64) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Exists(ctx context.Context, username string) (bool, error)
}
