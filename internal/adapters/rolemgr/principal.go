// Package rolemgr implements the Auth/Role Resolver of spec.md §4.12:
// maps an authenticated caller (session token, API key, or bare
// username) to a Principal carrying the role the Workflow Engine's
// CanAct/CanTransition consume, and owns the sessions/api_keys tables
// spec.md §3 assigns to "the auth subsystem."
//
// Authentication provider plumbing itself — OAuth exchange, password
// hashing algorithm choice — is an explicit spec.md §1 Non-goal ("the
// core consumes an already-resolved principal"); this package resolves
// a principal from a credential the core already trusts (a session row,
// an api_keys row) rather than performing the password check or OAuth
// handshake that produced it.
//
// No teacher package does role resolution this way (the teacher's
// authorization is an external Casdoor/lib-auth service reached over
// HTTP, not modeled in this pack); grounded instead on
// internal/domain/workflowcfg's RolesFile/RoleDefinition shape (spec.md
// §6 roles.yml) for the role catalog, and on the teacher's
// single-connection-hub adapters for the session/api-key store, same
// as internal/adapters/sagaexec.Store.
package rolemgr

// Principal is the authenticated caller identity the Record Manager and
// Workflow Engine consume (spec.md §3 Glossary: "Principal").
type Principal struct {
	Username string
	Role     string
}

// IsPublic reports whether p is the unauthenticated caller: spec.md §3
// "Special public role grants view only over published statuses."
func (p Principal) IsPublic() bool { return p.Role == "" || p.Role == "public" }

// Public is the Principal assigned to an unauthenticated caller.
var Public = Principal{Role: "public"}
