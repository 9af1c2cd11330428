package rolemgr

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/civicforge/recordengine/internal/domain/workflowcfg"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// Catalog is the parsed roles.yml (spec.md §6): the user->role binding
// table and the extended per-role descriptions (approval_required,
// can_publish, can_merge) beyond the bare permission sets
// workflowcfg.Config.Roles carries for CanAct/CanTransition.
type Catalog struct {
	file workflowcfg.RolesFile
}

// LoadCatalog reads and parses roles.yml at path.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Operational("rolemgr", "reading roles.yml", err)
	}

	var file workflowcfg.RolesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, cerrors.Operational("rolemgr", "parsing roles.yml", err)
	}

	return &Catalog{file: file}, nil
}

// Resolve maps username to its Principal. An inactive or unknown
// binding resolves to an error rather than silently falling back to
// public, so a revoked user's stale session is rejected explicitly.
func (c *Catalog) Resolve(username string) (Principal, error) {
	binding, ok := c.file.Users[username]
	if !ok {
		return Principal{}, cerrors.NotFound("User", username)
	}

	if !binding.Active {
		return Principal{}, cerrors.Authorization("user " + username + " is not active")
	}

	return Principal{Username: username, Role: binding.Role}, nil
}

// Definition returns the extended role description for role, if one is
// configured.
func (c *Catalog) Definition(role string) (workflowcfg.RoleDefinition, bool) {
	def, ok := c.file.Roles[role]
	return def, ok
}

// Exists reports whether username has a binding in roles.yml, active or
// not. Used by the Record Manager's author/authors[] validation (spec.md
// §4.6: "each entry's username must exist in the user table at write
// time") — unlike Resolve, an inactive user still counts as "exists" for
// this check.
func (c *Catalog) Exists(username string) bool {
	_, ok := c.file.Users[username]
	return ok
}
