// Package workflowcfg defines the configured Workflow Config and Role
// entities of spec.md §3 (statuses[], transitions{}, role permission sets)
// as loaded from workflows.yml / roles.yml (spec.md §6).
package workflowcfg

import (
	"os"

	"gopkg.in/yaml.v3"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// RolePermissions is one role's permission set (spec.md §3 Role entity).
// can_transition maps a from-status to its allowed to-statuses for this
// role; "any" is a wildcard source only (spec.md §4.4).
type RolePermissions struct {
	CanCreate      []string            `yaml:"can_create,omitempty"`
	CanEdit        []string            `yaml:"can_edit,omitempty"`
	CanDelete      []string            `yaml:"can_delete,omitempty"`
	CanView        []string            `yaml:"can_view,omitempty"`
	CanTransition  map[string][]string `yaml:"can_transition,omitempty"`
}

const (
	WildcardAny = "*"
	// AnySource is the wildcard source status in can_transition keys.
	AnySource = "any"

	RoleAdmin  = "admin"
	RolePublic = "public"
)

// RecordTypeOverride replaces (not merges) the global statuses/transitions
// for one record type (spec.md §3).
type RecordTypeOverride struct {
	Statuses    []string            `yaml:"statuses,omitempty"`
	Transitions map[string][]string `yaml:"transitions,omitempty"`
}

// Config is the parsed workflows.yml (spec.md §6).
type Config struct {
	Statuses    []string                       `yaml:"statuses"`
	Transitions map[string][]string             `yaml:"transitions"`
	Roles       map[string]RolePermissions      `yaml:"roles"`
	RecordTypes map[string]RecordTypeOverride   `yaml:"recordTypes,omitempty"`
}

// StatusesFor returns the status set in effect for recordType: the
// per-type override if one exists, else the global set (spec.md §3).
func (c *Config) StatusesFor(recordType string) []string {
	if o, ok := c.RecordTypes[recordType]; ok && len(o.Statuses) > 0 {
		return o.Statuses
	}

	return c.Statuses
}

// TransitionsFor returns the transitions map in effect for recordType.
func (c *Config) TransitionsFor(recordType string) map[string][]string {
	if o, ok := c.RecordTypes[recordType]; ok && len(o.Transitions) > 0 {
		return o.Transitions
	}

	return c.Transitions
}

// Validate checks the invariant that every status in transitions
// keys/values exists in statuses[] (spec.md §3).
func (c *Config) Validate() error {
	known := make(map[string]bool, len(c.Statuses))
	for _, s := range c.Statuses {
		known[s] = true
	}

	for from, tos := range c.Transitions {
		if !known[from] {
			return &configError{msg: "transitions key " + from + " is not a configured status"}
		}

		for _, to := range tos {
			if !known[to] {
				return &configError{msg: "transitions target " + to + " is not a configured status"}
			}
		}
	}

	for recordType, o := range c.RecordTypes {
		statuses := o.Statuses
		if len(statuses) == 0 {
			statuses = c.Statuses
		}

		overrideKnown := make(map[string]bool, len(statuses))
		for _, s := range statuses {
			overrideKnown[s] = true
		}

		for from, tos := range o.Transitions {
			if !overrideKnown[from] {
				return &configError{msg: "recordTypes." + recordType + ".transitions key " + from + " is not a configured status"}
			}

			for _, to := range tos {
				if !overrideKnown[to] {
					return &configError{msg: "recordTypes." + recordType + ".transitions target " + to + " is not a configured status"}
				}
			}
		}
	}

	return nil
}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

// Load reads and parses workflows.yml at path and validates it (spec.md
// §6). Mirrors rolemgr.LoadCatalog's read-then-unmarshal shape for the
// sibling roles.yml file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Operational("workflowcfg", "reading workflows.yml", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, cerrors.Operational("workflowcfg", "parsing workflows.yml", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cerrors.Validation("WorkflowConfig", "invalid_config", err.Error())
	}

	return &cfg, nil
}

// RoleDefinition is one entry of the extended role catalog (spec.md §6
// roles.yml): description, baseline permissions, and workflow flags beyond
// the bare RolePermissions used by canAct/canTransition.
type RoleDefinition struct {
	Description      string   `yaml:"description,omitempty"`
	Permissions      []string `yaml:"permissions,omitempty"`
	ApprovalRequired bool     `yaml:"approval_required,omitempty"`
	CanPublish       bool     `yaml:"can_publish,omitempty"`
	CanMerge         bool     `yaml:"can_merge,omitempty"`
}

// UserBinding is one roles.yml user entry (spec.md §6).
type UserBinding struct {
	Role        string         `yaml:"role"`
	Name        string         `yaml:"name,omitempty"`
	Email       string         `yaml:"email,omitempty"`
	Active      bool           `yaml:"active"`
	Created     string         `yaml:"created,omitempty"`
	Permissions []string       `yaml:"permissions,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
}

// RolesFile is the parsed roles.yml: user bindings plus role definitions.
type RolesFile struct {
	Users map[string]UserBinding    `yaml:"users"`
	Roles map[string]RoleDefinition `yaml:"roles"`
}
