// Package config implements the Config Resolver (spec.md §2, §6): discovers
// and loads the root .civicrc manifest, derives the data directory,
// database target, and feature toggles.
//
// Grounded on the teacher's internal/bootstrap/config.go Config struct
// (env-tag driven, SetConfigFromEnvVars) layered here on top of a YAML
// manifest instead of pure-env config, since spec.md §6 names .civicrc as
// a YAML file on disk rather than an environment-only configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DBDriver selects the Index DB backend (spec.md §4.3).
type DBDriver string

const (
	DBDriverSQLite   DBDriver = "sqlite"
	DBDriverPostgres DBDriver = "postgres"
)

// Manifest is the parsed .civicrc file.
type Manifest struct {
	DataDir  string          `yaml:"dataDir,omitempty"`
	Database DatabaseConfig  `yaml:"database,omitempty"`
	Identity IdentityConfig  `yaml:"identity,omitempty"`
	Broker   BrokerConfig    `yaml:"broker,omitempty"`
	Cache    CacheConfig     `yaml:"cache,omitempty"`
	Features map[string]bool `yaml:"features,omitempty"`
}

// DatabaseConfig describes the Index DB target.
type DatabaseConfig struct {
	Driver DBDriver `yaml:"driver,omitempty"`
	DSN    string   `yaml:"dsn,omitempty"`
}

// IdentityConfig is the git author/committer identity the Git Gateway
// attributes every commit the engine itself makes to (spec.md §4.2:
// identity is supplied per call, not read from global git config).
// Defaults fill in when the manifest omits it so a bare `civic init`
// still produces working commits.
type IdentityConfig struct {
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// BrokerConfig optionally points the Hook Bus's async dispatch mode at
// an external broker (spec.md §4.5). With an empty URL the Bus has no
// async transport: sync handlers still run, async handlers are logged
// and skipped.
type BrokerConfig struct {
	URL      string `yaml:"url,omitempty"`
	Exchange string `yaml:"exchange,omitempty"`
}

// CacheConfig selects the Cache Manager's default strategy and, for the
// memory strategy, an optional Redis backing (spec.md §4.9).
type CacheConfig struct {
	Strategy   string `yaml:"strategy,omitempty"`
	MaxEntries int    `yaml:"maxEntries,omitempty"`
	RedisAddr  string `yaml:"redisAddr,omitempty"`
}

// Config is the resolved, ready-to-use configuration the rest of the
// engine's bootstrap consumes.
type Config struct {
	RootDir  string
	DataDir  string
	Database DatabaseConfig
	Identity IdentityConfig
	Broker   BrokerConfig
	Cache    CacheConfig
	Features map[string]bool
}

// DefaultIdentity is used whenever the manifest leaves identity unset.
var DefaultIdentity = IdentityConfig{Name: "Civic Record Engine", Email: "records@localhost"}

// WorkflowsPath, RolesPath, HooksPath, StoragePath return the paths to the
// fixed .civic/ config files (spec.md §6 repository layout).
func (c *Config) WorkflowsPath() string { return filepath.Join(c.RootDir, ".civic", "workflows.yml") }
func (c *Config) RolesPath() string     { return filepath.Join(c.RootDir, ".civic", "roles.yml") }
func (c *Config) HooksPath() string     { return filepath.Join(c.RootDir, ".civic", "hooks.yml") }
func (c *Config) StoragePath() string   { return filepath.Join(c.RootDir, ".civic", "storage.yml") }
func (c *Config) TemplatesDir() string  { return filepath.Join(c.RootDir, ".civic", "templates") }
func (c *Config) PartialsDir() string   { return filepath.Join(c.RootDir, ".civic", "partials") }
func (c *Config) RecordsDir() string    { return filepath.Join(c.RootDir, "records") }
func (c *Config) ArchiveDir() string    { return filepath.Join(c.RootDir, "records", "archive") }
func (c *Config) IndexFile() string     { return filepath.Join(c.RootDir, "records", "index.yml") }
func (c *Config) SystemDataDir() string { return filepath.Join(c.RootDir, ".system-data") }
func (c *Config) SQLiteFile() string    { return filepath.Join(c.SystemDataDir(), "civic.db") }
func (c *Config) ActivityLogFile() string {
	return filepath.Join(c.SystemDataDir(), "activity.log")
}

// Feature reports whether a named feature toggle is enabled, defaulting to
// false for unknown toggles.
func (c *Config) Feature(name string) bool {
	return c.Features[name]
}

// Resolve discovers the .civicrc manifest starting at startDir and walking
// upward (the way git discovers .git), loads it, and derives the Config.
func Resolve(startDir string) (*Config, error) {
	root, err := discoverRoot(startDir)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(root, ".civicrc")

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading .civicrc: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing .civicrc: %w", err)
	}

	dataDir := root
	if m.DataDir != "" {
		dataDir = m.DataDir
		if !filepath.IsAbs(dataDir) {
			dataDir = filepath.Join(root, dataDir)
		}
	}

	db := m.Database
	if db.Driver == "" {
		db.Driver = DBDriverSQLite
	}

	identity := m.Identity
	if identity.Name == "" {
		identity.Name = DefaultIdentity.Name
	}
	if identity.Email == "" {
		identity.Email = DefaultIdentity.Email
	}

	return &Config{
		RootDir:  dataDir,
		DataDir:  dataDir,
		Database: db,
		Identity: identity,
		Broker:   m.Broker,
		Cache:    m.Cache,
		Features: m.Features,
	}, nil
}

// discoverRoot walks upward from startDir looking for .civicrc, the way
// git resolves a working tree from any subdirectory.
func discoverRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".civicrc")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .civicrc found above %s", startDir)
		}

		dir = parent
	}
}

// Init creates a new .civicrc manifest and the fixed .civic/records/
// .system-data directory skeleton at dir (backs the `civic init` CLI
// command's core contract — spec.md §6).
func Init(dir string) (*Config, error) {
	manifestPath := filepath.Join(dir, ".civicrc")
	if _, err := os.Stat(manifestPath); err == nil {
		return nil, fmt.Errorf("%s already exists", manifestPath)
	}

	m := Manifest{Database: DatabaseConfig{Driver: DBDriverSQLite}}

	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(manifestPath, raw, 0o644); err != nil {
		return nil, err
	}

	cfg := &Config{RootDir: dir, DataDir: dir, Database: m.Database, Identity: DefaultIdentity}

	for _, d := range []string{
		filepath.Join(dir, ".civic", "templates"),
		filepath.Join(dir, ".civic", "partials"),
		cfg.RecordsDir(),
		cfg.ArchiveDir(),
		cfg.SystemDataDir(),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	if err := os.WriteFile(cfg.WorkflowsPath(), []byte(defaultWorkflowsYAML), 0o644); err != nil {
		return nil, err
	}

	if err := os.WriteFile(cfg.RolesPath(), []byte(defaultRolesYAML), 0o644); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultWorkflowsYAML seeds a freshly initialized repository with the
// minimal statuses/transitions/roles a single generic record type
// needs (spec.md §6), so `civic init` produces a repository the
// bootstrap container can immediately load without a hand-authored
// workflows.yml.
const defaultWorkflowsYAML = `statuses:
  - draft
  - proposed
  - approved
  - rejected
  - archived
transitions:
  draft: [proposed]
  proposed: [approved, rejected]
  approved: [archived]
  rejected: [draft]
roles:
  admin:
    can_create: ["*"]
    can_edit: ["*"]
    can_delete: ["*"]
    can_view: ["*"]
    can_transition:
      any: [draft, proposed, approved, rejected, archived]
  editor:
    can_create: ["*"]
    can_edit: ["*"]
    can_view: ["*"]
    can_transition:
      draft: [proposed]
  approver:
    can_view: ["*"]
    can_transition:
      proposed: [approved, rejected]
      approved: [archived]
  public:
    can_view: ["*"]
`

// defaultRolesYAML seeds the user/role catalog with a single admin
// binding so the repository's creator has a working session from the
// first commit onward.
const defaultRolesYAML = `users:
  admin:
    role: admin
    active: true
roles:
  admin:
    description: full access
    can_publish: true
    can_merge: true
  editor:
    description: creates and edits records
  approver:
    description: approves or rejects proposed records
    approval_required: true
  public:
    description: unauthenticated read-only access
`
