// Package recordmanager implements the Record Manager orchestrator of
// spec.md §4.6: the command/query surface (create/update/setStatus/
// delete/get/list/validate) that composes the Workflow Engine, Record
// Store, Git Gateway, Index DB, Saga Executor, Cache Manager, and Hook
// Bus into one transactional API.
//
// Grounded on LerianStudio/midaz's command/query UseCase split
// (services/command, services/query, each a small struct embedding
// the repository ports it needs) — Manager plays the role of one such
// UseCase struct, but unlike the teacher's per-entity UseCase, it owns
// every record operation since spec.md models one entity (Record), not
// several. Saga-wrapped mutation is grounded on
// components/transaction's create-then-commit-then-compensate flow
// (CreateOrCheckIdempotencyKey -> ... -> rollback on failure),
// generalized here to the explicit step/compensate shape
// internal/adapters/sagaexec exposes.
package recordmanager

import (
	"context"

	"github.com/civicforge/recordengine/internal/adapters/cachemgr"
	"github.com/civicforge/recordengine/internal/adapters/fsstore"
	"github.com/civicforge/recordengine/internal/adapters/gitgw"
	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/domain/workflowcfg"
	"github.com/civicforge/recordengine/internal/workflow"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// UserChecker validates that a username is known, for author/authors[]
// checks (spec.md §4.6). Satisfied by *rolemgr.Catalog.
type UserChecker interface {
	Exists(username string) bool
}

// OpContext carries the per-call controls spec.md §4.6 names alongside
// every operation's Principal: which hook events to dry-run, whether
// to suppress human-facing output (a CLI concern this module doesn't
// render but still threads through so the caller can honor it), and an
// optional idempotency key for saga replay.
type OpContext struct {
	DryRunHooks    []string
	Silent         bool
	IdempotencyKey string
}

func (c OpContext) dryRunSet() map[hookbus.Event]bool {
	set := make(map[hookbus.Event]bool, len(c.DryRunHooks))
	for _, name := range c.DryRunHooks {
		set[hookbus.Event(name)] = true
	}

	return set
}

// Manager is the Record Manager orchestrator.
type Manager struct {
	workflowCfg *workflowcfg.Config
	engine      *workflow.Engine
	store       *fsstore.Store
	git         *gitgw.Gateway
	repo        recdomain.Repository
	sagas       *sagaexec.Executor
	cache       *cachemgr.Manager
	bus         *hookbus.Bus
	users       UserChecker
	logger      mlog.Logger

	identity gitgw.Identity
}

// New constructs a Manager. identity is the git author/committer
// identity every commit this Manager makes is attributed to at the
// gateway level (spec.md §4.2: identity supplied per call, not read
// from global git config) — here it is fixed per Manager instance
// since one process typically represents one service account; a
// per-call Principal still drives role checks and the frontmatter
// `author` field independently.
func New(
	workflowCfg *workflowcfg.Config,
	store *fsstore.Store,
	git *gitgw.Gateway,
	repo recdomain.Repository,
	sagas *sagaexec.Executor,
	cache *cachemgr.Manager,
	bus *hookbus.Bus,
	users UserChecker,
	identity gitgw.Identity,
	logger mlog.Logger,
) *Manager {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	if cache == nil {
		cache = cachemgr.New(cachemgr.Never{}, nil)
	}

	return &Manager{
		workflowCfg: workflowCfg,
		engine:      workflow.New(workflowCfg),
		store:       store,
		git:         git,
		repo:        repo,
		sagas:       sagas,
		cache:       cache,
		bus:         bus,
		users:       users,
		identity:    identity,
		logger:      logger,
	}
}

// Get loads a record by id (UUID string) or by records-relative path.
// Role filter: a non-privileged public caller never sees a record whose
// status is not in the published set, recdomain.PublishedStatuses
// (spec.md §4.6 "role filter hides unpublished statuses from public").
func (m *Manager) Get(ctx context.Context, principal rolemgr.Principal, idOrPath string) (*recdomain.Record, error) {
	rec, err := m.lookup(ctx, idOrPath)
	if err != nil {
		return nil, err
	}

	if err := m.checkView(principal, rec); err != nil {
		return nil, err
	}

	content, err := m.store.Read(m.store.PathFor(rec.Type, rec.Slug))
	if err != nil {
		return nil, err
	}

	rec.Content = content.Content

	return rec, nil
}

func (m *Manager) checkView(principal rolemgr.Principal, rec *recdomain.Record) error {
	if principal.IsPublic() && !isPublishedStatus(rec.Status) {
		return cerrors.NotFound("Record", rec.Slug)
	}

	decision := m.engine.CanAct(principal.Role, workflow.ActionView, rec.Type)
	if !decision.Valid {
		return cerrors.Authorization(decision.Reason)
	}

	return nil
}

// isPublishedStatus reports whether status is one the public role may
// view; every other status (draft, proposed, rejected, ...) is hidden.
func isPublishedStatus(status string) bool {
	for _, s := range recdomain.PublishedStatuses() {
		if s == status {
			return true
		}
	}

	return false
}

// List delegates to the Index DB (DB-authoritative per spec.md §4.6)
// and drops unpublished records for a public caller.
func (m *Manager) List(ctx context.Context, principal rolemgr.Principal, filter recdomain.Filter) (*recdomain.Page, error) {
	if principal.IsPublic() {
		filter.PublicOnly = true
	}

	return m.repo.List(ctx, filter)
}

// lookup resolves idOrPath to the Index DB's record row: a UUID string
// looks up by ID, anything else is treated as a records-relative path
// and parsed into (type, slug).
func (m *Manager) lookup(ctx context.Context, idOrPath string) (*recdomain.Record, error) {
	if id, ok := parseUUID(idOrPath); ok {
		return m.repo.GetByID(ctx, id)
	}

	recordType, slug, err := splitPath(idOrPath)
	if err != nil {
		return nil, err
	}

	return m.repo.GetByTypeSlug(ctx, recordType, slug)
}
