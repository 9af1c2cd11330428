// Package postgres implements the Index DB's record.Repository port
// against the optional postgres backend (pgx/v5 + lib/pq for array
// support), selected by config.DBDriverPostgres.
//
// Grounded directly on organization.postgresql.go: squirrel with
// sqrl.Dollar placeholders, pgconn.PgError inspection for constraint
// violations, and child-table helpers on the same Repository
// (replaceAuthors/loadAuthors) for the one-to-many authors relation,
// mirroring the teacher's portfolio/asset one-to-many patterns.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

const uniqueViolation = "23505"

// Repository is the postgres-backed record.Repository implementation.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ recdomain.Repository = (*Repository)(nil)

func (r *Repository) Insert(ctx context.Context, rec *recdomain.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.Must(uuid.NewV7())
	}

	metadata, err := indexdb.MarshalMetadata(rec.Metadata)
	if err != nil {
		return cerrors.Validation("Record", "invalid_metadata", err.Error())
	}

	geography, err := indexdb.MarshalGeography(rec.Geography)
	if err != nil {
		return cerrors.Validation("Record", "invalid_geography", err.Error())
	}

	query, args, err := sqrl.Insert("records").
		Columns("id", "slug", "type", "title", "status", "author", "path", "metadata", "geography", "created_at", "updated_at").
		Values(rec.ID, rec.Slug, rec.Type, rec.Title, rec.Status, rec.Author, rec.Path(), metadata, geography,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return cerrors.Operational("index_insert", "building insert query", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return cerrors.Conflict("Record", "slug_exists", "a record with this type and slug already exists")
		}

		return cerrors.Transient("inserting record", err)
	}

	return r.replaceAuthors(ctx, rec)
}

func (r *Repository) Update(ctx context.Context, rec *recdomain.Record) error {
	metadata, err := indexdb.MarshalMetadata(rec.Metadata)
	if err != nil {
		return cerrors.Validation("Record", "invalid_metadata", err.Error())
	}

	geography, err := indexdb.MarshalGeography(rec.Geography)
	if err != nil {
		return cerrors.Validation("Record", "invalid_geography", err.Error())
	}

	query, args, err := sqrl.Update("records").
		Set("title", rec.Title).
		Set("status", rec.Status).
		Set("author", rec.Author).
		Set("path", rec.Path()).
		Set("metadata", metadata).
		Set("geography", geography).
		Set("updated_at", rec.UpdatedAt.UTC()).
		Where(sqrl.Eq{"id": rec.ID}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return cerrors.Operational("index_update", "building update query", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return cerrors.Transient("updating record", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return cerrors.NotFound("Record", rec.ID.String())
	}

	return r.replaceAuthors(ctx, rec)
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := sqrl.Delete("records").Where(sqrl.Eq{"id": id}).PlaceholderFormat(sqrl.Dollar).ToSql()
	if err != nil {
		return cerrors.Operational("index_delete", "building delete query", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return cerrors.Transient("deleting record", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return cerrors.NotFound("Record", id.String())
	}

	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*recdomain.Record, error) {
	return r.scanOne(ctx, sqrl.Eq{"id": id})
}

func (r *Repository) GetByTypeSlug(ctx context.Context, recordType, slug string) (*recdomain.Record, error) {
	return r.scanOne(ctx, sqrl.Eq{"type": recordType, "slug": slug})
}

// GetByIDs batch-loads records for reconciliation passes (the indexing
// service's FS<->DB diff works a page of IDs at a time rather than one
// row per round trip). Grounded directly on organization.postgresql.go's
// ListByIDs, which uses pq.Array to pass a Go slice as a single ANY($1)
// bind parameter instead of building one placeholder per ID.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*recdomain.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, type, title, status, author, metadata, geography, created_at, updated_at
		 FROM records WHERE id = ANY($1) ORDER BY created_at DESC`, pq.Array(ids))
	if err != nil {
		return nil, cerrors.Transient("batch loading records", err)
	}

	defer rows.Close()

	var records []*recdomain.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, cerrors.Transient("scanning record row", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *Repository) scanOne(ctx context.Context, pred sqrl.Eq) (*recdomain.Record, error) {
	query, args, err := sqrl.Select("id", "slug", "type", "title", "status", "author", "metadata", "geography", "created_at", "updated_at").
		From("records").
		Where(pred).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return nil, cerrors.Operational("index_get", "building select query", err)
	}

	row := r.db.QueryRowContext(ctx, query, args...)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cerrors.NotFound("Record", "")
		}

		return nil, cerrors.Transient("reading record", err)
	}

	authors, err := r.loadAuthors(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	rec.Authors = authors

	return rec, nil
}

func (r *Repository) List(ctx context.Context, filter recdomain.Filter) (*recdomain.Page, error) {
	where := func(b sqrl.SelectBuilder) sqrl.SelectBuilder {
		if filter.Type != "" {
			b = b.Where(sqrl.Eq{"type": filter.Type})
		}

		if filter.Status != "" {
			b = b.Where(sqrl.Eq{"status": filter.Status})
		}

		if filter.Author != "" {
			b = b.Where(sqrl.Eq{"author": filter.Author})
		}

		if filter.Query != "" {
			b = b.Where(sqrl.ILike{"title": "%" + filter.Query + "%"})
		}

		if filter.PublicOnly {
			b = b.Where(sqrl.Eq{"status": recdomain.PublishedStatuses()})
		}

		return b
	}

	countQuery, countArgs, err := where(sqrl.Select("COUNT(*)").From("records")).PlaceholderFormat(sqrl.Dollar).ToSql()
	if err != nil {
		return nil, cerrors.Operational("index_list_count", "building count query", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, cerrors.Transient("counting records", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	base := where(sqrl.Select("id", "slug", "type", "title", "status", "author", "metadata", "geography", "created_at", "updated_at").
		From("records"))

	query, args, err := base.OrderBy("created_at DESC").Limit(uint64(limit)).Offset(uint64(filter.Offset)).
		PlaceholderFormat(sqrl.Dollar).ToSql()
	if err != nil {
		return nil, cerrors.Operational("index_list", "building list query", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cerrors.Transient("listing records", err)
	}

	defer rows.Close()

	var records []*recdomain.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, cerrors.Transient("scanning record row", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, cerrors.Transient("iterating record rows", err)
	}

	return &recdomain.Page{Records: records, Total: total}, nil
}

func (r *Repository) SlugExists(ctx context.Context, recordType, slug string) (bool, error) {
	query, args, err := sqrl.Select("1").From("records").Where(sqrl.Eq{"type": recordType, "slug": slug}).
		PlaceholderFormat(sqrl.Dollar).ToSql()
	if err != nil {
		return false, cerrors.Operational("index_slug_exists", "building query", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, cerrors.Transient("checking slug existence", err)
	default:
		return true, nil
	}
}

func (r *Repository) replaceAuthors(ctx context.Context, rec *recdomain.Record) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM record_authors WHERE record_id = $1`, rec.ID); err != nil {
		return cerrors.Transient("clearing record authors", err)
	}

	for _, a := range rec.Authors {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO record_authors (record_id, username, role) VALUES ($1, $2, $3)`,
			rec.ID, a.Username, a.Role); err != nil {
			return cerrors.Transient("inserting record author", err)
		}
	}

	return nil
}

func (r *Repository) loadAuthors(ctx context.Context, id uuid.UUID) ([]recdomain.Author, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username, role FROM record_authors WHERE record_id = $1`, id)
	if err != nil {
		return nil, cerrors.Transient("loading record authors", err)
	}

	defer rows.Close()

	var authors []recdomain.Author

	for rows.Next() {
		var a recdomain.Author
		if err := rows.Scan(&a.Username, &a.Role); err != nil {
			return nil, cerrors.Transient("scanning author row", err)
		}

		authors = append(authors, a)
	}

	return authors, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*recdomain.Record, error) {
	var (
		rec       recdomain.Record
		metadata  string
		geography *string
	)

	if err := row.Scan(&rec.ID, &rec.Slug, &rec.Type, &rec.Title, &rec.Status, &rec.Author, &metadata, &geography, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	m, err := indexdb.UnmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	rec.Metadata = m

	g, err := indexdb.UnmarshalGeography(geography)
	if err != nil {
		return nil, err
	}

	rec.Geography = g
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return &rec, nil
}
