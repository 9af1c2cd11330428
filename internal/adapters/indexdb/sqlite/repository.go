// Package sqlite implements the Index DB's record.Repository port against
// the default sqlite backend (modernc.org/sqlite), selected by
// config.DBDriverSQLite.
//
// Grounded on organization.postgresql.go's repository shape
// (Create/Update/Find/FindAll/Delete backed by raw SQL + squirrel for
// the dynamic list query) and on jra3-linear-fuse's sqlite-with-WAL
// connection discipline, adapted to the sqlite placeholder style
// (squirrel.Question instead of squirrel.Dollar).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

// Repository is the sqlite-backed record.Repository implementation.
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
		Values(rec.ID.String(), rec.Slug, rec.Type, rec.Title, rec.Status, rec.Author, rec.Path(), metadata, geography,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return cerrors.Operational("index_insert", "building insert query", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return cerrors.Conflict("Record", "slug_exists", "a record with this type and slug already exists")
		}

		return cerrors.Transient("inserting record", err)
	}

	if err := r.replaceAuthors(ctx, rec); err != nil {
		return err
	}

	return nil
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
		Set("updated_at", rec.UpdatedAt.UTC().Format(time.RFC3339Nano)).
		Where(sqrl.Eq{"id": rec.ID.String()}).
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
	query, args, err := sqrl.Delete("records").Where(sqrl.Eq{"id": id.String()}).ToSql()
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
	return r.scanOne(ctx, sqrl.Eq{"id": id.String()})
}

func (r *Repository) GetByTypeSlug(ctx context.Context, recordType, slug string) (*recdomain.Record, error) {
	return r.scanOne(ctx, sqrl.Eq{"type": recordType, "slug": slug})
}

func (r *Repository) scanOne(ctx context.Context, pred sqrl.Eq) (*recdomain.Record, error) {
	query, args, err := sqrl.Select("id", "slug", "type", "title", "status", "author", "metadata", "geography", "created_at", "updated_at").
		From("records").
		Where(pred).
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
			b = b.Where(sqrl.Like{"title": "%" + filter.Query + "%"})
		}

		if filter.PublicOnly {
			b = b.Where(sqrl.Eq{"status": recdomain.PublishedStatuses()})
		}

		return b
	}

	countQuery, countArgs, err := where(sqrl.Select("COUNT(*)").From("records")).ToSql()
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

	query, args, err := base.OrderBy("created_at DESC").Limit(uint64(limit)).Offset(uint64(filter.Offset)).ToSql()
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
	query, args, err := sqrl.Select("1").From("records").Where(sqrl.Eq{"type": recordType, "slug": slug}).ToSql()
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
	if _, err := r.db.ExecContext(ctx, `DELETE FROM record_authors WHERE record_id = ?`, rec.ID.String()); err != nil {
		return cerrors.Transient("clearing record authors", err)
	}

	for _, a := range rec.Authors {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO record_authors (record_id, username, role) VALUES (?, ?, ?)`,
			rec.ID.String(), a.Username, a.Role); err != nil {
			return cerrors.Transient("inserting record author", err)
		}
	}

	return nil
}

func (r *Repository) loadAuthors(ctx context.Context, id uuid.UUID) ([]recdomain.Author, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username, role FROM record_authors WHERE record_id = ?`, id.String())
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
		rec                  recdomain.Record
		id                   string
		metadata             string
		geography            *string
		createdAt, updatedAt string
	)

	if err := row.Scan(&id, &rec.Slug, &rec.Type, &rec.Title, &rec.Status, &rec.Author, &metadata, &geography, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}

	rec.ID = parsedID

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

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}

	rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
