package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// PostgresStore persists retrospects and their messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS retrospects (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_retrospects_user_created ON retrospects (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS retrospect_messages (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			retrospect_id TEXT NOT NULL REFERENCES retrospects(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_retrospect_messages_created ON retrospect_messages (retrospect_id, created_at DESC, seq DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AddRetrospects(ctx context.Context, records []retrospect.Retrospect) ([]retrospect.Retrospect, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]retrospect.Retrospect, 0, len(records))
	for _, r := range records {
		row := tx.QueryRow(ctx,
			`INSERT INTO retrospects (id, user_id, status, is_pinned, summary, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, user_id, status, is_pinned, summary, created_at`,
			r.ID, r.UserID, string(r.Status), r.IsPinned, r.Summary, r.CreatedAt,
		)
		stored, err := scanRetrospect(row)
		if err != nil {
			return nil, fmt.Errorf("insert retrospect: %w", err)
		}
		out = append(out, stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FetchRetrospects(ctx context.Context, q retrospect.Query) ([]retrospect.Retrospect, error) {
	if q.Sort.Key != "" && q.Sort.Key != retrospect.SortKeyCreatedAt {
		return nil, fmt.Errorf("fetch retrospects: unsupported sort key %q", q.Sort.Key)
	}

	var (
		where []string
		args  []any
	)
	if q.Predicate.UserID != "" {
		args = append(args, q.Predicate.UserID)
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if q.Predicate.Status != "" {
		args = append(args, string(q.Predicate.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if q.Predicate.Pinned != nil {
		args = append(args, *q.Predicate.Pinned)
		where = append(where, fmt.Sprintf("is_pinned=$%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, status, is_pinned, summary, created_at FROM retrospects`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if q.Sort.Ascending {
		sb.WriteString(" ORDER BY created_at ASC, seq ASC")
	} else {
		sb.WriteString(" ORDER BY created_at DESC, seq DESC")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query retrospects: %w", err)
	}
	defer rows.Close()

	out := make([]retrospect.Retrospect, 0, max(q.Limit, 0))
	for rows.Next() {
		r, err := scanRetrospect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retrospect row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retrospect rows: %w", err)
	}
	return out, nil
}

// UpdateRetrospect applies updated only if the stored row still matches old.
func (s *PostgresStore) UpdateRetrospect(ctx context.Context, old, updated retrospect.Retrospect) (retrospect.Retrospect, error) {
	if old.ID != updated.ID {
		return retrospect.Retrospect{}, fmt.Errorf("update retrospect: id mismatch %s != %s", old.ID, updated.ID)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE retrospects SET status=$5, is_pinned=$6, summary=$7
		  WHERE id=$1 AND status=$2 AND is_pinned=$3 AND summary=$4
		  RETURNING id, user_id, status, is_pinned, summary, created_at`,
		old.ID, string(old.Status), old.IsPinned, old.Summary,
		string(updated.Status), updated.IsPinned, updated.Summary,
	)
	stored, err := scanRetrospect(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return retrospect.Retrospect{}, fmt.Errorf("update retrospect: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM retrospects WHERE id=$1)`, old.ID).Scan(&exists); err != nil {
		return retrospect.Retrospect{}, fmt.Errorf("check retrospect: %w", err)
	}
	if !exists {
		return retrospect.Retrospect{}, fmt.Errorf("update retrospect %s: %w", old.ID, retrospect.ErrStoreNotFound)
	}
	return retrospect.Retrospect{}, fmt.Errorf("update retrospect %s: %w", old.ID, retrospect.ErrStoreConflict)
}

// DeleteRetrospects removes every record or none. Messages cascade.
func (s *PostgresStore) DeleteRetrospects(ctx context.Context, records []retrospect.Retrospect) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range records {
		tag, err := tx.Exec(ctx, `DELETE FROM retrospects WHERE id=$1`, r.ID)
		if err != nil {
			return fmt.Errorf("delete retrospect: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("delete retrospect %s: %w", r.ID, retrospect.ErrStoreNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddMessages(ctx context.Context, msgs []retrospect.Message) ([]retrospect.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]retrospect.Message, 0, len(msgs))
	for _, m := range msgs {
		var stored retrospect.Message
		var role string
		err := tx.QueryRow(ctx,
			`INSERT INTO retrospect_messages (id, retrospect_id, role, content, created_at)
			 SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM retrospects WHERE id=$2)
			 RETURNING id, retrospect_id, role, content, created_at`,
			m.ID, m.RetrospectID, string(m.Role), m.Content, m.CreatedAt,
		).Scan(&stored.ID, &stored.RetrospectID, &role, &stored.Content, &stored.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("add message to %s: %w", m.RetrospectID, retrospect.ErrStoreNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		stored.Role = retrospect.Role(role)
		out = append(out, stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FetchMessages(ctx context.Context, q retrospect.MessageQuery) ([]retrospect.Message, error) {
	args := []any{q.RetrospectID, max(q.Offset, 0)}
	query := `SELECT id, retrospect_id, role, content, created_at
	            FROM retrospect_messages WHERE retrospect_id=$1
	           ORDER BY created_at DESC, seq DESC OFFSET $2`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $3`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := make([]retrospect.Message, 0, max(q.Limit, 0))
	for rows.Next() {
		var (
			m    retrospect.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.RetrospectID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = retrospect.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRetrospect(row pgx.Row) (retrospect.Retrospect, error) {
	var (
		r      retrospect.Retrospect
		status string
	)
	if err := row.Scan(&r.ID, &r.UserID, &status, &r.IsPinned, &r.Summary, &r.CreatedAt); err != nil {
		return retrospect.Retrospect{}, err
	}
	r.Status = retrospect.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
