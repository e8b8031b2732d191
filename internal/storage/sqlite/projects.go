package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pepkit/pephub-sub000/internal/projects"
)

// ProjectStore implements projects.Store on the projects table.
type ProjectStore struct {
	db *DB
}

func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

var _ projects.Store = (*ProjectStore)(nil)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getFacts(ctx context.Context, q queryRower, ref projects.Ref) (projects.Facts, error) {
	f := projects.Facts{Namespace: ref.Namespace, Name: ref.Name, Tag: ref.Tag}
	err := q.QueryRowContext(ctx,
		`SELECT is_private, forked_from FROM projects WHERE namespace = ? AND name = ? AND tag = ?`,
		ref.Namespace, ref.Name, ref.Tag,
	).Scan(&f.IsPrivate, &f.ForkedFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return projects.Facts{}, projects.ErrNotFound
	}
	if err != nil {
		return projects.Facts{}, fmt.Errorf("looking up project %s: %w", ref, err)
	}
	return f, nil
}

func (s *ProjectStore) Facts(ctx context.Context, ref projects.Ref) (projects.Facts, error) {
	return getFacts(ctx, s.db.db, ref)
}

func (s *ProjectStore) Create(ctx context.Context, facts projects.Facts) error {
	if facts.Tag == "" {
		facts.Tag = projects.DefaultTag
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO projects (namespace, name, tag, is_private, forked_from) VALUES (?, ?, ?, ?, ?)`,
		facts.Namespace, facts.Name, facts.Tag, facts.IsPrivate, facts.ForkedFrom,
	)
	if isConstraintViolation(err) {
		return projects.ErrExists
	}
	if err != nil {
		return fmt.Errorf("inserting project %s: %w", facts.Ref(), err)
	}
	return nil
}

func (s *ProjectStore) SetPrivate(ctx context.Context, ref projects.Ref, private bool) (projects.Facts, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return projects.Facts{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET is_private = ? WHERE namespace = ? AND name = ? AND tag = ?`,
		private, ref.Namespace, ref.Name, ref.Tag,
	)
	if err != nil {
		return projects.Facts{}, fmt.Errorf("updating project %s: %w", ref, err)
	}
	n, err := affected(res)
	if err != nil {
		return projects.Facts{}, err
	}
	if n == 0 {
		return projects.Facts{}, projects.ErrNotFound
	}

	f, err := getFacts(ctx, tx, ref)
	if err != nil {
		return projects.Facts{}, err
	}
	if err := tx.Commit(); err != nil {
		return projects.Facts{}, fmt.Errorf("committing transaction: %w", err)
	}
	return f, nil
}

func (s *ProjectStore) Fork(ctx context.Context, source, dest projects.Ref) (projects.Facts, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return projects.Facts{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	src, err := getFacts(ctx, tx, source)
	if err != nil {
		return projects.Facts{}, err
	}
	forked := projects.Facts{
		Namespace:  dest.Namespace,
		Name:       dest.Name,
		Tag:        dest.Tag,
		IsPrivate:  src.IsPrivate,
		ForkedFrom: source.String(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (namespace, name, tag, is_private, forked_from) VALUES (?, ?, ?, ?, ?)`,
		forked.Namespace, forked.Name, forked.Tag, forked.IsPrivate, forked.ForkedFrom,
	)
	if isConstraintViolation(err) {
		return projects.Facts{}, projects.ErrExists
	}
	if err != nil {
		return projects.Facts{}, fmt.Errorf("inserting fork %s: %w", dest, err)
	}
	if err := tx.Commit(); err != nil {
		return projects.Facts{}, fmt.Errorf("committing transaction: %w", err)
	}
	return forked, nil
}
