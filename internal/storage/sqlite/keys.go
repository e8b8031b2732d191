package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pepkit/pephub-sub000/internal/auth/keys"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
)

// KeyStore implements keys.Store on the developer_keys table.
type KeyStore struct {
	db *DB
}

func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

var _ keys.Store = (*KeyStore)(nil)

func (s *KeyStore) Insert(ctx context.Context, key models.DeveloperKey) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO developer_keys (key, namespace, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		key.Key, key.Namespace, toMillis(key.CreatedAt), toMillis(key.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting developer key: %w", err)
	}
	return nil
}

func (s *KeyStore) List(ctx context.Context, namespace string) ([]models.DeveloperKey, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT key, namespace, created_at, expires_at FROM developer_keys
		 WHERE namespace = ? ORDER BY seq`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("listing developer keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.DeveloperKey
	for rows.Next() {
		var (
			k                  models.DeveloperKey
			created, expiresAt int64
		)
		if err := rows.Scan(&k.Key, &k.Namespace, &created, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning developer key: %w", err)
		}
		k.CreatedAt = fromMillis(created)
		k.ExpiresAt = fromMillis(expiresAt)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating developer keys: %w", err)
	}
	return out, nil
}

func (s *KeyStore) DeleteBySuffix(ctx context.Context, namespace, suffix string) (int, error) {
	// substr with a negative start reads from the end, avoiding LIKE wildcards
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM developer_keys WHERE namespace = ? AND substr(key, -?) = ?`,
		namespace, len(suffix), suffix,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking developer keys: %w", err)
	}
	return affected(res)
}

func (s *KeyStore) DeleteExpired(ctx context.Context, namespace string, now time.Time) (int, error) {
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM developer_keys WHERE namespace = ? AND expires_at <= ?`,
		namespace, toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning developer keys: %w", err)
	}
	return affected(res)
}

func (s *KeyStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM developer_keys WHERE key = ?)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("looking up developer key: %w", err)
	}
	return exists, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func affected(res rowsAffecter) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}
