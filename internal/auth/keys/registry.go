// Package keys issues and tracks developer keys: long-lived bearer
// credentials for scripts and the CLI, bounded per namespace.
package keys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/token"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/logger"
)

// Store persists developer keys. Implementations need not be safe for
// concurrent count-then-insert; the Registry serializes that.
type Store interface {
	// Insert appends key to its namespace.
	Insert(ctx context.Context, key models.DeveloperKey) error
	// List returns a namespace's keys in insertion order.
	List(ctx context.Context, namespace string) ([]models.DeveloperKey, error)
	// DeleteBySuffix removes a namespace's keys ending in suffix.
	DeleteBySuffix(ctx context.Context, namespace, suffix string) (int, error)
	// DeleteExpired removes a namespace's keys whose expiry is at or before now.
	DeleteExpired(ctx context.Context, namespace string, now time.Time) (int, error)
	// Exists reports whether key is stored under any namespace.
	Exists(ctx context.Context, key string) (bool, error)
}

// Minter signs developer keys.
type Minter interface {
	EncodeWithSalt(identity models.Identity, ttl time.Duration, salt string) (string, error)
}

// Registry enforces the per-namespace key cap on top of a Store.
type Registry struct {
	store   Store
	minter  Minter
	ttl     time.Duration
	maxKeys int
	now     func() time.Time

	// mu makes count-then-insert atomic so the cap holds under concurrent mints
	mu sync.Mutex
}

// NewRegistry creates a registry from the auth configuration.
func NewRegistry(store Store, minter *token.Codec, cfg *config.AuthConfig) *Registry {
	return newRegistry(store, minter, cfg.DeveloperKeyTTL, cfg.MaxNewKeys, time.Now)
}

func newRegistry(store Store, minter Minter, ttl time.Duration, maxKeys int, now func() time.Time) *Registry {
	return &Registry{
		store:   store,
		minter:  minter,
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     now,
	}
}

// MaxKeys returns the per-namespace cap.
func (r *Registry) MaxKeys() int {
	return r.maxKeys
}

// Mint issues a new key for namespace carrying identity. It fails with
// KindQuotaExceeded when the namespace already holds the maximum number of
// live keys; nothing is evicted.
func (r *Registry) Mint(ctx context.Context, namespace string, identity models.Identity) (models.DeveloperKey, error) {
	if namespace == "" {
		return models.DeveloperKey{}, apperrors.New(apperrors.KindInvalid, "namespace is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if _, err := r.store.DeleteExpired(ctx, namespace, now); err != nil {
		return models.DeveloperKey{}, fmt.Errorf("failed to prune expired keys: %w", err)
	}

	existing, err := r.store.List(ctx, namespace)
	if err != nil {
		return models.DeveloperKey{}, fmt.Errorf("failed to list keys: %w", err)
	}
	if len(existing) >= r.maxKeys {
		return models.DeveloperKey{}, apperrors.New(apperrors.KindQuotaExceeded,
			fmt.Sprintf("namespace %s already has the maximum of %d developer keys; revoke one first", namespace, r.maxKeys))
	}

	raw, err := r.minter.EncodeWithSalt(identity, r.ttl, uuid.NewString())
	if err != nil {
		return models.DeveloperKey{}, fmt.Errorf("failed to sign developer key: %w", err)
	}

	key := models.DeveloperKey{
		Key:       raw,
		Namespace: namespace,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	if err := r.store.Insert(ctx, key); err != nil {
		return models.DeveloperKey{}, fmt.Errorf("failed to store developer key: %w", err)
	}

	logger.Info("Minted developer key",
		zap.String("namespace", namespace),
		zap.String("login", identity.Login),
		logger.Tail("key", raw),
	)
	return key, nil
}

// List returns the live keys of namespace in insertion order.
func (r *Registry) List(ctx context.Context, namespace string) ([]models.DeveloperKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.DeleteExpired(ctx, namespace, r.now()); err != nil {
		return nil, fmt.Errorf("failed to prune expired keys: %w", err)
	}
	keys, err := r.store.List(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Revoke removes every key of namespace ending in suffix and returns how
// many were removed. Removing none is not an error.
func (r *Registry) Revoke(ctx context.Context, namespace, suffix string) (int, error) {
	if suffix == "" {
		return 0, apperrors.New(apperrors.KindInvalid, "key suffix is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.store.DeleteBySuffix(ctx, namespace, suffix)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke keys: %w", err)
	}
	logger.Info("Revoked developer keys",
		zap.String("namespace", namespace),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// Active reports whether key is still registered. Expiry is checked by the
// token codec, not here.
func (r *Registry) Active(ctx context.Context, key string) (bool, error) {
	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to look up developer key: %w", err)
	}
	return ok, nil
}
