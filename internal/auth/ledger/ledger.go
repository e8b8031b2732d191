// Package ledger stores short-lived, single-use exchange codes issued at the
// end of an OAuth callback.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/config"
)

var (
	// ErrNotFound is returned by Take for codes that were never issued, were
	// already redeemed, or have expired. The three cases are indistinguishable.
	ErrNotFound = errors.New("exchange code not found")

	// ErrDuplicate is returned by Put when the code is already present.
	ErrDuplicate = errors.New("exchange code already exists")
)

// Ledger maps exchange codes to exchange records.
//
// Take is an atomic read and delete: of any number of concurrent Take calls
// for one code at most one returns the record.
type Ledger interface {
	Put(ctx context.Context, code string, record models.ExchangeRecord, ttl time.Duration) error
	Take(ctx context.Context, code string) (models.ExchangeRecord, error)
	Close() error
}

// New builds the ledger selected by cfg.
func New(cfg *config.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case config.LedgerBackendMemory, "":
		return NewMemoryLedger(WithSweepInterval(cfg.SweepInterval)), nil
	case config.LedgerBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisLedger(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}

// Module provides the configured Ledger and closes it on shutdown.
var Module = fx.Module("ledger",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, l Ledger) {
		lc.Append(fx.StopHook(l.Close))
	}),
)
