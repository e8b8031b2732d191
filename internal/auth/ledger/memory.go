package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often expired codes are removed.
const DefaultSweepInterval = 30 * time.Second

type memoryEntry struct {
	record    models.ExchangeRecord
	expiresAt time.Time
}

// MemoryLedger keeps codes in a process-local map. Expired entries are
// removed by one background sweep; Take also refuses entries that are past
// their expiry but not yet swept. Restarting the process drops every code.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	now           func() time.Time
	sweepInterval time.Duration

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithSweepInterval sets how often expired codes are swept. Zero keeps the
// default.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(l *MemoryLedger) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// WithClock replaces time.Now, for tests. Values from time.Now carry a
// monotonic reading, so wall clock jumps do not affect expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) {
		l.now = now
	}
}

// NewMemoryLedger creates the ledger and starts its sweep goroutine.
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.sweepLoop()
	return l
}

// Put stores record under code until ttl elapses.
func (l *MemoryLedger) Put(_ context.Context, code string, record models.ExchangeRecord, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if existing, ok := l.entries[code]; ok && now.Before(existing.expiresAt) {
		return ErrDuplicate
	}
	l.entries[code] = memoryEntry{record: record, expiresAt: now.Add(ttl)}
	return nil
}

// Take removes code and returns its record.
func (l *MemoryLedger) Take(_ context.Context, code string) (models.ExchangeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[code]
	if !ok {
		return models.ExchangeRecord{}, ErrNotFound
	}
	delete(l.entries, code)

	if !l.now().Before(entry.expiresAt) {
		return models.ExchangeRecord{}, ErrNotFound
	}
	return entry.record, nil
}

// Len returns the number of stored entries, expired ones included.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops the sweep goroutine and waits for it to exit.
func (l *MemoryLedger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopSweep)
	})
	<-l.sweepDone
	return nil
}

func (l *MemoryLedger) sweepLoop() {
	defer close(l.sweepDone)

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopSweep:
			return
		case <-ticker.C:
			if removed := l.sweep(); removed > 0 {
				logger.Debug("Swept expired exchange codes", zap.Int("removed", removed))
			}
		}
	}
}

// sweep deletes expired entries. It shares the lock with Take, so a code is
// either redeemed or swept, never both.
func (l *MemoryLedger) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for code, entry := range l.entries {
		if !now.Before(entry.expiresAt) {
			delete(l.entries, code)
			removed++
		}
	}
	return removed
}
