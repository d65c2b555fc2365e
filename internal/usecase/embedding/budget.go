package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// BudgetAction defines behavior when a token budget is exhausted.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but lets the request through.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject fails the request with domain.ErrEmbeddingQuotaExceeded.
	BudgetActionReject BudgetAction = "reject"
)

// Budget period names, also used as the period metric label.
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// BudgetLimits caps embedding tokens per period. Zero means unlimited.
type BudgetLimits struct {
	Daily   int64
	Monthly int64
	Action  BudgetAction
}

// CounterStore persists period counters. IncrBy must set ttl only on a fresh key.
type CounterStore interface {
	IncrBy(ctx context.Context, key string, val int64, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, error)
}

// PeriodUsage is a point-in-time view of one budget period.
type PeriodUsage struct {
	Period    string `json:"period"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"` // -1 when unlimited
}

type period struct {
	name     string
	limit    int64
	used     int64
	start    time.Time
	layout   string
	ttl      time.Duration
	truncate func(time.Time) time.Time
}

func (p *period) roll(now time.Time) {
	if cur := p.truncate(now); cur.After(p.start) {
		p.start = cur
		p.used = 0
	}
}

func (p *period) exhausted() bool { return p.limit > 0 && p.used >= p.limit }

func (p *period) usage() PeriodUsage {
	u := PeriodUsage{Period: p.name, Used: p.used, Limit: p.limit, Remaining: -1}
	if p.limit > 0 {
		u.Remaining = max(p.limit-p.used, 0)
	}
	return u
}

// Budget tracks embedding token spend per day and per month.
// Check reads in-memory counters only; Record writes behind to the optional store.
type Budget struct {
	mu       sync.Mutex
	provider string
	action   BudgetAction
	periods  []*period
	store    CounterStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewBudget creates a budget for provider.
func NewBudget(provider string, limits BudgetLimits, logger *zap.Logger) *Budget {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Budget{
		provider: provider,
		action:   limits.Action,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	now := b.now()
	b.periods = []*period{
		{
			name: PeriodDaily, limit: limits.Daily, layout: "2006-01-02", ttl: 48 * time.Hour,
			truncate: func(t time.Time) time.Time {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			},
		},
		{
			name: PeriodMonthly, limit: limits.Monthly, layout: "2006-01", ttl: 62 * 24 * time.Hour,
			truncate: func(t time.Time) time.Time {
				return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
			},
		},
	}
	for _, p := range b.periods {
		p.start = p.truncate(now)
	}
	return b
}

// WithStore attaches persistent counters and seeds the in-memory state from them.
func (b *Budget) WithStore(ctx context.Context, store CounterStore) *Budget {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	now := b.now()
	for _, p := range b.periods {
		p.roll(now)
		val, err := store.Get(ctx, b.key(p, now))
		if err != nil {
			b.logger.Warn("Failed to load embedding budget", zap.String("period", p.name), zap.Error(err))
			continue
		}
		p.used = val
	}
	b.logger.Info("Embedding budget loaded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.periods[0].used),
		zap.Int64("monthly_used", b.periods[1].used),
	)
	return b
}

func (b *Budget) key(p *period, now time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", domain.KeyPrefix, b.provider, p.name, now.Format(p.layout))
}

// Check reports whether a new request may spend tokens.
func (b *Budget) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var over []string
	for _, p := range b.periods {
		p.roll(now)
		if p.exhausted() {
			over = append(over, p.name)
		}
	}
	if len(over) == 0 {
		return nil
	}
	if b.action == BudgetActionReject {
		return fmt.Errorf("%s %v budget: %w", b.provider, over, domain.ErrEmbeddingQuotaExceeded)
	}
	b.logger.Warn("Embedding token budget exceeded",
		zap.String("provider", b.provider), zap.Strings("periods", over))
	return nil
}

// Record adds spent tokens to every period.
func (b *Budget) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	now := b.now()
	type write struct {
		key string
		ttl time.Duration
	}
	writes := make([]write, 0, len(b.periods))
	for _, p := range b.periods {
		p.roll(now)
		p.used += tokens
		writes = append(writes, write{key: b.key(p, now), ttl: p.ttl})
	}
	store := b.store
	b.mu.Unlock()

	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, w := range writes {
		if err := store.IncrBy(ctx, w.key, tokens, w.ttl); err != nil {
			b.logger.Warn("Failed to persist embedding budget", zap.String("key", w.key), zap.Error(err))
		}
	}
}

// Usage returns the daily and monthly counters, in that order.
func (b *Budget) Usage() []PeriodUsage {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]PeriodUsage, 0, len(b.periods))
	for _, p := range b.periods {
		p.roll(now)
		out = append(out, p.usage())
	}
	return out
}
