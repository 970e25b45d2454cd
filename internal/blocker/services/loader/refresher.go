package loader

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
)

const (
	defaultRefreshInterval = 24 * time.Hour
	defaultTriggerInterval = time.Minute
)

// RefresherOptions configures a Refresher.
type RefresherOptions struct {
	// Interval between scheduled passes.
	Interval time.Duration
	// TriggerInterval is the minimum spacing between manual triggers.
	TriggerInterval time.Duration
	// OnResult, when set, receives the result of every pass.
	OnResult func(Result)
	Logger   log.Logger
}

// Refresher re-runs a Runner on a schedule and on demand. A failed list is fetched
// again on the next pass.
type Refresher struct {
	runner   Runner
	interval time.Duration
	limiter  *rate.Limiter
	onResult func(Result)
	logger   log.Logger
	trigger  chan struct{}
}

// NewRefresher returns a Refresher; Run starts it.
func NewRefresher(runner Runner, opts RefresherOptions) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = defaultRefreshInterval
	}
	if opts.TriggerInterval <= 0 {
		opts.TriggerInterval = defaultTriggerInterval
	}
	return &Refresher{
		runner:   runner,
		interval: opts.Interval,
		limiter:  rate.NewLimiter(rate.Every(opts.TriggerInterval), 1),
		onResult: opts.OnResult,
		logger:   log.OrNoop(opts.Logger),
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. It returns false when the request was throttled.
// A pending trigger absorbs further ones.
func (r *Refresher) Trigger() bool {
	if !r.limiter.Allow() {
		r.logger.Debug(nil, "refresh_trigger_throttled")
		return false
	}
	select {
	case r.trigger <- struct{}{}:
	default:
	}
	return true
}

// Run performs a pass immediately, then on every tick or trigger, until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.pass(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx, "schedule")
		case <-r.trigger:
			r.pass(ctx, "trigger")
		}
	}
}

func (r *Refresher) pass(ctx context.Context, reason string) {
	r.logger.Info(map[string]any{"reason": reason}, "refresh_start")
	res := r.runner.Run(ctx)
	if r.onResult != nil {
		r.onResult(res)
	}
}
