package clock

import (
	"sync"
	"time"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (c RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a manually advanced clock for tests.
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentTime
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.CurrentTime = c.CurrentTime.Add(d)
	c.mu.Unlock()
}

// PerfTimer records elapsed-time marks relative to its last reset and writes
// them to the debug log. One timer belongs to one page load.
type PerfTimer struct {
	clock   Clock
	logger  log.Logger
	mu      sync.Mutex
	started time.Time
}

// NewPerfTimer returns a timer started now.
func NewPerfTimer(c Clock, logger log.Logger) *PerfTimer {
	if c == nil {
		c = RealClock{}
	}
	return &PerfTimer{clock: c, logger: log.OrNoop(logger), started: c.Now()}
}

// Reset restarts the timer.
func (t *PerfTimer) Reset() {
	t.mu.Lock()
	t.started = t.clock.Now()
	t.mu.Unlock()
	t.logger.Debug(nil, "timer_reset")
}

// Mark logs msg with the time elapsed since the last reset and returns it.
// from identifies the emitting side, e.g. "engine" or "host".
func (t *PerfTimer) Mark(msg, from string) time.Duration {
	t.mu.Lock()
	elapsed := t.clock.Now().Sub(t.started)
	t.mu.Unlock()
	t.logger.Debug(map[string]any{
		"from":    from,
		"elapsed": elapsed.Seconds(),
	}, msg)
	return elapsed
}
