package loader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs atomic.Int32
}

func (c *countingRunner) Run(context.Context) Result {
	c.runs.Add(1)
	return Result{HasData: true}
}

func TestRefresher_RunsAtStartupAndOnTrigger(t *testing.T) {
	runner := &countingRunner{}
	results := make(chan Result, 8)
	r := NewRefresher(runner, RefresherOptions{
		Interval:        time.Hour,
		TriggerInterval: time.Hour,
		OnResult:        func(res Result) { results <- res },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	select {
	case res := <-results:
		assert.True(t, res.HasData)
	case <-time.After(2 * time.Second):
		t.Fatal("no startup pass")
	}

	assert.True(t, r.Trigger())
	assert.False(t, r.Trigger(), "second trigger inside the interval is throttled")

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not run a pass")
	}
	assert.Equal(t, int32(2), runner.runs.Load())

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRefresher_Schedule(t *testing.T) {
	runner := &countingRunner{}
	r := NewRefresher(runner, RefresherOptions{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	assert.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewRefresher_Defaults(t *testing.T) {
	r := NewRefresher(&countingRunner{}, RefresherOptions{})
	assert.Equal(t, defaultRefreshInterval, r.interval)
	assert.NotNil(t, r.limiter)
}
