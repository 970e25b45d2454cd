package engine

import (
	"sync/atomic"

	"github.com/haukened/trackerblock/internal/blocker/common/clock"
	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// CacheWriter receives cache-store messages.
type CacheWriter interface {
	Put(name, data string)
}

// DispatcherOptions configures a Dispatcher. Every field is optional.
type DispatcherOptions struct {
	Cache       CacheWriter
	Timer       *clock.PerfTimer
	OnDetection func(domain.TrackerDetection)
	Logger      log.Logger
}

// Dispatcher is the host side of the message boundary. It validates every message
// against its schema and routes it: cache stores seed the parsed-list cache,
// detections go to OnDetection (or the log) and timer marks go to the PerfTimer.
type Dispatcher struct {
	cache       CacheWriter
	timer       *clock.PerfTimer
	onDetection func(domain.TrackerDetection)
	logger      log.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		cache:       opts.Cache,
		timer:       opts.Timer,
		onDetection: opts.OnDetection,
		logger:      log.OrNoop(opts.Logger),
	}
}

// Post validates and routes msg. Invalid messages are dropped and reported.
func (d *Dispatcher) Post(msg domain.HostMessage) error {
	if msg == nil {
		d.rejected.Add(1)
		return domain.ErrInvalidMessage
	}
	if err := msg.Validate(); err != nil {
		d.rejected.Add(1)
		d.logger.Warn(map[string]any{"kind": msg.Kind().String(), "error": err}, "host_message_rejected")
		return err
	}
	d.accepted.Add(1)
	switch m := msg.(type) {
	case domain.TimerMessage:
		if d.timer != nil {
			d.timer.Mark(m.Text, "engine")
		}
	case domain.TrackerDetectedMessage:
		if d.onDetection != nil {
			d.onDetection(m.TrackerDetection)
			return nil
		}
		d.logger.Info(map[string]any{
			"url":     m.URL,
			"parent":  m.ParentDomain,
			"blocked": m.Blocked,
			"method":  string(m.Method),
		}, "tracker_detected")
	case domain.CacheStoreMessage:
		if d.cache != nil {
			d.cache.Put(m.Name, m.Data)
		}
	}
	return nil
}

// Stats returns the number of accepted and rejected messages.
func (d *Dispatcher) Stats() (accepted, rejected uint64) {
	return d.accepted.Load(), d.rejected.Load()
}
