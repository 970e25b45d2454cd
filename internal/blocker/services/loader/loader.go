// Package loader acquires the three remote block lists and persists them.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/trackerblock/internal/blocker/common/clock"
	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/services/compiler"
)

// Source is one remote list.
type Source struct {
	Kind domain.ListKind
	URL  string
}

// Outcome describes one list of a pass.
type Outcome struct {
	Kind   domain.ListKind
	URL    string
	Bytes  int
	Digest string
	Err    error
}

// Result describes a complete pass. HasData is evaluated after every fetch finished.
type Result struct {
	Lists   []Outcome
	HasData bool
}

// Failed returns the outcomes that did not persist new content.
func (r Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Lists {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Options configures a Loader. Meta is optional.
type Options struct {
	Sources     []Source
	Fetcher     Fetcher
	Directory   DirectoryStore
	FilterLists FilterListStore
	Meta        FetchRecorder
	Clock       clock.Clock
	Logger      log.Logger
}

// Loader fetches every source concurrently. A failed fetch leaves the previously
// persisted content of that list untouched and never cancels the others. There is
// no retry; see Refresher.
type Loader struct {
	sources   []Source
	fetcher   Fetcher
	directory DirectoryStore
	lists     FilterListStore
	meta      FetchRecorder
	clock     clock.Clock
	logger    log.Logger

	runMu sync.Mutex
}

// New validates opts and returns a Loader.
func New(opts Options) (*Loader, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("loader: fetcher is required")
	}
	if opts.Directory == nil || opts.FilterLists == nil {
		return nil, errors.New("loader: directory and filter list stores are required")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.New("loader: no sources configured")
	}
	seen := make(map[domain.ListKind]bool, len(opts.Sources))
	for _, s := range opts.Sources {
		if seen[s.Kind] {
			return nil, fmt.Errorf("loader: duplicate source for %s", s.Kind)
		}
		seen[s.Kind] = true
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Loader{
		sources:   opts.Sources,
		fetcher:   opts.Fetcher,
		directory: opts.Directory,
		lists:     opts.FilterLists,
		meta:      opts.Meta,
		clock:     opts.Clock,
		logger:    log.OrNoop(opts.Logger),
	}, nil
}

// Start runs a pass in the background and calls onComplete exactly once, after every
// fetch has finished, whatever their outcome.
func (l *Loader) Start(ctx context.Context, onComplete func()) {
	go func() {
		l.Run(ctx)
		if onComplete != nil {
			onComplete()
		}
	}()
}

// Run performs a pass and blocks until every fetch has finished. Overlapping calls
// are serialized.
func (l *Loader) Run(ctx context.Context) Result {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	outcomes := make([]Outcome, len(l.sources))
	var g errgroup.Group
	for i, src := range l.sources {
		g.Go(func() error {
			outcomes[i] = l.fetchOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Lists: outcomes, HasData: l.HasData()}
	l.logger.Info(map[string]any{
		"lists":    len(outcomes),
		"failed":   len(res.Failed()),
		"has_data": res.HasData,
	}, "block_list_refresh_done")
	return res
}

// HasData reports whether the tracker directory and both filter lists are persisted
// and non-empty. It is recomputed from storage on every call.
func (l *Loader) HasData() bool {
	return l.directory.HasData() && l.lists.HasData()
}

func (l *Loader) fetchOne(ctx context.Context, src Source) Outcome {
	out := Outcome{Kind: src.Kind, URL: src.URL}
	started := l.clock.Now()
	body, err := l.fetcher.Fetch(ctx, src.URL)
	if err == nil {
		err = l.persist(src.Kind, body)
	}
	if err != nil {
		out.Err = err
		l.logger.Error(map[string]any{
			"list":  src.Kind.String(),
			"url":   src.URL,
			"error": err,
		}, "block_list_fetch_failed")
		if l.meta != nil {
			if merr := l.meta.RecordFailure(src.Kind, src.URL, started, err); merr != nil {
				l.logger.Warn(map[string]any{"list": src.Kind.String(), "error": merr}, "fetch_meta_write_failed")
			}
		}
		return out
	}
	out.Bytes = len(body)
	out.Digest = compiler.Digest(string(body))
	l.logger.Debug(map[string]any{
		"list":  src.Kind.String(),
		"bytes": out.Bytes,
		"took":  l.clock.Now().Sub(started).String(),
	}, "block_list_persisted")
	if l.meta != nil {
		if merr := l.meta.RecordSuccess(src.Kind, src.URL, started, out.Bytes, out.Digest); merr != nil {
			l.logger.Warn(map[string]any{"list": src.Kind.String(), "error": merr}, "fetch_meta_write_failed")
		}
	}
	return out
}

func (l *Loader) persist(kind domain.ListKind, body []byte) error {
	switch {
	case kind == domain.ListTrackerDirectory:
		return l.directory.Persist(body)
	case kind.IsFilterList():
		return l.lists.Persist(kind, body)
	default:
		return fmt.Errorf("unsupported list kind %s", kind)
	}
}
