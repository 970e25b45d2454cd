package engine

import (
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/trackerblock/internal/blocker/common/clock"
	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/common/utils"
	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/services/compiler"
)

// ErrInvalidTopURL is returned by OpenPage for a top document without a host.
var ErrInvalidTopURL = errors.New("invalid top-level document URL")

// SessionOptions configures a Session. Lists, Cache and Compiler are required.
type SessionOptions struct {
	Lists     ListSource
	Directory TrackerDirectory
	Cache     ParsedCache
	Compiler  *compiler.Compiler
	// Host receives engine messages. Defaults to a Dispatcher writing into Cache.
	Host Host
	// DecisionCacheSize bounds the per-page decision cache; <= 0 disables it.
	DecisionCacheSize int
	// Timing posts timer marks while a page is opened.
	Timing bool
	Clock  clock.Clock
	Logger log.Logger
}

// Session owns everything scoped to one browsing session: the parsed-list cache,
// compile deduplication and the host dispatcher. Pages are opened from it.
type Session struct {
	lists     ListSource
	directory TrackerDirectory
	cache     ParsedCache
	compiler  *compiler.Compiler
	host      Host
	cacheSize int
	timing    bool
	clock     clock.Clock
	logger    log.Logger

	compiles singleflight.Group
}

// NewSession validates opts and returns a Session.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Lists == nil || opts.Cache == nil || opts.Compiler == nil {
		return nil, errors.New("engine: lists, cache and compiler are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	logger := log.OrNoop(opts.Logger)
	if opts.Host == nil {
		opts.Host = NewDispatcher(DispatcherOptions{
			Cache:  opts.Cache,
			Timer:  clock.NewPerfTimer(opts.Clock, logger),
			Logger: logger,
		})
	}
	return &Session{
		lists:     opts.Lists,
		directory: opts.Directory,
		cache:     opts.Cache,
		compiler:  opts.Compiler,
		host:      opts.Host,
		cacheSize: opts.DecisionCacheSize,
		timing:    opts.Timing,
		clock:     opts.Clock,
		logger:    logger,
	}, nil
}

// OpenPage builds the engine for one page load. When the parsed-list cache holds both
// entries, each list is decoded from it if the entry matches the current raw text;
// otherwise the lists are compiled. Freshly compiled lists are sent to the host as
// cache-store messages. A list that is missing or fails to compile is left out, so the
// page still loads.
func (s *Session) OpenPage(cfg domain.BlockerConfiguration, topURL string) (*Engine, error) {
	top, err := url.Parse(topURL)
	if err != nil || top.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopURL, topURL)
	}
	started := s.clock.Now()
	decisions, err := NewDecisionCache(s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("decision cache: %w", err)
	}

	fromCache := s.cache.Ready(domain.ListGeneral.CacheName(), domain.ListPrivacy.CacheName())
	privacy, privacySource := s.filterList(domain.ListPrivacy, fromCache)
	general, generalSource := s.filterList(domain.ListGeneral, fromCache)
	e := &Engine{
		cfg:       cfg,
		topScheme: top.Scheme,
		topHost:   utils.CanonicalHost(top.Hostname()),
		directory: s.directory,
		privacy:   privacy,
		general:   general,
		decisions: decisions,
		host:      s.host,
		logger:    s.logger,
	}
	if e.topScheme == "" {
		e.topScheme = "https"
	}
	if s.timing {
		s.post(domain.TimerMessage{Text: fmt.Sprintf("lists ready in %s privacy=%s general=%s",
			s.clock.Now().Sub(started), privacySource, generalSource)})
	}
	return e, nil
}

// Where filterList got its list from.
const (
	sourceCache    = "cache"
	sourceCompiled = "compiled"
	sourceMissing  = "missing"
	sourceFailed   = "failed"
)

// filterList returns the compiled list for kind, or nil when it is unavailable, along
// with where it came from. The cache is consulted only when fromCache is set.
func (s *Session) filterList(kind domain.ListKind, fromCache bool) (list *compiler.FilterList, source string) {
	name := kind.CacheName()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(map[string]any{"list": name, "panic": fmt.Sprint(r)}, "filter_list_build_failed_open")
			list, source = nil, sourceFailed
		}
		s.logger.Debug(map[string]any{"list": name, "source": source}, "filter_list_ready")
	}()
	raw := s.lists.Raw(kind)
	if raw == "" {
		return nil, sourceMissing
	}
	digest := compiler.Digest(raw)
	if data, ok := s.cache.Get(name); fromCache && ok {
		l, err := compiler.Decode(data)
		if err == nil && l.SourceDigest() == digest {
			return l, sourceCache
		}
		reason := "stale"
		if err != nil {
			reason = err.Error()
		}
		s.logger.Warn(map[string]any{"list": name, "reason": reason}, "parsed_cache_entry_discarded")
		s.cache.Remove(name)
	}

	v, err, _ := s.compiles.Do(name+":"+digest, func() (any, error) {
		l, err := s.compiler.Compile(raw)
		if err != nil {
			return nil, err
		}
		data, err := l.Encode()
		if err != nil {
			s.logger.Warn(map[string]any{"list": name, "error": err}, "parsed_list_encode_failed")
			return l, nil
		}
		s.post(domain.CacheStoreMessage{Name: name, Data: data})
		return l, nil
	})
	if err != nil {
		s.logger.Error(map[string]any{"list": name, "error": err}, "filter_list_compile_failed")
		return nil, sourceFailed
	}
	return v.(*compiler.FilterList), sourceCompiled
}

func (s *Session) post(msg domain.HostMessage) {
	if err := s.host.Post(msg); err != nil {
		s.logger.Warn(map[string]any{"kind": msg.Kind().String(), "error": err}, "host_message_failed")
	}
}
