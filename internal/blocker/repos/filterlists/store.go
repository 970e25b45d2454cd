// Package filterlists stores the general and privacy adblock filter lists as text.
package filterlists

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// FileStore is the persistence the filter list store needs.
type FileStore interface {
	Read(kind domain.ListKind) ([]byte, error)
	Write(kind domain.ListKind, data []byte) error
	Size(kind domain.ListKind) int64
}

// PersistHook runs after a list has been persisted and reloaded.
type PersistHook func(kind domain.ListKind)

// embedEscaper makes text safe inside a backtick-quoted literal.
var embedEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")

// Store holds the decoded text of both filter lists.
type Store struct {
	files  FileStore
	logger log.Logger

	mu    sync.RWMutex
	raw   map[domain.ListKind]string
	hooks []PersistHook
}

// New returns a store with both lists loaded from files. Lists that were never
// persisted load as empty text.
func New(files FileStore, logger log.Logger) *Store {
	s := &Store{
		files:  files,
		logger: log.OrNoop(logger),
		raw:    make(map[domain.ListKind]string, 2),
	}
	for _, kind := range domain.FilterListKinds {
		s.reload(kind)
	}
	return s
}

// OnPersist registers hook to run after every successful Persist.
func (s *Store) OnPersist(hook PersistHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Load returns the list text escaped for embedding as a quoted literal: backslashes
// and backticks are escaped. Unknown kinds and lists never persisted return "".
func (s *Store) Load(kind domain.ListKind) string {
	return embedEscaper.Replace(s.Raw(kind))
}

// Raw returns the decoded, unescaped list text handed to the rule compiler.
func (s *Store) Raw(kind domain.ListKind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw[kind]
}

// Persist atomically writes data for kind, reloads it and runs the persist hooks.
func (s *Store) Persist(kind domain.ListKind, data []byte) error {
	if !kind.IsFilterList() {
		return fmt.Errorf("persist %s: not a filter list", kind)
	}
	if err := s.files.Write(kind, data); err != nil {
		return fmt.Errorf("persist %s: %w", kind, err)
	}
	s.reload(kind)

	s.mu.RLock()
	hooks := append([]PersistHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(kind)
	}
	return nil
}

// HasData reports whether both lists are persisted and decoded to non-empty text. A
// file that failed to decode does not count.
func (s *Store) HasData() bool {
	for _, kind := range domain.FilterListKinds {
		if s.files.Size(kind) == 0 || s.Raw(kind) == "" {
			return false
		}
	}
	return true
}

// reload decodes the persisted bytes of kind. Read failures and invalid UTF-8 decode as "".
func (s *Store) reload(kind domain.ListKind) {
	text := ""
	b, err := s.files.Read(kind)
	switch {
	case err != nil:
		s.logger.Warn(map[string]any{"list": kind.String(), "error": err}, "filter_list_read_failed")
	case !utf8.Valid(b):
		s.logger.Warn(map[string]any{"list": kind.String(), "bytes": len(b)}, "filter_list_decode_failed")
	default:
		text = string(b)
	}
	s.mu.Lock()
	s.raw[kind] = text
	s.mu.Unlock()
}
