// Package settings persists the user's protection settings (enabled flag and
// whitelisted sites) as a YAML document.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/haukened/trackerblock/internal/blocker/common/utils"
	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/repos/listfile"
)

// ErrInvalidDomain is returned when a whitelist entry is not a valid domain name.
var ErrInvalidDomain = errors.New("invalid whitelist domain")

// document is the on-disk layout.
type document struct {
	Enabled   *bool    `yaml:"enabled"`
	Whitelist []string `yaml:"whitelist"`
}

// Store reads and writes the settings file. Every mutation is written through.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store for the YAML file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns the current settings as a configuration snapshot. A missing file
// yields enabled protection with an empty whitelist.
func (s *Store) Load() (domain.BlockerConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return domain.BlockerConfiguration{}, err
	}
	return doc.configuration(), nil
}

// Save replaces the stored settings with cfg. Invalid whitelist entries are rejected
// and nothing is written.
func (s *Store) Save(cfg domain.BlockerConfiguration) error {
	enabled := cfg.Enabled()
	doc := document{Enabled: &enabled}
	for _, name := range cfg.Whitelist() {
		name = utils.CanonicalHost(name)
		if !utils.IsValidDomain(name) {
			return fmt.Errorf("%w: %q", ErrInvalidDomain, name)
		}
		doc.Whitelist = append(doc.Whitelist, name)
	}
	sort.Strings(doc.Whitelist)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(doc)
}

// SetEnabled switches protection on or off.
func (s *Store) SetEnabled(enabled bool) error {
	return s.mutate(func(d *document) error {
		d.Enabled = &enabled
		return nil
	})
}

// AddWhitelist exempts name from blocking.
func (s *Store) AddWhitelist(name string) error {
	name = utils.CanonicalHost(name)
	if !utils.IsValidDomain(name) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, name)
	}
	return s.mutate(func(d *document) error {
		for _, existing := range d.Whitelist {
			if existing == name {
				return nil
			}
		}
		d.Whitelist = append(d.Whitelist, name)
		return nil
	})
}

// RemoveWhitelist drops name from the whitelist. Removing an absent name is not an error.
func (s *Store) RemoveWhitelist(name string) error {
	name = utils.CanonicalHost(name)
	return s.mutate(func(d *document) error {
		out := d.Whitelist[:0]
		for _, existing := range d.Whitelist {
			if existing != name {
				out = append(out, existing)
			}
		}
		d.Whitelist = out
		return nil
	})
}

func (s *Store) mutate(fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	sort.Strings(doc.Whitelist)
	return s.write(doc)
}

func (s *Store) read() (document, error) {
	var doc document
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("settings: decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	if doc.Enabled == nil {
		enabled := true
		doc.Enabled = &enabled
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}
	return listfile.WriteFileAtomic(s.path, b, 0o644)
}

func (d document) configuration() domain.BlockerConfiguration {
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return domain.NewBlockerConfiguration(enabled, d.Whitelist)
}
