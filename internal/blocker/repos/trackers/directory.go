// Package trackers holds the tracker directory: a curated mapping of tracker domains to the
// companies operating them, persisted in the Disconnect services.json layout.
package trackers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/common/utils"
	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// ErrEmptyDirectory is returned by Persist when the payload holds no trackers.
var ErrEmptyDirectory = errors.New("tracker directory payload holds no trackers")

// FileStore is the persistence the directory needs.
type FileStore interface {
	Read(kind domain.ListKind) ([]byte, error)
	Write(kind domain.ListKind, data []byte) error
	Size(kind domain.ListKind) int64
}

// Options configures a Directory.
type Options struct {
	Files FileStore
	// BannedCategories limits ResolveParent to these categories. Empty bans every category.
	BannedCategories []string
	Logger           log.Logger
}

// Directory resolves tracker domains to their parent company.
type Directory struct {
	files  FileStore
	banned map[string]bool
	logger log.Logger

	mu       sync.RWMutex
	trackers map[string]domain.Tracker
}

// New returns an empty directory. Call Load to read the persisted payload.
func New(opts Options) *Directory {
	banned := make(map[string]bool, len(opts.BannedCategories))
	for _, c := range opts.BannedCategories {
		if c = strings.TrimSpace(c); c != "" {
			banned[strings.ToLower(c)] = true
		}
	}
	return &Directory{
		files:    opts.Files,
		banned:   banned,
		logger:   log.OrNoop(opts.Logger),
		trackers: map[string]domain.Tracker{},
	}
}

// Load reads the persisted JSON and rebuilds the lookup. Read or decode failures
// leave the directory empty; they are logged, not returned.
func (d *Directory) Load() {
	raw, err := d.files.Read(domain.ListTrackerDirectory)
	if err != nil {
		d.logger.Warn(map[string]any{"error": err}, "tracker_directory_read_failed")
		d.swap(map[string]domain.Tracker{})
		return
	}
	if len(raw) == 0 {
		d.swap(map[string]domain.Tracker{})
		return
	}
	trackers, err := Parse(raw, d.logger)
	if err != nil {
		d.logger.Warn(map[string]any{"error": err}, "tracker_directory_decode_failed")
		trackers = map[string]domain.Tracker{}
	}
	d.swap(trackers)
	d.logger.Debug(map[string]any{"count": len(trackers)}, "tracker_directory_loaded")
}

// Persist validates data, stores it atomically and reloads the lookup. An undecodable
// or empty payload is rejected so a bad download never replaces a good directory.
func (d *Directory) Persist(data []byte) error {
	trackers, err := Parse(data, d.logger)
	if err != nil {
		return err
	}
	if len(trackers) == 0 {
		return ErrEmptyDirectory
	}
	if err := d.files.Write(domain.ListTrackerDirectory, data); err != nil {
		return fmt.Errorf("persist tracker directory: %w", err)
	}
	d.Load()
	return nil
}

// ResolveParent returns the tracker entry for host, matching listed domains and any of
// their sub-domains. Only banned categories resolve.
func (d *Directory) ResolveParent(host string) (domain.Tracker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, name := range utils.ParentDomains(host) {
		if t, ok := d.trackers[name]; ok && d.isBanned(t.Category) {
			return t, true
		}
	}
	return domain.Tracker{}, false
}

// Count returns the total number of known tracker domains.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.trackers)
}

// HasData reports whether a non-empty directory is persisted and loaded.
func (d *Directory) HasData() bool {
	return d.files.Size(domain.ListTrackerDirectory) > 0 && d.Count() > 0
}

// BannedTrackersJSON serializes the banned trackers as a domain-keyed JSON object.
func (d *Directory) BannedTrackersJSON() string {
	d.mu.RLock()
	banned := make(map[string]domain.Tracker, len(d.trackers))
	for name, t := range d.trackers {
		if d.isBanned(t.Category) {
			banned[name] = t
		}
	}
	d.mu.RUnlock()
	b, err := json.Marshal(banned)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (d *Directory) isBanned(category string) bool {
	return len(d.banned) == 0 || d.banned[strings.ToLower(category)]
}

func (d *Directory) swap(trackers map[string]domain.Tracker) {
	d.mu.Lock()
	d.trackers = trackers
	d.mu.Unlock()
}

// services mirrors {"categories": {Category: [{Company: {CompanyURL: [domains...]}}]}}.
// Company objects may carry non-list annotations (e.g. "performance": "true"); those are skipped.
type services struct {
	Categories map[string][]map[string]map[string]json.RawMessage `json:"categories"`
}

// Parse decodes a Disconnect-format payload into a domain-keyed lookup. Invalid domains are
// skipped. When a domain appears more than once, the first entry in category order wins.
func Parse(data []byte, logger log.Logger) (map[string]domain.Tracker, error) {
	logger = log.OrNoop(logger)
	var svc services
	if err := json.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("decode tracker directory: %w", err)
	}

	categories := make([]string, 0, len(svc.Categories))
	for c := range svc.Categories {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	out := make(map[string]domain.Tracker, 1024)
	for _, category := range categories {
		for _, entry := range svc.Categories[category] {
			for company, urls := range entry {
				for companyURL, rawDomains := range urls {
					var domains []string
					if err := json.Unmarshal(rawDomains, &domains); err != nil {
						continue
					}
					for _, name := range domains {
						name = utils.CanonicalHost(name)
						if !utils.IsValidDomain(name) {
							logger.Debug(map[string]any{"domain": name, "company": company}, "tracker_skip_invalid_domain")
							continue
						}
						if _, seen := out[name]; seen {
							continue
						}
						out[name] = domain.Tracker{
							Domain:     name,
							Company:    company,
							CompanyURL: companyURL,
							Category:   category,
						}
					}
				}
			}
		}
	}
	return out, nil
}
