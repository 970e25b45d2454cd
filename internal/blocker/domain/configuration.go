package domain

import (
	"sort"

	"github.com/haukened/trackerblock/internal/blocker/common/utils"
)

// BlockerConfiguration is the immutable per-page-load protection snapshot.
// Changing it requires opening a new page.
type BlockerConfiguration struct {
	enabled   bool
	whitelist map[string]bool
}

// NewBlockerConfiguration builds a snapshot. Whitelist entries are canonicalized;
// empty entries are dropped.
func NewBlockerConfiguration(enabled bool, whitelist []string) BlockerConfiguration {
	wl := make(map[string]bool, len(whitelist))
	for _, d := range whitelist {
		if d = utils.CanonicalHost(d); d != "" {
			wl[d] = true
		}
	}
	return BlockerConfiguration{enabled: enabled, whitelist: wl}
}

// Enabled reports whether blocking is switched on.
func (c BlockerConfiguration) Enabled() bool { return c.enabled }

// IsWhitelisted reports whether host, or its registrable domain, is exempt from blocking.
func (c BlockerConfiguration) IsWhitelisted(host string) bool {
	host = utils.CanonicalHost(host)
	if host == "" {
		return false
	}
	if c.whitelist[host] {
		return true
	}
	return c.whitelist[utils.RegistrableDomain(host)]
}

// BlocksOn reports whether blocking applies on a page hosted at topHost.
func (c BlockerConfiguration) BlocksOn(topHost string) bool {
	return c.enabled && !c.IsWhitelisted(topHost)
}

// Whitelist returns the sorted whitelist entries.
func (c BlockerConfiguration) Whitelist() []string {
	out := make([]string, 0, len(c.whitelist))
	for d := range c.whitelist {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
