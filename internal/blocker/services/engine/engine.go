// Package engine classifies the resource loads of a page against the tracker directory
// and the compiled filter lists, and reports detections to the host.
package engine

import (
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/common/utils"
	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/services/compiler"
)

// Engine classifies the loads of a single page. The configuration snapshot, top
// document and lists are fixed for its lifetime; open a new page to change them.
// Classify is safe for concurrent use.
type Engine struct {
	cfg       domain.BlockerConfiguration
	topScheme string
	topHost   string
	directory TrackerDirectory
	privacy   *compiler.FilterList
	general   *compiler.FilterList
	decisions DecisionCache
	host      Host
	logger    log.Logger
}

// Classify decides one load. It never panics: any failure during matching allows
// the load without a detection and is logged.
//
// Order: root-relative paths, unparsable URLs and first-party loads are allowed
// without any lookup; then the tracker directory, the privacy list and the general
// list are consulted and the first hit is reported. A hit blocks only when
// protection is enabled and the top document is not whitelisted; with protection
// disabled or the top document whitelisted, hits are still reported with
// Blocked=false and the load is allowed.
//
// The top document is the event's TopURL when it carries a host, else the page's.
func (e *Engine) Classify(ev domain.NetworkLoadEvent) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(map[string]any{
				"url":   ev.URL,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}, "classify_failed_open")
			out = domain.Allow
		}
	}()

	raw := strings.TrimSpace(ev.URL)
	if isRootRelative(raw) {
		return domain.Allow
	}
	u, ok := e.resolve(raw)
	if !ok {
		return domain.Allow
	}
	host := utils.CanonicalHost(u.Hostname())
	topHost := e.eventTopHost(ev.TopURL)
	if topHost != "" && utils.SameSite(host, topHost) {
		return domain.Allow
	}

	resolved := u.String()
	elementType := ev.ElementType
	if elementType == 0 {
		elementType = domain.ElementOther
	}
	d := e.detect(resolved, host, topHost, elementType)
	if !d.Hit {
		return domain.Allow
	}

	detection := domain.TrackerDetection{
		URL:          resolved,
		ParentDomain: d.ParentDomain,
		Blocked:      e.cfg.BlocksOn(topHost),
		Method:       d.Method,
	}
	if e.host != nil {
		if err := e.host.Post(domain.TrackerDetectedMessage{TrackerDetection: detection}); err != nil {
			e.logger.Warn(map[string]any{"url": resolved, "error": err}, "detection_not_delivered")
		}
	}
	if detection.Blocked {
		return domain.Block
	}
	return domain.Allow
}

// Stats returns decision cache counters for the page.
func (e *Engine) Stats() (hits, misses, evictions uint64) {
	return e.decisions.Stats()
}

// TopHost returns the host of the top-level document.
func (e *Engine) TopHost() string { return e.topHost }

// eventTopHost returns the canonical host of topURL, falling back to the page's top
// host when topURL is empty or has no host.
func (e *Engine) eventTopHost(topURL string) string {
	topURL = strings.TrimSpace(topURL)
	if topURL == "" {
		return e.topHost
	}
	u, err := url.Parse(topURL)
	if err != nil || u.Hostname() == "" {
		return e.topHost
	}
	return utils.CanonicalHost(u.Hostname())
}

func (e *Engine) detect(resolved, host, topHost string, elementType domain.ElementType) Decision {
	key := DecisionKey{ElementType: elementType, TopHost: topHost, URL: resolved}
	if d, ok := e.decisions.Get(key); ok {
		return d
	}
	d := e.lookup(resolved, host, topHost, elementType)
	e.decisions.Put(key, d)
	return d
}

func (e *Engine) lookup(resolved, host, topHost string, elementType domain.ElementType) Decision {
	if e.directory != nil {
		if t, ok := e.directory.ResolveParent(host); ok {
			return Decision{Hit: true, ParentDomain: t.Company, Method: domain.MethodDirectory}
		}
	}
	ctx := compiler.MatchContext{Domain: topHost, ElementType: elementType, ThirdParty: true}
	if e.privacy.Matches(resolved, ctx) {
		return Decision{Hit: true, Method: domain.MethodPrivacyList}
	}
	if e.general.Matches(resolved, ctx) {
		return Decision{Hit: true, Method: domain.MethodGeneralList}
	}
	return Decision{}
}

// resolve parses raw, resolving protocol-relative URLs against the top document
// scheme. URLs without a host are same-document references and are rejected.
func (e *Engine) resolve(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	if strings.HasPrefix(raw, "//") {
		raw = e.topScheme + ":" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, false
	}
	return u, true
}

func isRootRelative(raw string) bool {
	return strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//")
}
