package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/services/compiler/bloom"
)

// FormatVersion changes whenever the serialized layout or rule semantics change;
// cached lists with another version are rejected.
const FormatVersion = 2

// ErrCorrupt is returned when a serialized list cannot be trusted.
var ErrCorrupt = errors.New("corrupt filter list")

// MatchContext describes the request being evaluated.
type MatchContext struct {
	Domain      string             // host of the top-level document
	ElementType domain.ElementType // zero is treated as ElementOther
	ThirdParty  bool
}

// ruleSet indexes rules by fingerprint. Rules without a fingerprint are always scanned.
type ruleSet struct {
	rules      []Rule
	filter     *bloom.Filter
	byPrint    map[string][]int
	unindexed  []int
	indexedLen int
}

func newRuleSet(rules []Rule, filter *bloom.Filter) (*ruleSet, error) {
	s := &ruleSet{rules: rules, filter: filter, byPrint: make(map[string][]int)}
	for i := range s.rules {
		r := &s.rules[i]
		if r.Fingerprint == "" {
			s.unindexed = append(s.unindexed, i)
			continue
		}
		s.byPrint[r.Fingerprint] = append(s.byPrint[r.Fingerprint], i)
		s.indexedLen++
	}
	if s.indexedLen > 0 && s.filter == nil {
		return nil, fmt.Errorf("%w: fingerprinted rules without a membership filter", ErrCorrupt)
	}
	if s.filter != nil {
		for fp := range s.byPrint {
			if !s.filter.MightContainString(fp) {
				return nil, fmt.Errorf("%w: fingerprint %q missing from membership filter", ErrCorrupt, fp)
			}
		}
	}
	return s, nil
}

func buildRuleSet(rules []Rule, fpRate float64) (*ruleSet, error) {
	prints := make(map[string]struct{})
	for _, r := range rules {
		if r.Fingerprint != "" {
			prints[r.Fingerprint] = struct{}{}
		}
	}
	filter := bloom.New(uint64(len(prints)), fpRate)
	for fp := range prints {
		filter.AddString(fp)
	}
	return newRuleSet(rules, filter)
}

// match returns the first rule matching the request. A negative membership test for a
// URL window rules out every rule indexed under that window.
func (s *ruleSet) match(q *request) (*Rule, bool) {
	for _, i := range s.unindexed {
		if s.rules[i].matches(q) {
			return &s.rules[i], true
		}
	}
	if s.indexedLen == 0 {
		return nil, false
	}
	var tried map[string]struct{}
	for i := 0; i+FingerprintLength <= len(q.lower); i++ {
		w := q.lower[i : i+FingerprintLength]
		if !s.filter.MightContainString(w) {
			continue
		}
		idx, ok := s.byPrint[w]
		if !ok {
			continue
		}
		if _, done := tried[w]; done {
			continue
		}
		if tried == nil {
			tried = make(map[string]struct{}, 4)
		}
		tried[w] = struct{}{}
		for _, j := range idx {
			if s.rules[j].matches(q) {
				return &s.rules[j], true
			}
		}
	}
	return nil, false
}

// FilterList is a compiled adblock list. It is immutable once built and safe for
// concurrent matching.
type FilterList struct {
	sourceDigest string
	blocking     *ruleSet
	exceptions   *ruleSet
	skipped      int
}

// Matches reports whether url is blocked: some blocking rule matches and no exception
// rule does. Exceptions win over every blocking rule, $important included.
func (l *FilterList) Matches(url string, ctx MatchContext) bool {
	_, ok := l.Match(url, ctx)
	return ok
}

// Match is Matches returning the blocking rule that fired.
func (l *FilterList) Match(url string, ctx MatchContext) (*Rule, bool) {
	if l == nil {
		return nil, false
	}
	if ctx.ElementType == 0 {
		ctx.ElementType = domain.ElementOther
	}
	ctx.Domain = strings.ToLower(ctx.Domain)
	q := newRequest(url, ctx)
	r, ok := l.blocking.match(q)
	if !ok {
		return nil, false
	}
	if _, excepted := l.exceptions.match(q); excepted {
		return nil, false
	}
	return r, true
}

// SourceDigest is the Digest of the raw text this list was compiled from.
func (l *FilterList) SourceDigest() string { return l.sourceDigest }

// BlockingRules returns the number of blocking rules.
func (l *FilterList) BlockingRules() int { return len(l.blocking.rules) }

// ExceptionRules returns the number of exception rules.
func (l *FilterList) ExceptionRules() int { return len(l.exceptions.rules) }

// Skipped returns the number of network rules dropped at compile time. It is not serialized.
func (l *FilterList) Skipped() int { return l.skipped }

// wireList is the serialized layout stored in the parsed-list cache. Rules are kept as
// their source text and parsed again on Decode.
type wireList struct {
	Version         int                           `json:"version"`
	SourceDigest    string                        `json:"source_digest"`
	ElementTypes    map[string]domain.ElementType `json:"element_types"`
	Blocking        []string                      `json:"blocking"`
	Exceptions      []string                      `json:"exceptions"`
	BlockingFilter  *bloom.Filter                 `json:"blocking_filter"`
	ExceptionFilter *bloom.Filter                 `json:"exception_filter"`
}

func (l *FilterList) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireList{
		Version:         FormatVersion,
		SourceDigest:    l.sourceDigest,
		ElementTypes:    domain.ElementTypeMaskMap,
		Blocking:        rawRules(l.blocking.rules),
		Exceptions:      rawRules(l.exceptions.rules),
		BlockingFilter:  l.blocking.filter,
		ExceptionFilter: l.exceptions.filter,
	})
}

// Encode serializes the list for the parsed-list cache.
func (l *FilterList) Encode() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode restores a list produced by Encode. Any inconsistency is reported as ErrCorrupt.
func Decode(data string) (*FilterList, error) {
	var w wireList
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrCorrupt, w.Version, FormatVersion)
	}
	if !sameTypeMap(w.ElementTypes) {
		return nil, fmt.Errorf("%w: element type map mismatch", ErrCorrupt)
	}
	blocking, err := decodeRuleSet(w.Blocking, w.BlockingFilter, false)
	if err != nil {
		return nil, fmt.Errorf("blocking rules: %w", asCorrupt(err))
	}
	exceptions, err := decodeRuleSet(w.Exceptions, w.ExceptionFilter, true)
	if err != nil {
		return nil, fmt.Errorf("exception rules: %w", asCorrupt(err))
	}
	return &FilterList{sourceDigest: w.SourceDigest, blocking: blocking, exceptions: exceptions}, nil
}

func rawRules(rs []Rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Raw
	}
	return out
}

// decodeRuleSet parses stored rule text. Every line must still compile, into the set it
// was stored in.
func decodeRuleSet(raws []string, filter *bloom.Filter, exception bool) (*ruleSet, error) {
	rs := make([]Rule, 0, len(raws))
	for _, raw := range raws {
		r, err := ParseRule(raw)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", raw, err)
		}
		if r.Exception != exception {
			return nil, fmt.Errorf("%w: rule %q stored in the wrong set", ErrCorrupt, raw)
		}
		rs = append(rs, r)
	}
	return newRuleSet(rs, filter)
}

func asCorrupt(err error) error {
	if errors.Is(err, ErrCorrupt) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}

func sameTypeMap(m map[string]domain.ElementType) bool {
	if len(m) != len(domain.ElementTypeMaskMap) {
		return false
	}
	for k, v := range domain.ElementTypeMaskMap {
		if m[k] != v {
			return false
		}
	}
	return true
}
