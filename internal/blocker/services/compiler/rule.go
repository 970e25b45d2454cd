package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AdguardTeam/urlfilter/rules"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

var (
	// ErrNotARule marks lines that carry no network rule: blanks, comments, headers and cosmetic filters.
	ErrNotARule = errors.New("not a network rule")
	// ErrUnsupported marks network rules using syntax or options this matcher does not implement.
	ErrUnsupported = errors.New("unsupported rule")
)

// maxRuleLength bounds a single rule; longer lines are rejected rather than matched.
const maxRuleLength = 4096

// filterListID tags every urlfilter rule; lists are kept apart by FilterList, not by ID.
const filterListID = 1

// Party restricts a rule to first- or third-party requests.
type Party uint8

const (
	AnyParty Party = iota
	FirstParty
	ThirdParty
)

// defaultTypes applies when a rule names no positive type: everything except the top document.
const defaultTypes = domain.ElementAll &^ domain.ElementDocument

var typeAliases = map[string]string{
	"xhr":        "xmlhttprequest",
	"css":        "stylesheet",
	"frame":      "subdocument",
	"doc":        "document",
	"sub_frame":  "subdocument",
	"main_frame": "document",
}

// Options that make the rule a cosmetic, page-level or redirect rule; those rules are dropped.
var skippedOptions = map[string]bool{
	"popup":         true,
	"popunder":      true,
	"elemhide":      true,
	"ehide":         true,
	"generichide":   true,
	"ghide":         true,
	"genericblock":  true,
	"specifichide":  true,
	"shide":         true,
	"csp":           true,
	"redirect":      true,
	"redirect-rule": true,
	"rewrite":       true,
	"removeparam":   true,
	"replace":       true,
	"header":        true,
	"permissions":   true,
	"badfilter":     true,
	"empty":         true,
	"mp4":           true,
}

// Rule is one compiled network rule. Pattern keeps the adblock wildcard (*) and
// separator (^) tokens; anchors are lifted into flags. The parsed fields drive rule
// selection and indexing; URL matching is done by urlfilter on Raw.
type Rule struct {
	Raw         string
	Pattern     string
	Regex       string
	HostAnchor  bool
	StartAnchor bool
	EndAnchor   bool
	Exception   bool
	MatchCase   bool
	Important   bool
	Types       domain.ElementType
	Party       Party
	Domains     []string
	NotDomains  []string
	Fingerprint string

	nr *rules.NetworkRule
}

// ParseRule compiles a single line of adblock syntax.
func ParseRule(line string) (Rule, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '!' || line[0] == '[' || isCosmetic(line) {
		return Rule{}, ErrNotARule
	}
	if len(line) > maxRuleLength {
		return Rule{}, fmt.Errorf("%w: rule longer than %d bytes", ErrUnsupported, maxRuleLength)
	}
	r := Rule{Raw: line, Types: defaultTypes}
	body := line
	if strings.HasPrefix(body, "@@") {
		r.Exception = true
		body = body[2:]
	}
	if i := strings.LastIndexByte(body, '$'); i >= 0 && looksLikeOptions(body[i+1:]) {
		if err := r.parseOptions(body[i+1:]); err != nil {
			return Rule{}, err
		}
		body = body[:i]
	}
	if err := r.parsePattern(body); err != nil {
		return Rule{}, err
	}
	if err := r.prepare(); err != nil {
		return Rule{}, err
	}
	r.Fingerprint = fingerprint(r)
	return r, nil
}

func isCosmetic(line string) bool {
	for _, marker := range []string{"##", "#@#", "#?#", "#$#", "#%#", "#@$#", "#@?#", "$$", "$@$"} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// looksLikeOptions tells an option suffix apart from a literal '$' inside a pattern or regex.
func looksLikeOptions(s string) bool {
	if s == "" {
		return false
	}
	for _, opt := range strings.Split(s, ",") {
		name, _, _ := strings.Cut(opt, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "~")
		if name == "" {
			return false
		}
		for _, c := range name {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
	}
	return true
}

func (r *Rule) parseOptions(s string) error {
	var include, exclude domain.ElementType
	for _, raw := range strings.Split(s, ",") {
		opt := strings.ToLower(strings.TrimSpace(raw))
		name, value, hasValue := strings.Cut(opt, "=")
		negated := strings.HasPrefix(name, "~")
		name = strings.TrimPrefix(name, "~")
		if alias, ok := typeAliases[name]; ok {
			name = alias
		}
		if skippedOptions[name] {
			return fmt.Errorf("%w: option %q", ErrUnsupported, name)
		}
		if t, ok := domain.ElementTypeMaskMap[name]; ok {
			if negated {
				exclude |= t
			} else {
				include |= t
			}
			continue
		}
		switch name {
		case "third-party", "3p":
			r.Party = ThirdParty
			if negated {
				r.Party = FirstParty
			}
		case "first-party", "1p":
			r.Party = FirstParty
			if negated {
				r.Party = ThirdParty
			}
		case "match-case":
			r.MatchCase = true
		case "important":
			r.Important = true
		case "domain":
			if !hasValue || value == "" {
				return fmt.Errorf("%w: empty domain option", ErrUnsupported)
			}
			for _, d := range strings.Split(value, "|") {
				if strings.HasPrefix(d, "~") {
					r.NotDomains = append(r.NotDomains, strings.TrimPrefix(d, "~"))
				} else if d != "" {
					r.Domains = append(r.Domains, d)
				}
			}
		default:
			return fmt.Errorf("%w: option %q", ErrUnsupported, name)
		}
	}
	switch {
	case include != 0:
		r.Types = include &^ exclude
	case exclude != 0:
		r.Types = domain.ElementAll &^ exclude
	}
	if r.Types == 0 {
		return fmt.Errorf("%w: rule excludes every element type", ErrUnsupported)
	}
	return nil
}

func (r *Rule) parsePattern(p string) error {
	if len(p) >= 2 && p[0] == '/' && p[len(p)-1] == '/' {
		r.Regex = p[1 : len(p)-1]
		if r.Regex == "" {
			return fmt.Errorf("%w: empty regex", ErrUnsupported)
		}
		return nil
	}
	switch {
	case strings.HasPrefix(p, "||"):
		r.HostAnchor = true
		p = p[2:]
	case strings.HasPrefix(p, "|"):
		r.StartAnchor = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "|") {
		r.EndAnchor = true
		p = p[:len(p)-1]
	}
	for strings.Contains(p, "**") {
		p = strings.ReplaceAll(p, "**", "*")
	}
	if strings.HasPrefix(p, "*") {
		p = p[1:]
		r.HostAnchor, r.StartAnchor = false, false
	}
	if strings.HasSuffix(p, "*") {
		p = p[:len(p)-1]
		r.EndAnchor = false
	}
	if !r.MatchCase {
		p = strings.ToLower(p)
	}
	r.Pattern = p
	if p == "" && len(r.Domains) == 0 && r.Types == defaultTypes && r.Party == AnyParty {
		return fmt.Errorf("%w: rule matches every request", ErrUnsupported)
	}
	return nil
}

// prepare validates any regex body and builds the urlfilter matcher for Raw.
func (r *Rule) prepare() error {
	if r.Regex != "" {
		if _, err := regexp.Compile(r.Regex); err != nil {
			return fmt.Errorf("%w: regex: %v", ErrUnsupported, err)
		}
	}
	nr, err := rules.NewNetworkRule(r.Raw, filterListID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	r.nr = nr
	return nil
}

// request is one URL evaluation, shared by the blocking and exception rule sets.
type request struct {
	ctx   MatchContext
	lower string
	req   *rules.Request
}

func newRequest(url string, ctx MatchContext) *request {
	source := ""
	if ctx.Domain != "" {
		source = "https://" + ctx.Domain + "/"
	}
	req := rules.NewRequest(url, source, requestType(ctx.ElementType))
	req.ThirdParty = ctx.ThirdParty
	return &request{ctx: ctx, lower: strings.ToLower(url), req: req}
}

// requestType maps an element type to the urlfilter request type. A mask naming several
// kinds maps to the first one set.
func requestType(t domain.ElementType) rules.RequestType {
	switch {
	case t&domain.ElementDocument != 0:
		return rules.TypeDocument
	case t&domain.ElementSubdocument != 0:
		return rules.TypeSubdocument
	case t&domain.ElementScript != 0:
		return rules.TypeScript
	case t&domain.ElementStylesheet != 0:
		return rules.TypeStylesheet
	case t&(domain.ElementObject|domain.ElementObjectSubrequest) != 0:
		return rules.TypeObject
	case t&domain.ElementImage != 0:
		return rules.TypeImage
	case t&domain.ElementXMLHTTPRequest != 0:
		return rules.TypeXmlhttprequest
	case t&domain.ElementMedia != 0:
		return rules.TypeMedia
	case t&domain.ElementFont != 0:
		return rules.TypeFont
	case t&domain.ElementWebSocket != 0:
		return rules.TypeWebsocket
	case t&domain.ElementPing != 0:
		return rules.TypePing
	default:
		return rules.TypeOther
	}
}

// matches gates on the parsed element types, which leave the top document out unless a
// rule names it, and then defers to urlfilter.
func (r *Rule) matches(q *request) bool {
	return r.Types&q.ctx.ElementType != 0 && r.nr != nil && r.nr.Match(q.req)
}
