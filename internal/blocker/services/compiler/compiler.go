// Package compiler turns adblock-syntax filter list text into a FilterList that can be
// matched per request and serialized for the parsed-list cache.
package compiler

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/services/compiler/bloom"
)

// ErrEmptyList is returned for blank input; an unpersisted list reads as "".
var ErrEmptyList = errors.New("empty filter list")

// Compiler parses raw filter lists. It is stateless apart from its settings and safe
// for concurrent use.
type Compiler struct {
	fpRate float64
	logger log.Logger
}

// New returns a compiler whose membership filters target fpRate.
// An out-of-range rate falls back to bloom.DefaultFPRate.
func New(fpRate float64, logger log.Logger) *Compiler {
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = bloom.DefaultFPRate
	}
	return &Compiler{fpRate: fpRate, logger: log.OrNoop(logger)}
}

// Compile parses raw. Lines that are not network rules are ignored and unsupported
// rules are dropped; neither fails the compile.
func (c *Compiler) Compile(raw string) (*FilterList, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyList
	}
	var blocking, exceptions []Rule
	skipped, lines := 0, 0
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines++
		r, err := ParseRule(sc.Text())
		switch {
		case errors.Is(err, ErrNotARule):
			continue
		case err != nil:
			skipped++
			continue
		case r.Exception:
			exceptions = append(exceptions, r)
		default:
			blocking = append(blocking, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan filter list: %w", err)
	}
	b, err := buildRuleSet(blocking, c.fpRate)
	if err != nil {
		return nil, fmt.Errorf("index blocking rules: %w", err)
	}
	e, err := buildRuleSet(exceptions, c.fpRate)
	if err != nil {
		return nil, fmt.Errorf("index exception rules: %w", err)
	}
	l := &FilterList{sourceDigest: Digest(raw), blocking: b, exceptions: e, skipped: skipped}
	c.logger.Debug(map[string]any{
		"lines":      lines,
		"blocking":   len(blocking),
		"exceptions": len(exceptions),
		"skipped":    skipped,
		"unindexed":  len(b.unindexed) + len(e.unindexed),
	}, "filter_list_compiled")
	return l, nil
}

// Digest identifies raw list text; cached lists are only reused against the same digest.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
