package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/trackerblock/internal/blocker/common/log"
	"github.com/haukened/trackerblock/internal/blocker/domain"
)

const sampleList = `[Adblock Plus 2.0]
! Title: sample
||ads.example^
||tracker.example^$third-party
/adserver/*
|https://cdn.example/pixel.gif|
/banner\d+\.gif/
@@||ads.example/allowed/
@@/adserver/ok.js$script
news.example##.sponsored
||popups.example^$popup
||fonts.example^$font
`

func mustCompile(t testing.TB, raw string) *FilterList {
	t.Helper()
	l, err := New(0.01, log.NewNoopLogger()).Compile(raw)
	require.NoError(t, err)
	return l
}

func TestCompile_Counts(t *testing.T) {
	l := mustCompile(t, sampleList)
	assert.Equal(t, 6, l.BlockingRules())
	assert.Equal(t, 2, l.ExceptionRules())
	assert.Equal(t, 1, l.Skipped())
	assert.Equal(t, Digest(sampleList), l.SourceDigest())
}

func TestCompile_Empty(t *testing.T) {
	_, err := New(0.01, nil).Compile(" \n\t")
	assert.True(t, errors.Is(err, ErrEmptyList))

	l, err := New(0.01, nil).Compile("! only comments\n")
	require.NoError(t, err)
	assert.Zero(t, l.BlockingRules())
	assert.False(t, l.Matches("https://ads.example/", MatchContext{}))
}

func TestFilterList_Matches(t *testing.T) {
	l := mustCompile(t, sampleList)
	third := MatchContext{Domain: "news.example", ElementType: domain.ElementImage, ThirdParty: true}

	tests := []struct {
		name string
		url  string
		ctx  MatchContext
		want bool
	}{
		{"host anchor", "https://ads.example/p.gif", third, true},
		{"host anchor subdomain", "https://img.ads.example/p.gif", third, true},
		{"host anchor lookalike", "https://badads.example/p.gif", third, false},
		{"host anchor in path only", "https://cdn.example/ads.example/p.gif", third, false},
		{"exception overrides", "https://ads.example/allowed/p.gif", third, false},
		{"third-party option", "https://tracker.example/t.js", third, true},
		{"third-party option on first party", "https://tracker.example/t.js", MatchContext{Domain: "tracker.example", ElementType: domain.ElementScript}, false},
		{"wildcard path", "https://x.example/adserver/banner.png", third, true},
		{"typed exception applies", "https://x.example/adserver/ok.js", MatchContext{Domain: "news.example", ElementType: domain.ElementScript, ThirdParty: true}, false},
		{"typed exception ignored for other types", "https://x.example/adserver/ok.js", third, true},
		{"start and end anchors", "https://cdn.example/pixel.gif", third, true},
		{"end anchor rejects suffix", "https://cdn.example/pixel.gif?x=1", third, false},
		{"regex", "https://x.example/banner42.gif", third, true},
		{"type restricted rule", "https://fonts.example/a.woff", MatchContext{ElementType: domain.ElementFont}, true},
		{"type restricted rule other type", "https://fonts.example/a.js", MatchContext{ElementType: domain.ElementScript}, false},
		{"popup rule dropped", "https://popups.example/", third, false},
		{"case insensitive", "HTTPS://ads.example/P.GIF", third, true},
		{"no match", "https://example.org/index.html", third, false},
		{"empty url", "", third, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, l.Matches(tc.url, tc.ctx))
		})
	}
}

func TestFilterList_NilIsEmpty(t *testing.T) {
	var l *FilterList
	assert.False(t, l.Matches("https://ads.example/", MatchContext{}))
}

func TestFilterList_MatchReturnsRule(t *testing.T) {
	l := mustCompile(t, sampleList)
	r, ok := l.Match("https://ads.example/p.gif", MatchContext{ElementType: domain.ElementImage})
	require.True(t, ok)
	assert.Equal(t, "||ads.example^", r.Raw)
}

func TestEncodeDecode(t *testing.T) {
	l := mustCompile(t, sampleList)
	data, err := l.Encode()
	require.NoError(t, err)

	restored, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, l.SourceDigest(), restored.SourceDigest())
	assert.Equal(t, l.BlockingRules(), restored.BlockingRules())
	assert.Equal(t, l.ExceptionRules(), restored.ExceptionRules())
	assert.True(t, l.blocking.filter.Equal(restored.blocking.filter))
	assert.True(t, l.exceptions.filter.Equal(restored.exceptions.filter))

	ctx := MatchContext{Domain: "news.example", ElementType: domain.ElementImage, ThirdParty: true}
	for _, u := range []string{
		"https://ads.example/p.gif",
		"https://ads.example/allowed/p.gif",
		"https://x.example/banner42.gif",
		"https://example.org/",
	} {
		assert.Equal(t, l.Matches(u, ctx), restored.Matches(u, ctx), u)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	good, err := mustCompile(t, sampleList).Encode()
	require.NoError(t, err)

	mutate := func(fn func(map[string]any)) string {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(good), &m))
		fn(m)
		b, err := json.Marshal(m)
		require.NoError(t, err)
		return string(b)
	}

	tests := map[string]string{
		"not json":         "{",
		"empty string":     "",
		"version mismatch": mutate(func(m map[string]any) { m["version"] = FormatVersion + 1 }),
		"type map changed": mutate(func(m map[string]any) { m["element_types"].(map[string]any)["script"] = 999 }),
		"filter missing":   mutate(func(m map[string]any) { m["blocking_filter"] = nil }),
		"foreign filter": mutate(func(m map[string]any) {
			m["blocking_filter"] = m["exception_filter"]
		}),
		"bad regex": mutate(func(m map[string]any) {
			m["blocking"].([]any)[0] = "/[unclosed/"
		}),
		"not a rule": mutate(func(m map[string]any) {
			m["blocking"].([]any)[0] = "news.example##.sponsored"
		}),
		"exception in blocking set": mutate(func(m map[string]any) {
			m["blocking"] = append(m["blocking"].([]any), "@@||ads.example/allowed/")
		}),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest("a"), Digest("a"))
	assert.NotEqual(t, Digest("a"), Digest("b"))
	assert.Len(t, Digest(""), 64)
}

func syntheticList(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "||tracker%05d.example^\n", i)
		if i%10 == 0 {
			fmt.Fprintf(&b, "/promo%05d/*$image\n", i)
		}
	}
	b.WriteString("@@||tracker00001.example/ok/\n")
	return b.String()
}

func BenchmarkFilterList_Miss(b *testing.B) {
	l := mustCompile(b, syntheticList(20_000))
	ctx := MatchContext{Domain: "news.example", ElementType: domain.ElementScript, ThirdParty: true}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = l.Matches("https://cdn.news.example/assets/app.bundle.js?v=12345", ctx)
	}
}

func BenchmarkFilterList_Hit(b *testing.B) {
	l := mustCompile(b, syntheticList(20_000))
	ctx := MatchContext{Domain: "news.example", ElementType: domain.ElementScript, ThirdParty: true}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = l.Matches("https://tracker12345.example/t.js", ctx)
	}
}

func BenchmarkCompile(b *testing.B) {
	raw := syntheticList(20_000)
	c := New(0.01, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Compile(raw); err != nil {
			b.Fatal(err)
		}
	}
}
