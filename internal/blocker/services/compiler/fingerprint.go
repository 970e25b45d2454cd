package compiler

import "strings"

// FingerprintLength is the width of rule fingerprints and of the URL windows tested against them.
const FingerprintLength = 6

// Substrings present in most URLs; indexing a rule under one of these would make the
// membership filter useless for it.
var badFingerprints = map[string]bool{
	"http:/": true,
	"ttp://": true,
	"https:": true,
	"ttps:/": true,
	"tps://": true,
	"://www": true,
	"//www.": true,
	":/www.": true,
	"/www.g": true,
	".com/a": true,
	".html?": true,
	"/ads/a": true,
	"/wp-co": true,
	"/image": true,
	"images": true,
	"/stati": true,
	"static": true,
	"/publi": true,
}

// fingerprint picks a FingerprintLength literal substring of the rule body, or "" when
// the rule has none and must be scanned for every request.
func fingerprint(r Rule) string {
	if r.Regex != "" {
		return ""
	}
	p := strings.ToLower(r.Pattern)
	var fallback string
	for _, seg := range strings.FieldsFunc(p, func(c rune) bool { return c == '*' || c == '^' || c == '|' }) {
		for i := 0; i+FingerprintLength <= len(seg); i++ {
			fp := seg[i : i+FingerprintLength]
			if badFingerprints[fp] {
				continue
			}
			if !strings.ContainsAny(fp, "./:?=&") {
				return fp
			}
			if fallback == "" {
				fallback = fp
			}
		}
	}
	return fallback
}
