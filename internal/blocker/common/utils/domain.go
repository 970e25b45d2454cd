package utils

import (
	"net"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// CanonicalHost lowercases name, trims surrounding whitespace and strips any trailing dots,
// so "WWW.Example.COM." and "www.example.com" compare equal.
func CanonicalHost(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// RegistrableDomain returns the eTLD+1 for host. IP literals are returned as-is,
// and names the public suffix list cannot reduce fall back to the canonical host.
func RegistrableDomain(host string) string {
	host = CanonicalHost(host)
	if host == "" {
		return ""
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return host
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return apex
}

// SameSite reports whether a and b share a registrable domain.
func SameSite(a, b string) bool {
	ra, rb := RegistrableDomain(a), RegistrableDomain(b)
	return ra != "" && ra == rb
}

// ParentDomains lists host followed by each parent domain that still has at least
// two labels, most specific first: "a.b.example.com" yields
// [a.b.example.com b.example.com example.com].
func ParentDomains(host string) []string {
	host = CanonicalHost(host)
	if host == "" {
		return nil
	}
	out := []string{host}
	for {
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
		if !strings.Contains(host, ".") {
			break
		}
		out = append(out, host)
	}
	return out
}

// IsValidDomain reports whether name is a syntactically valid domain with at least two
// labels and no wildcard.
func IsValidDomain(name string) bool {
	name = CanonicalHost(name)
	if name == "" || strings.ContainsAny(name, "*/ ") {
		return false
	}
	labels, ok := dns.IsDomainName(name)
	return ok && labels >= 2
}
