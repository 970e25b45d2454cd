package domain

import (
	"fmt"
	"strings"
)

// ListKind identifies one of the three remote block-lists.
type ListKind uint8

const (
	// ListTrackerDirectory is the tracker-domain to company directory (JSON).
	ListTrackerDirectory ListKind = iota
	// ListGeneral is the general adblock filter list.
	ListGeneral
	// ListPrivacy is the privacy-focused adblock filter list.
	ListPrivacy
)

// AllListKinds lists every kind in fetch order.
var AllListKinds = []ListKind{ListTrackerDirectory, ListGeneral, ListPrivacy}

// FilterListKinds lists the kinds that hold adblock rule text.
var FilterListKinds = []ListKind{ListGeneral, ListPrivacy}

// String returns the stable identifier of the list kind.
func (k ListKind) String() string {
	switch k {
	case ListTrackerDirectory:
		return "disconnectme"
	case ListGeneral:
		return "easylist"
	case ListPrivacy:
		return "easylist_privacy"
	default:
		return fmt.Sprintf("ListKind(%d)", k)
	}
}

// ParseListKind converts an identifier back into a ListKind (case-insensitive).
func ParseListKind(s string) (ListKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disconnectme":
		return ListTrackerDirectory, nil
	case "easylist":
		return ListGeneral, nil
	case "easylist_privacy":
		return ListPrivacy, nil
	default:
		return 0, fmt.Errorf("unsupported ListKind: %q", s)
	}
}

// FileName is the name of the persisted file for this kind.
func (k ListKind) FileName() string {
	switch k {
	case ListTrackerDirectory:
		return "disconnectme.json"
	case ListGeneral:
		return "easylist.txt"
	case ListPrivacy:
		return "easylistPrivacy.txt"
	default:
		return fmt.Sprintf("list-%d.txt", k)
	}
}

// CacheName is the parsed-list cache key for a filter list kind.
func (k ListKind) CacheName() string { return k.String() }

// IsFilterList reports whether the kind holds adblock rule text.
func (k ListKind) IsFilterList() bool { return k == ListGeneral || k == ListPrivacy }

// BlockListSource describes one remote list and where its raw bytes live on disk.
type BlockListSource struct {
	Kind ListKind
	URL  string
	Path string
	Raw  []byte // last-known raw bytes, nil before the first successful persist
}
