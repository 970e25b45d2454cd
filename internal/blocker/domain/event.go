package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ElementType is a bitmask of resource kinds, matching the adblock "$type" options.
type ElementType uint32

const (
	ElementScript ElementType = 1 << iota
	ElementImage
	ElementStylesheet
	ElementObject
	ElementXMLHTTPRequest
	ElementObjectSubrequest
	ElementSubdocument
	ElementDocument
	ElementOther
	ElementFont
	ElementMedia
	ElementWebSocket
	ElementPing
)

// ElementAll matches every resource kind.
const ElementAll = ElementScript | ElementImage | ElementStylesheet | ElementObject |
	ElementXMLHTTPRequest | ElementObjectSubrequest | ElementSubdocument | ElementDocument |
	ElementOther | ElementFont | ElementMedia | ElementWebSocket | ElementPing

// ElementTypeMaskMap maps adblock option names to element type bits.
var ElementTypeMaskMap = map[string]ElementType{
	"script":            ElementScript,
	"image":             ElementImage,
	"stylesheet":        ElementStylesheet,
	"object":            ElementObject,
	"xmlhttprequest":    ElementXMLHTTPRequest,
	"object-subrequest": ElementObjectSubrequest,
	"subdocument":       ElementSubdocument,
	"document":          ElementDocument,
	"other":             ElementOther,
	"font":              ElementFont,
	"media":             ElementMedia,
	"websocket":         ElementWebSocket,
	"ping":              ElementPing,
}

// ParseElementType converts an option name into its mask bit.
func ParseElementType(s string) (ElementType, error) {
	if t, ok := ElementTypeMaskMap[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unsupported ElementType: %q", s)
}

// String renders the set bits as a "|" separated list of option names.
func (t ElementType) String() string {
	if t == 0 {
		return "none"
	}
	names := make([]string, 0, 2)
	for name, bit := range ElementTypeMaskMap {
		if t&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// NetworkLoadEvent is one intercepted resource load.
type NetworkLoadEvent struct {
	URL         string      // request URL as written by the page, may be relative
	TopURL      string      // top-level document URL
	ElementType ElementType // resource kind; zero is treated as ElementOther
}

// Outcome is the terminal decision for a load.
type Outcome uint8

const (
	Allow Outcome = iota
	Block
)

func (o Outcome) String() string {
	if o == Block {
		return "block"
	}
	return "allow"
}
