package domain

import (
	"fmt"
	"strings"
)

// DetectionMethod names the list that produced a detection.
type DetectionMethod string

const (
	MethodDirectory   DetectionMethod = "disconnect-directory"
	MethodPrivacyList DetectionMethod = "privacy-list"
	MethodGeneralList DetectionMethod = "general-list"
)

// ParseDetectionMethod validates a method name.
func ParseDetectionMethod(s string) (DetectionMethod, error) {
	switch m := DetectionMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodDirectory, MethodPrivacyList, MethodGeneralList:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported DetectionMethod: %q", s)
	}
}

// TrackerDetection is reported at most once per NetworkLoadEvent.
type TrackerDetection struct {
	URL          string          `json:"url" validate:"required"`
	ParentDomain string          `json:"parentDomain,omitempty"` // empty when unknown
	Blocked      bool            `json:"blocked"`
	Method       DetectionMethod `json:"method" validate:"required,oneof=disconnect-directory privacy-list general-list"`
}

// HasParent reports whether the detection carries a parent company.
func (d TrackerDetection) HasParent() bool { return d.ParentDomain != "" }

// Tracker is one entry of the tracker directory.
type Tracker struct {
	Domain     string `json:"domain"`
	Company    string `json:"company"`
	CompanyURL string `json:"url,omitempty"`
	Category   string `json:"category"`
}
