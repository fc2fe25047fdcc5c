package trust

import (
	"fmt"
	"time"
)

// TLPLevel is a traffic-light-protocol marking on intelligence.
type TLPLevel string

const (
	TLPWhite TLPLevel = "white"
	TLPGreen TLPLevel = "green"
	TLPAmber TLPLevel = "amber"
	TLPRed   TLPLevel = "red"
)

var tlpRanks = map[TLPLevel]int{
	TLPWhite: 0,
	TLPGreen: 1,
	TLPAmber: 2,
	TLPRed:   3,
}

// Rank returns the TLP ordinal. Unknown markings rank above red so an
// unrecognized label is never shared under a cap.
func (l TLPLevel) Rank() int {
	if r, ok := tlpRanks[l]; ok {
		return r
	}
	return len(tlpRanks)
}

// SharingPolicy is an optional allow/block policy attachable to a
// relationship or a group, evaluated before anonymization.
type SharingPolicy struct {
	ID                    string            `json:"id"`
	AllowedObjectTypes    []string          `json:"allowed_object_types,omitempty"`
	BlockedObjectTypes    []string          `json:"blocked_object_types,omitempty"`
	AllowedIndicatorTypes []string          `json:"allowed_indicator_types,omitempty"`
	BlockedIndicatorTypes []string          `json:"blocked_indicator_types,omitempty"`
	MaxTLP                TLPLevel          `json:"max_tlp,omitempty"`
	MaxIntelAge           time.Duration     `json:"max_intel_age,omitempty"` // zero means unlimited
	RequireAnonymization  bool              `json:"require_anonymization"`
	CustomRules           map[string]string `json:"custom_rules,omitempty"`
	AllowAttribution      bool              `json:"allow_attribution"`
}

// PolicyDecision is the outcome of evaluating a sharing policy against
// one record.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Evaluate applies the policy to a record's object type, indicator
// type, TLP marking, and creation time. Block lists win over allow
// lists; an empty allow list permits everything.
func (p *SharingPolicy) Evaluate(objectType, indicatorType string, tlp TLPLevel, created, now time.Time) PolicyDecision {
	if p == nil {
		return PolicyDecision{Allowed: true}
	}
	if contains(p.BlockedObjectTypes, objectType) {
		return PolicyDecision{Reason: fmt.Sprintf("object type %q is blocked", objectType)}
	}
	if len(p.AllowedObjectTypes) > 0 && !contains(p.AllowedObjectTypes, objectType) {
		return PolicyDecision{Reason: fmt.Sprintf("object type %q is not in the allow list", objectType)}
	}
	if indicatorType != "" {
		if contains(p.BlockedIndicatorTypes, indicatorType) {
			return PolicyDecision{Reason: fmt.Sprintf("indicator type %q is blocked", indicatorType)}
		}
		if len(p.AllowedIndicatorTypes) > 0 && !contains(p.AllowedIndicatorTypes, indicatorType) {
			return PolicyDecision{Reason: fmt.Sprintf("indicator type %q is not in the allow list", indicatorType)}
		}
	}
	if p.MaxTLP != "" && tlp != "" && tlp.Rank() > p.MaxTLP.Rank() {
		return PolicyDecision{Reason: fmt.Sprintf("TLP %s exceeds the %s cap", tlp, p.MaxTLP)}
	}
	if p.MaxIntelAge > 0 && !created.IsZero() && now.Sub(created) > p.MaxIntelAge {
		return PolicyDecision{Reason: fmt.Sprintf("intelligence older than %s", p.MaxIntelAge)}
	}
	return PolicyDecision{Allowed: true}
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
