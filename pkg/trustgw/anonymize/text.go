package anonymize

import (
	"regexp"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Embedded indicator patterns for free-text scanning. URLs are replaced
// before emails, emails before bare addresses and domains, so each
// match is handled by exactly one strategy.
var (
	embeddedURL    = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s<>"]+`)
	embeddedEmail  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}`)
	embeddedIPv4   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	embeddedDomain = regexp.MustCompile(`(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}`)
)

// textStrategy anonymizes generic free text by locating embedded
// indicators (URLs, emails, IPs, domains) and applying the matching
// strategy at the same tier in place. Surrounding prose is preserved.
type textStrategy struct{}

func (textStrategy) Kind() Kind { return KindText }

func (s textStrategy) Anonymize(value string, tier trust.AnonymizationTier) string {
	if tier == trust.TierNone || value == "" {
		return value
	}

	out := embeddedURL.ReplaceAllStringFunc(value, func(m string) string {
		return ForKind(KindURL).Anonymize(m, tier)
	})
	out = embeddedEmail.ReplaceAllStringFunc(out, func(m string) string {
		return ForKind(KindEmail).Anonymize(m, tier)
	})
	out = embeddedIPv4.ReplaceAllStringFunc(out, func(m string) string {
		return ForKind(KindIP).Anonymize(m, tier)
	})
	out = replaceDomains(out, tier)
	return out
}

// replaceDomains masks bare domain names, skipping matches that are the
// domain part of an already-masked email or URL or the tail of an
// already-masked domain.
func replaceDomains(text string, tier trust.AnonymizationTier) string {
	matches := embeddedDomain.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var out []byte
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 {
			switch text[start-1] {
			case '@', '.', '*', '/', '-':
				// Part of a larger indicator handled earlier.
				out = append(out, text[last:end]...)
				last = end
				continue
			}
		}
		out = append(out, text[last:start]...)
		out = append(out, ForKind(KindDomain).Anonymize(text[start:end], tier)...)
		last = end
	}
	out = append(out, text[last:]...)
	return string(out)
}
