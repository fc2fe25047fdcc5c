package anonymize

import (
	"strings"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// domainStrategy anonymizes domain names: minimal keeps the registered
// domain and masks subdomains, partial keeps only the TLD, high reduces
// the domain to a TLD-category bucket.
type domainStrategy struct{}

func (domainStrategy) Kind() Kind { return KindDomain }

func (s domainStrategy) Anonymize(value string, tier trust.AnonymizationTier) string {
	if tier == trust.TierNone {
		return value
	}
	if isPseudonym(value) {
		return value
	}

	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(value), "."))
	if !domainShape.MatchString(name) {
		return pseudonym(KindDomain, value)
	}
	labels := strings.Split(name, ".")

	switch tier {
	case trust.TierMinimal:
		if len(labels) > 2 {
			return "*." + strings.Join(labels[len(labels)-2:], ".")
		}
		return name
	case trust.TierPartial:
		return "*." + labels[len(labels)-1]
	case trust.TierHigh:
		return tldBucket(labels[len(labels)-1])
	default:
		return pseudonym(KindDomain, value)
	}
}

// genericTLDs are the common non-country top level domains. Anything
// two letters long is treated as a country code.
var genericTLDs = map[string]bool{
	"com": true, "net": true, "org": true, "edu": true, "gov": true,
	"mil": true, "int": true, "info": true, "biz": true, "io": true,
	"dev": true, "app": true, "cloud": true, "xyz": true,
}

func tldBucket(tld string) string {
	switch {
	case genericTLDs[tld]:
		return "[generic-tld]"
	case len(tld) == 2:
		return "[country-tld]"
	default:
		return "[other-tld]"
	}
}
