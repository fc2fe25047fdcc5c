package anonymize

import (
	"net/url"
	"strings"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// urlStrategy anonymizes URLs: minimal keeps scheme and host and strips
// path and query, partial keeps only the scheme, high drops the URL to
// an opaque marker.
type urlStrategy struct{}

func (urlStrategy) Kind() Kind { return KindURL }

func (s urlStrategy) Anonymize(value string, tier trust.AnonymizationTier) string {
	if tier == trust.TierNone {
		return value
	}
	if isPseudonym(value) {
		return value
	}

	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return pseudonym(KindURL, value)
	}

	switch tier {
	case trust.TierMinimal:
		return u.Scheme + "://" + u.Host
	case trust.TierPartial:
		return u.Scheme + "://*"
	case trust.TierHigh:
		return "[url]"
	default:
		return pseudonym(KindURL, value)
	}
}
