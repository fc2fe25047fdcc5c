package anonymize

import (
	"strings"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// emailStrategy anonymizes email addresses: the local part is always
// masked, and the domain part degrades along the domain strategy's
// scale.
type emailStrategy struct{}

func (emailStrategy) Kind() Kind { return KindEmail }

func (s emailStrategy) Anonymize(value string, tier trust.AnonymizationTier) string {
	if tier == trust.TierNone {
		return value
	}
	if isPseudonym(value) {
		return value
	}

	addr := strings.TrimSpace(value)
	if !emailShape.MatchString(addr) {
		return pseudonym(KindEmail, value)
	}
	domain := addr[strings.LastIndex(addr, "@")+1:]
	labels := strings.Split(strings.ToLower(domain), ".")

	switch tier {
	case trust.TierMinimal:
		return "*@" + strings.ToLower(domain)
	case trust.TierPartial:
		return "*@*." + labels[len(labels)-1]
	case trust.TierHigh:
		return "*@" + tldBucket(labels[len(labels)-1])
	default:
		return pseudonym(KindEmail, value)
	}
}
