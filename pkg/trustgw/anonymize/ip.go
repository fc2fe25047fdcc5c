package anonymize

import (
	"net/netip"
	"strings"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// ipStrategy anonymizes IPv4 and IPv6 addresses by zeroing host bits:
// /24, /16, /8 for IPv4 and /48, /32, /16 for IPv6 across the
// minimal/partial/high tiers.
type ipStrategy struct{}

func (ipStrategy) Kind() Kind { return KindIP }

func (s ipStrategy) Anonymize(value string, tier trust.AnonymizationTier) string {
	if tier == trust.TierNone {
		return value
	}
	if isPseudonym(value) {
		return value
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		// Not an address after all; fail safe with the strongest mask.
		return pseudonym(KindIP, value)
	}

	var bits int
	switch tier {
	case trust.TierMinimal:
		bits = pick(addr, 24, 48)
	case trust.TierPartial:
		bits = pick(addr, 16, 32)
	case trust.TierHigh:
		bits = pick(addr, 8, 16)
	default:
		return pseudonym(KindIP, value)
	}

	prefix, err := addr.Prefix(bits)
	if err != nil {
		return pseudonym(KindIP, value)
	}
	return prefix.Addr().String()
}

func pick(addr netip.Addr, v4bits, v6bits int) int {
	if addr.Is4() {
		return v4bits
	}
	return v6bits
}
