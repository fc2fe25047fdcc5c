// Package anonymize implements the per-data-type anonymization
// strategies. Strategies are pure functions over (value, tier): no I/O,
// no errors. A value that cannot be parsed as its expected type is
// replaced with its full-tier pseudonym so malformed input never leaks.
package anonymize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Kind tags the data type a strategy understands.
type Kind string

const (
	KindIP     Kind = "ip"
	KindDomain Kind = "domain"
	KindEmail  Kind = "email"
	KindURL    Kind = "url"
	KindText   Kind = "text"
)

// Strategy anonymizes one data type across the tier scale. The none
// tier is an identity passthrough in every strategy.
type Strategy interface {
	Kind() Kind
	Anonymize(value string, tier trust.AnonymizationTier) string
}

var strategies = map[Kind]Strategy{
	KindIP:     ipStrategy{},
	KindDomain: domainStrategy{},
	KindEmail:  emailStrategy{},
	KindURL:    urlStrategy{},
	KindText:   textStrategy{},
}

// ForKind returns the strategy for a kind, falling back to the generic
// text strategy for anything unrecognized.
func ForKind(kind Kind) Strategy {
	if s, ok := strategies[kind]; ok {
		return s
	}
	return strategies[KindText]
}

// declaredKinds maps declared field types (STIX-style and plain) onto
// strategy kinds. Detection in one place; call sites never duplicate
// these checks.
var declaredKinds = map[string]Kind{
	"ipv4-addr":   KindIP,
	"ipv6-addr":   KindIP,
	"ip":          KindIP,
	"ip-address":  KindIP,
	"domain-name": KindDomain,
	"domain":      KindDomain,
	"hostname":    KindDomain,
	"email-addr":  KindEmail,
	"email":       KindEmail,
	"url":         KindURL,
	"uri":         KindURL,
	"text":        KindText,
	"description": KindText,
	"pattern":     KindText,
}

// KindForDeclaredType resolves a declared field type. The second result
// is false when the declaration is absent or unknown and the value
// shape should decide instead.
func KindForDeclaredType(declared string) (Kind, bool) {
	k, ok := declaredKinds[strings.ToLower(strings.TrimSpace(declared))]
	return k, ok
}

var (
	emailShape  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}$`)
	domainShape = regexp.MustCompile(`^(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,}$`)
)

// Detect classifies a raw value into a strategy kind by shape. Used for
// fields whose declared type is ambiguous, such as free-text values.
func Detect(value string) Kind {
	v := strings.TrimSpace(value)
	if v == "" {
		return KindText
	}
	if _, err := netip.ParseAddr(v); err == nil {
		return KindIP
	}
	if emailShape.MatchString(v) {
		return KindEmail
	}
	if u, err := url.Parse(v); err == nil && u.Scheme != "" && u.Host != "" {
		return KindURL
	}
	if domainShape.MatchString(v) {
		return KindDomain
	}
	return KindText
}

// MatchesKind reports whether a raw value parses as the given kind.
// The sharing service uses this to catch fields whose declared type
// disagrees with their content before a strategy sees them.
func MatchesKind(kind Kind, value string) bool {
	v := strings.TrimSpace(value)
	switch kind {
	case KindIP:
		_, err := netip.ParseAddr(v)
		return err == nil
	case KindDomain:
		return domainShape.MatchString(strings.TrimSuffix(v, "."))
	case KindEmail:
		return emailShape.MatchString(v)
	case KindURL:
		u, err := url.Parse(v)
		return err == nil && u.Scheme != "" && u.Host != ""
	default:
		return true
	}
}

// pseudonymShape matches strategy output so that re-anonymizing an
// already pseudonymized value is a no-op (the full-tier idempotence
// law).
var pseudonymShape = regexp.MustCompile(`^(?:ip|domain|email|url|text)-[0-9a-f]{16}$`)

func isPseudonym(value string) bool {
	return pseudonymShape.MatchString(value)
}

// pseudonym derives the deterministic masked form of a value: a keyed
// one-way hash, stable per strategy, so repeated occurrences of the
// same indicator stay linkable without revealing the original.
func pseudonym(kind Kind, value string) string {
	mac := hmac.New(sha256.New, []byte("trustgw/anonymize/"+string(kind)))
	mac.Write([]byte(value))
	digest := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s-%s", kind, digest[:16])
}
