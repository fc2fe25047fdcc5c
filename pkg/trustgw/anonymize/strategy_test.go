package anonymize

import (
	"strings"
	"testing"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

func TestIPStrategyTiers(t *testing.T) {
	s := ForKind(KindIP)

	cases := []struct {
		value string
		tier  trust.AnonymizationTier
		want  string
	}{
		{"203.0.113.7", trust.TierNone, "203.0.113.7"},
		{"203.0.113.7", trust.TierMinimal, "203.0.113.0"},
		{"203.0.113.7", trust.TierPartial, "203.0.0.0"},
		{"203.0.113.7", trust.TierHigh, "203.0.0.0"},
		{"2001:db8:85a3::8a2e:370:7334", trust.TierMinimal, "2001:db8:85a3::"},
		{"2001:db8:85a3::8a2e:370:7334", trust.TierPartial, "2001:db8::"},
		{"2001:db8:85a3::8a2e:370:7334", trust.TierHigh, "2001::"},
	}
	for _, c := range cases {
		if got := s.Anonymize(c.value, c.tier); got != c.want {
			t.Errorf("Anonymize(%q, %s) = %q, want %q", c.value, c.tier, got, c.want)
		}
	}

	full := s.Anonymize("203.0.113.7", trust.TierFull)
	if !strings.HasPrefix(full, "ip-") {
		t.Errorf("Full tier should produce an ip pseudonym, got %q", full)
	}
	if full == "203.0.113.7" || strings.Contains(full, "203") {
		t.Errorf("Pseudonym must not leak the original, got %q", full)
	}
}

func TestIPStrategyMalformedInput(t *testing.T) {
	s := ForKind(KindIP)

	// Garbage never passes through, at any tier above none.
	for _, tier := range []trust.AnonymizationTier{trust.TierMinimal, trust.TierPartial, trust.TierHigh, trust.TierFull} {
		got := s.Anonymize("not-an-ip", tier)
		if got == "not-an-ip" {
			t.Errorf("Malformed input passed through at tier %s", tier)
		}
		if !strings.HasPrefix(got, "ip-") {
			t.Errorf("Malformed input should degrade to a pseudonym, got %q", got)
		}
	}
}

func TestDomainStrategyTiers(t *testing.T) {
	s := ForKind(KindDomain)

	cases := []struct {
		value string
		tier  trust.AnonymizationTier
		want  string
	}{
		{"malware.sub.evil.example.com", trust.TierNone, "malware.sub.evil.example.com"},
		{"malware.sub.evil.example.com", trust.TierMinimal, "*.example.com"},
		{"malware.sub.evil.example.com", trust.TierPartial, "*.com"},
		{"malware.sub.evil.example.com", trust.TierHigh, "[generic-tld]"},
		{"example.com", trust.TierMinimal, "example.com"},
		{"evil.example.co.uk", trust.TierHigh, "[country-tld]"},
		{"evil.example.technology", trust.TierHigh, "[other-tld]"},
	}
	for _, c := range cases {
		if got := s.Anonymize(c.value, c.tier); got != c.want {
			t.Errorf("Anonymize(%q, %s) = %q, want %q", c.value, c.tier, got, c.want)
		}
	}

	full := s.Anonymize("evil.example.com", trust.TierFull)
	if !strings.HasPrefix(full, "domain-") {
		t.Errorf("Full tier should produce a domain pseudonym, got %q", full)
	}
}

func TestEmailStrategyTiers(t *testing.T) {
	s := ForKind(KindEmail)

	cases := []struct {
		value string
		tier  trust.AnonymizationTier
		want  string
	}{
		{"alice@example.com", trust.TierNone, "alice@example.com"},
		{"alice@example.com", trust.TierMinimal, "*@example.com"},
		{"alice@example.com", trust.TierPartial, "*@*.com"},
		{"alice@example.com", trust.TierHigh, "*@[generic-tld]"},
	}
	for _, c := range cases {
		if got := s.Anonymize(c.value, c.tier); got != c.want {
			t.Errorf("Anonymize(%q, %s) = %q, want %q", c.value, c.tier, got, c.want)
		}
	}

	// The local part never survives any tier above none.
	for _, tier := range []trust.AnonymizationTier{trust.TierMinimal, trust.TierPartial, trust.TierHigh, trust.TierFull} {
		if got := s.Anonymize("alice@example.com", tier); strings.Contains(got, "alice") {
			t.Errorf("Local part leaked at tier %s: %q", tier, got)
		}
	}
}

func TestURLStrategyTiers(t *testing.T) {
	s := ForKind(KindURL)

	cases := []struct {
		value string
		tier  trust.AnonymizationTier
		want  string
	}{
		{"https://evil.example.com/payload?id=42", trust.TierNone, "https://evil.example.com/payload?id=42"},
		{"https://evil.example.com/payload?id=42", trust.TierMinimal, "https://evil.example.com"},
		{"https://evil.example.com/payload?id=42", trust.TierPartial, "https://*"},
		{"https://evil.example.com/payload?id=42", trust.TierHigh, "[url]"},
	}
	for _, c := range cases {
		if got := s.Anonymize(c.value, c.tier); got != c.want {
			t.Errorf("Anonymize(%q, %s) = %q, want %q", c.value, c.tier, got, c.want)
		}
	}

	if got := s.Anonymize("::::not a url", trust.TierMinimal); !strings.HasPrefix(got, "url-") {
		t.Errorf("Unparseable URL should degrade to a pseudonym, got %q", got)
	}
}

func TestTextStrategyMasksEmbeddedIndicators(t *testing.T) {
	s := ForKind(KindText)

	in := "C2 at 203.0.113.7, drop via https://evil.example.com/x, contact badguy@evil.com, also seen on evil.example.net"
	got := s.Anonymize(in, trust.TierPartial)

	for _, leaked := range []string{"203.0.113.7", "evil.example.com", "badguy", "evil.com", "evil.example.net"} {
		if strings.Contains(got, leaked) {
			t.Errorf("Indicator %q leaked in %q", leaked, got)
		}
	}
	for _, want := range []string{"203.0.0.0", "https://*", "*@*.com", "*.net"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in %q", want, got)
		}
	}
	if !strings.Contains(got, "C2 at ") || !strings.Contains(got, "contact ") {
		t.Errorf("Surrounding prose should be preserved, got %q", got)
	}
}

func TestTextStrategyNoneAndPlainText(t *testing.T) {
	s := ForKind(KindText)

	in := "C2 at 203.0.113.7"
	if got := s.Anonymize(in, trust.TierNone); got != in {
		t.Errorf("None tier should pass through, got %q", got)
	}
	plain := "nothing interesting here"
	if got := s.Anonymize(plain, trust.TierPartial); got != plain {
		t.Errorf("Text without indicators should be unchanged, got %q", got)
	}
}

func TestFullTierDeterministicAndIdempotent(t *testing.T) {
	values := map[Kind]string{
		KindIP:     "203.0.113.7",
		KindDomain: "evil.example.com",
		KindEmail:  "alice@example.com",
		KindURL:    "https://evil.example.com/x",
	}

	for kind, value := range values {
		s := ForKind(kind)
		first := s.Anonymize(value, trust.TierFull)
		second := s.Anonymize(value, trust.TierFull)
		if first != second {
			t.Errorf("%s pseudonym is not deterministic: %q vs %q", kind, first, second)
		}
		again := s.Anonymize(first, trust.TierFull)
		if again != first {
			t.Errorf("%s pseudonym is not idempotent: %q became %q", kind, first, again)
		}
	}

	// Different values map to different pseudonyms.
	s := ForKind(KindIP)
	if s.Anonymize("203.0.113.7", trust.TierFull) == s.Anonymize("203.0.113.8", trust.TierFull) {
		t.Error("Distinct addresses should not collide")
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		value string
		want  Kind
	}{
		{"203.0.113.7", KindIP},
		{"2001:db8::1", KindIP},
		{"alice@example.com", KindEmail},
		{"https://example.com/path", KindURL},
		{"evil.example.com", KindDomain},
		{"some prose about an incident", KindText},
		{"", KindText},
	}
	for _, c := range cases {
		if got := Detect(c.value); got != c.want {
			t.Errorf("Detect(%q) = %s, want %s", c.value, got, c.want)
		}
	}
}

func TestKindForDeclaredType(t *testing.T) {
	cases := []struct {
		declared string
		want     Kind
		known    bool
	}{
		{"ipv4-addr", KindIP, true},
		{"IPv6-Addr", KindIP, true},
		{"domain-name", KindDomain, true},
		{"email-addr", KindEmail, true},
		{"url", KindURL, true},
		{"description", KindText, true},
		{"x509-certificate", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, known := KindForDeclaredType(c.declared)
		if known != c.known {
			t.Errorf("KindForDeclaredType(%q) known = %v, want %v", c.declared, known, c.known)
			continue
		}
		if known && got != c.want {
			t.Errorf("KindForDeclaredType(%q) = %s, want %s", c.declared, got, c.want)
		}
	}
}

func TestMatchesKind(t *testing.T) {
	if !MatchesKind(KindIP, "203.0.113.7") {
		t.Error("A valid address should match the ip kind")
	}
	if MatchesKind(KindIP, "totally-not-an-ip") {
		t.Error("Garbage should not match the ip kind")
	}
	if !MatchesKind(KindDomain, "evil.example.com.") {
		t.Error("A trailing dot should still match the domain kind")
	}
	if !MatchesKind(KindText, "anything at all") {
		t.Error("The text kind accepts any value")
	}
}
