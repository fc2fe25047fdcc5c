// Package sharing implements the trust-based anonymization service: it
// resolves the trust policy for an exchange, runs the matching
// anonymization strategies over each sensitive field of a record, and
// writes one audit entry per decision.
package sharing

import (
	"time"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Redacted replaces a field value when its strategy fails. Partial
// failure never degrades to sharing the unredacted original.
const Redacted = "[REDACTED]"

// Field is one sensitive field of an intelligence record: a declared
// type (possibly empty or unknown) and a raw value.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// Record is an opaque intelligence record handed over by the protocol
// layer. The engine knows nothing about STIX or TAXII wire formats;
// marshaling in and out of this shape is the protocol layer's job.
type Record struct {
	ID            string         `json:"id"`
	Type          string         `json:"type,omitempty"`
	IndicatorType string         `json:"indicator_type,omitempty"`
	TLP           trust.TLPLevel `json:"tlp,omitempty"`
	Created       time.Time      `json:"created,omitempty"`
	Fields        []Field        `json:"fields"`

	Anonymized        bool                    `json:"anonymized"`
	AnonymizationTier trust.AnonymizationTier `json:"anonymization_tier,omitempty"`
}

// clone deep-copies the record so anonymization never mutates the
// caller's fields.
func (r Record) clone() Record {
	out := r
	out.Fields = make([]Field, len(r.Fields))
	copy(out.Fields, r.Fields)
	return out
}

// BulkStats summarizes one bulk anonymization call.
type BulkStats struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}
