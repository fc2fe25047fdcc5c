package sharing

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/intelmesh/trustgw/pkg/trustgw/anonymize"
	"github.com/intelmesh/trustgw/pkg/trustgw/audit"
	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Metrics is implemented by the telemetry layer to observe
// anonymization work.
type Metrics interface {
	ObserveField(kind string, tier trust.AnonymizationTier)
	ObserveRedaction()
	ObserveShare(shape string)
}

// Service orchestrates resolve → policy → strategies for sharing
// requests. It is stateless between calls and safe for concurrent use.
type Service struct {
	resolver *trust.Resolver
	sink     audit.Sink
	policy   *trust.SharingPolicy
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates the anonymization service. The sink may be nil,
// in which case decisions are not audited.
func NewService(resolver *trust.Resolver, sink audit.Sink) *Service {
	return &Service{
		resolver: resolver,
		sink:     sink,
		tracer:   otel.Tracer("trustgw/sharing"),
		now:      time.Now,
	}
}

// SetPolicy attaches a sharing policy evaluated before anonymization.
func (s *Service) SetPolicy(policy *trust.SharingPolicy) {
	s.policy = policy
}

// SetMetrics attaches a metrics observer.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// ResolveAnonymizationTier resolves the tier governing source→target.
// Any resolution failure, including store outages, degrades to the most
// restrictive tier: the absence of trust information is never treated
// as permission.
func (s *Service) ResolveAnonymizationTier(ctx context.Context, sourceOrg, targetOrg string) trust.AnonymizationTier {
	res, err := s.resolver.Resolve(ctx, sourceOrg, targetOrg)
	if err != nil {
		log.Warn().
			Err(err).
			Str("source_org", sourceOrg).
			Str("target_org", targetOrg).
			Msg("Trust resolution failed, falling back to full anonymization")
		s.audit(ctx, audit.Entry{
			Action:        "resolve_tier",
			SourceOrg:     sourceOrg,
			TargetOrg:     targetOrg,
			Success:       false,
			FailureReason: err.Error(),
			Details:       map[string]string{"tier": string(trust.TierFull)},
		})
		return trust.TierFull
	}

	s.audit(ctx, audit.Entry{
		Action:         "resolve_tier",
		SourceOrg:      sourceOrg,
		TargetOrg:      targetOrg,
		RelationshipID: res.RelationshipID,
		GroupID:        res.GroupID,
		Success:        true,
		Details: map[string]string{
			"tier":         string(res.AnonymizationTier),
			"access":       string(res.AccessTier),
			"relationship": relationshipLabel(res),
		},
	})
	return res.AnonymizationTier
}

// AnonymizeRecord resolves the tier once and applies the matching
// strategy to every field of the record. A field whose declared type
// disagrees with its content, or whose strategy fails, is redacted
// entirely rather than passed through.
func (s *Service) AnonymizeRecord(ctx context.Context, rec Record, sourceOrg, targetOrg string) Record {
	ctx, span := s.tracer.Start(ctx, "sharing.AnonymizeRecord",
		trace.WithAttributes(
			attribute.String("source_org", sourceOrg),
			attribute.String("target_org", targetOrg),
			attribute.String("record_id", rec.ID),
		))
	defer span.End()

	res := s.resolve(ctx, sourceOrg, targetOrg)
	out := s.anonymizeWithResolution(rec, res)

	s.audit(ctx, audit.Entry{
		Action:         "anonymize_record",
		SourceOrg:      sourceOrg,
		TargetOrg:      targetOrg,
		RelationshipID: res.RelationshipID,
		GroupID:        res.GroupID,
		Success:        true,
		Details: map[string]string{
			"tier":         string(res.AnonymizationTier),
			"relationship": relationshipLabel(res),
			"record_id":    rec.ID,
		},
	})
	if s.metrics != nil {
		s.metrics.ObserveShare("record")
	}
	return out
}

// BulkAnonymize anonymizes records in input order, resolving trust once
// for the pair rather than once per record. Individual record failures
// are counted, never fatal to the batch.
func (s *Service) BulkAnonymize(ctx context.Context, recs []Record, sourceOrg, targetOrg string) ([]Record, BulkStats) {
	ctx, span := s.tracer.Start(ctx, "sharing.BulkAnonymize",
		trace.WithAttributes(
			attribute.String("source_org", sourceOrg),
			attribute.String("target_org", targetOrg),
			attribute.Int("records", len(recs)),
		))
	defer span.End()

	res := s.resolve(ctx, sourceOrg, targetOrg)

	out := make([]Record, 0, len(recs))
	var stats BulkStats
	for _, rec := range recs {
		anonymized, ok := s.anonymizeGuarded(rec, res)
		if ok {
			stats.Processed++
		} else {
			stats.Errors++
		}
		out = append(out, anonymized)
	}

	s.audit(ctx, audit.Entry{
		Action:         "bulk_anonymize",
		SourceOrg:      sourceOrg,
		TargetOrg:      targetOrg,
		RelationshipID: res.RelationshipID,
		GroupID:        res.GroupID,
		Success:        stats.Errors == 0,
		Details: map[string]string{
			"tier":         string(res.AnonymizationTier),
			"relationship": relationshipLabel(res),
			"processed":    itoa(stats.Processed),
			"errors":       itoa(stats.Errors),
		},
	})
	if s.metrics != nil {
		s.metrics.ObserveShare("bulk")
	}
	return out, stats
}

// resolve wraps the resolver with the fail-safe fallback: errors and
// missing relationships both collapse to full anonymization.
func (s *Service) resolve(ctx context.Context, sourceOrg, targetOrg string) trust.Resolution {
	res, err := s.resolver.Resolve(ctx, sourceOrg, targetOrg)
	if err != nil {
		log.Warn().
			Err(err).
			Str("source_org", sourceOrg).
			Str("target_org", targetOrg).
			Msg("Trust resolution failed during anonymization, using fail-safe policy")
		return trust.NoTrustRelationship()
	}
	return res
}

// anonymizeGuarded recovers from any panic inside a single record so a
// poisoned record cannot abort a batch.
func (s *Service) anonymizeGuarded(rec Record, res trust.Resolution) (out Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("record_id", rec.ID).
				Msg("Record anonymization panicked, returning fully redacted record")
			out = redactAll(rec, res.AnonymizationTier)
			ok = false
		}
	}()
	return s.anonymizeWithResolution(rec, res), true
}

func (s *Service) anonymizeWithResolution(rec Record, res trust.Resolution) Record {
	tier := res.AnonymizationTier
	out := rec.clone()
	out.Anonymized = true
	out.AnonymizationTier = tier

	if s.policy != nil {
		decision := s.policy.Evaluate(rec.Type, rec.IndicatorType, rec.TLP, rec.Created, s.now())
		if !decision.Allowed {
			log.Info().
				Str("record_id", rec.ID).
				Str("reason", decision.Reason).
				Msg("Sharing policy withheld record")
			return redactAll(rec, tier)
		}
	}

	if tier == trust.TierNone {
		return out
	}

	for i := range out.Fields {
		out.Fields[i].Value = s.anonymizeField(out.Fields[i], tier)
	}
	return out
}

// anonymizeField picks the strategy by declared type when known, by
// value shape otherwise. A declared type that does not match the value
// is a field failure and redacts the field.
func (s *Service) anonymizeField(f Field, tier trust.AnonymizationTier) string {
	kind, declared := anonymize.KindForDeclaredType(f.Type)
	if declared {
		if !anonymize.MatchesKind(kind, f.Value) {
			log.Debug().
				Str("field", f.Name).
				Str("declared_type", f.Type).
				Msg("Field value does not match declared type, redacting")
			if s.metrics != nil {
				s.metrics.ObserveRedaction()
			}
			return Redacted
		}
	} else {
		kind = anonymize.Detect(f.Value)
	}

	value, ok := applyStrategy(anonymize.ForKind(kind), f.Value, tier)
	if !ok {
		if s.metrics != nil {
			s.metrics.ObserveRedaction()
		}
		return Redacted
	}
	if s.metrics != nil {
		s.metrics.ObserveField(string(kind), tier)
	}
	return value
}

// applyStrategy isolates a strategy call; a panicking strategy is
// treated as a failed field, never as a shared original.
func applyStrategy(strat anonymize.Strategy, value string, tier trust.AnonymizationTier) (out string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = "", false
		}
	}()
	return strat.Anonymize(value, tier), true
}

func redactAll(rec Record, tier trust.AnonymizationTier) Record {
	out := rec.clone()
	out.Anonymized = true
	out.AnonymizationTier = tier
	for i := range out.Fields {
		out.Fields[i].Value = Redacted
	}
	return out
}

// audit appends one entry, fire-and-forget. A failing sink is logged
// for operators but never fails the decision it records.
func (s *Service) audit(ctx context.Context, entry audit.Entry) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(ctx, entry); err != nil {
		log.Warn().
			Err(err).
			Str("action", entry.Action).
			Msg("Failed to append audit entry")
	}
}

func relationshipLabel(res trust.Resolution) string {
	switch {
	case res.NoRelationship:
		return "none"
	case res.RelationshipID != "":
		return res.RelationshipID
	case res.GroupID != "":
		return "group:" + res.GroupID
	default:
		return "none"
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
