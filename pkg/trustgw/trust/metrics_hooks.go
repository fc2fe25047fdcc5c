package trust

import (
	"sync"
)

// DecisionEmitter is implemented by components that want to observe
// resolution decisions and relationship state transitions, typically to
// export them as metrics.
type DecisionEmitter interface {
	// EmitResolution notifies about one resolution decision. Outcome is
	// one of "direct", "group", "none", "error".
	EmitResolution(sourceOrg, targetOrg, outcome string, tier AnonymizationTier)

	// EmitStateTransition notifies about a relationship state change.
	EmitStateTransition(relationshipID string, from, to RelationshipStatus)
}

// DecisionHooks fans resolution events out to registered emitters.
type DecisionHooks struct {
	mu       sync.RWMutex
	emitters []DecisionEmitter
}

// NewDecisionHooks creates an empty hook set.
func NewDecisionHooks() *DecisionHooks {
	return &DecisionHooks{
		emitters: make([]DecisionEmitter, 0),
	}
}

// RegisterEmitter adds an emitter to the hooks.
func (h *DecisionHooks) RegisterEmitter(emitter DecisionEmitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitters = append(h.emitters, emitter)
}

// NotifyResolution informs all registered emitters about a resolution.
func (h *DecisionHooks) NotifyResolution(sourceOrg, targetOrg, outcome string, tier AnonymizationTier) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, emitter := range h.emitters {
		emitter.EmitResolution(sourceOrg, targetOrg, outcome, tier)
	}
}

// NotifyStateTransition informs all registered emitters about a state
// transition.
func (h *DecisionHooks) NotifyStateTransition(relationshipID string, from, to RelationshipStatus) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, emitter := range h.emitters {
		emitter.EmitStateTransition(relationshipID, from, to)
	}
}
