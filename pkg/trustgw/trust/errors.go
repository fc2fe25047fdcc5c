package trust

import (
	"errors"
	"fmt"
)

// InvalidRelationshipError indicates a caller mistake: a bad state
// transition, a self-relationship, or a duplicate ordered pair. It is
// never retried.
type InvalidRelationshipError struct {
	Reason string
}

func (e *InvalidRelationshipError) Error() string {
	return fmt.Sprintf("invalid relationship: %s", e.Reason)
}

// ConfigurationError indicates a fatal configuration mistake, such as
// zero or multiple system-default trust levels. Callers must halt
// rather than guess.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("trust configuration error: %s", e.Reason)
}

// ErrDependencyUnavailable wraps store or audit I/O failures. The engine
// does not retry; callers may retry with backoff, and tier resolution
// degrades to the fail-safe tier instead of propagating it.
var ErrDependencyUnavailable = errors.New("trust dependency unavailable")

// IsInvalidRelationship reports whether err is an InvalidRelationshipError.
func IsInvalidRelationship(err error) bool {
	var ire *InvalidRelationshipError
	return errors.As(err, &ire)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
