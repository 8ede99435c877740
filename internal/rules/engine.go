package rules

import (
	"time"

	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/types"
)

// Engine bundles validation and compilation behind one dependency.
// Stateless apart from its clock; safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine clock. Tests use it to pin "now".
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new rules engine instance.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine clock reading in UTC.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// Validate checks a rule tree against the registry.
func (e *Engine) Validate(node types.Node) types.ValidationResult {
	return Validate(node)
}

// Compile translates a validated rule tree into a predicate evaluated at now.
func (e *Engine) Compile(node types.Node, now time.Time) (predicate.Predicate, error) {
	return Compile(node, now)
}

// Fields lists the filterable field catalogue.
func (e *Engine) Fields() []FieldDescriptor {
	return Fields()
}
