package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for SegmentKeeper operations.
var (
	// ErrInvalidRuleTree indicates a rule tree failed validation.
	// Returned errors are *ValidationError values carrying every violation.
	ErrInvalidRuleTree = errors.New("invalid rule tree")

	// ErrNotFound indicates a segment is absent or owned by another tenant.
	// The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates the data store could not be reached or
	// queried right now. Matched by transient *StoreError values only.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSegmentInactive indicates an inactive segment was materialized while
	// inactive segments are excluded by configuration.
	ErrSegmentInactive = errors.New("segment is inactive")

	// ErrInvalidSegment indicates segment metadata (name, description) was rejected.
	ErrInvalidSegment = errors.New("invalid segment")

	// ErrTenantRequired indicates an operation was attempted without a tenant id.
	ErrTenantRequired = errors.New("tenant id is required")

	// ErrUnknownField indicates a field name is not in the registry.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidOperator indicates an unknown operator or one incompatible with the field type.
	ErrInvalidOperator = errors.New("invalid operator for field type")

	// ErrCoercionFailed indicates a value could not be coerced to the field type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrTooManyTagValues indicates a has_all list exceeds MaxTagValues.
	ErrTooManyTagValues = errors.New("has_all operator has too many values")
)

// ViolationKind classifies a validation failure.
type ViolationKind string

const (
	// ViolationStructural is a malformed tree shape: bad condition, empty
	// rules, or a leaf missing field/operator/value.
	ViolationStructural ViolationKind = "structural"
	// ViolationUnknownField is a field absent from the registry.
	ViolationUnknownField ViolationKind = "unknown_field"
	// ViolationUnsupportedOperator is an operator not permitted for the field type.
	ViolationUnsupportedOperator ViolationKind = "unsupported_operator"
	// ViolationValueType is a value not coercible to the field type.
	ViolationValueType ViolationKind = "value_type"
)

// Violation describes one problem found in a rule tree.
type Violation struct {
	Path   string        `json:"path"`
	Kind   ViolationKind `json:"kind"`
	Reason string        `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Path, v.Reason, v.Kind)
}

// ValidationResult is the outcome of validating a rule tree.
// Violations lists every problem found, not just the first.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Err returns nil for a valid result and a *ValidationError otherwise.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Violations: r.Violations}
}

// ValidationError carries the full violation list of a rejected rule tree.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRuleTree, strings.Join(parts, "; "))
}

// Is reports ErrInvalidRuleTree so callers can match with errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRuleTree
}

// StoreError wraps a data store failure. The driver error is preserved
// unmodified and reachable through errors.As/Unwrap.
type StoreError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	if e.Transient {
		return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
	}
	return fmt.Sprintf("store failure: %s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrStoreUnavailable for transient failures. Permanent ones
// (constraint violations, bad SQL) match only through the wrapped error.
func (e *StoreError) Is(target error) bool {
	return e.Transient && target == ErrStoreUnavailable
}
