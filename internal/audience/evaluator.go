// Package audience evaluates rule trees against a tenant's customer records:
// previews (exact count plus a sample) and materialized audience pages.
package audience

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/segmentkeeper/internal/core/logging"
	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Preview evaluation pipeline:
 *
 *   validate -> capture now -> compile -> scope to tenant -> one store read
 *
 * An invalid tree never reaches the compiler. The tenant scope is an
 * owner == tenant term ANDed in front of the compiled predicate, so no rule
 * tree can widen the result beyond the caller's records.
 *
 * Store contract: Query counts every match and returns the requested page
 * ordered by createdAt desc, customer id desc, from a single consistent read.
 * Store failures are returned unmodified; an error is never turned into an
 * empty result.
 */

// RuleEngine validates and compiles rule trees.
type RuleEngine interface {
	Validate(node types.Node) types.ValidationResult
	Compile(node types.Node, now time.Time) (predicate.Predicate, error)
	Now() time.Time
}

// Page selects a window of the ordered result.
type Page struct {
	Offset int
	Limit  int
}

// Result is a total match count plus one page of customers.
type Result struct {
	Total     int64
	Customers []types.Customer
}

// CustomerStore runs tenant-scoped predicates over customer records.
type CustomerStore interface {
	Query(ctx context.Context, pred predicate.Predicate, page Page) (Result, error)
}

// Config holds evaluator limits.
type Config struct {
	DefaultSampleSize int
	MaxSampleSize     int
	DefaultPageSize   int
	MaxPageSize       int
	QueryTimeout      time.Duration
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		DefaultSampleSize: 10,
		MaxSampleSize:     100,
		DefaultPageSize:   50,
		MaxPageSize:       1000,
		QueryTimeout:      10 * time.Second,
	}
}

// PreviewResult is the outcome of a preview.
type PreviewResult struct {
	AudienceSize int64
	Sample       []types.Customer
}

// PreviewOption adjusts a single preview.
type PreviewOption func(*previewOptions)

type previewOptions struct {
	sampleSize *int
}

// WithSampleSize requests n sample records. n <= 0 yields an empty sample;
// the audience size is still computed.
func WithSampleSize(n int) PreviewOption {
	return func(o *previewOptions) {
		o.sampleSize = &n
	}
}

// Evaluator runs previews and materializations. Safe for concurrent use.
type Evaluator struct {
	engine RuleEngine
	store  CustomerStore
	cfg    Config
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator. Zero config fields take DefaultConfig values.
func NewEvaluator(engine RuleEngine, store CustomerStore, cfg Config, logger zerolog.Logger) *Evaluator {
	def := DefaultConfig()
	if cfg.DefaultSampleSize <= 0 {
		cfg.DefaultSampleSize = def.DefaultSampleSize
	}
	if cfg.MaxSampleSize <= 0 {
		cfg.MaxSampleSize = def.MaxSampleSize
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	return &Evaluator{
		engine: engine,
		store:  store,
		cfg:    cfg,
		logger: logging.Named(logger, "audience"),
	}
}

// Preview computes the exact audience size of node for tenantID and a
// sample of matching customers.
func (e *Evaluator) Preview(ctx context.Context, tenantID string, node types.Node, opts ...PreviewOption) (PreviewResult, error) {
	var o previewOptions
	for _, opt := range opts {
		opt(&o)
	}
	size := e.cfg.DefaultSampleSize
	if o.sampleSize != nil {
		size = *o.sampleSize
	}
	if size < 0 {
		size = 0
	}
	if size > e.cfg.MaxSampleSize {
		size = e.cfg.MaxSampleSize
	}

	res, err := e.run(ctx, tenantID, node, Page{Limit: size})
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{AudienceSize: res.Total, Sample: res.Customers}, nil
}

// Count returns the exact audience size of node for tenantID.
func (e *Evaluator) Count(ctx context.Context, tenantID string, node types.Node) (int64, error) {
	res, err := e.Preview(ctx, tenantID, node, WithSampleSize(0))
	if err != nil {
		return 0, err
	}
	return res.AudienceSize, nil
}

// Materialize returns one page of the audience, pages numbered from 1.
// Non-positive page selects page 1; limit is clamped to the configured bounds.
func (e *Evaluator) Materialize(ctx context.Context, tenantID string, node types.Node, page, limit int) (Result, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = e.cfg.DefaultPageSize
	}
	if limit > e.cfg.MaxPageSize {
		limit = e.cfg.MaxPageSize
	}
	return e.run(ctx, tenantID, node, Page{Offset: (page - 1) * limit, Limit: limit})
}

func (e *Evaluator) run(ctx context.Context, tenantID string, node types.Node, page Page) (Result, error) {
	if tenantID == "" {
		return Result{}, types.ErrTenantRequired
	}

	result := e.engine.Validate(node)
	if !result.Valid {
		return Result{}, result.Err()
	}

	pred, err := e.engine.Compile(node, e.engine.Now())
	if err != nil {
		return Result{}, err
	}
	scoped := ScopeToTenant(tenantID, pred)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.store.Query(ctx, scoped, page)
	log := logging.From(ctx, e.logger)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("audience query failed")
		return Result{}, err
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("predicate", predicate.Format(pred)).
		Strs("fields", predicate.Fields(pred)).
		Int64("total", res.Total).
		Int("returned", len(res.Customers)).
		Dur("elapsed", time.Since(start)).
		Msg("audience query")
	return res, nil
}

// ScopeToTenant restricts pred to records owned by tenantID.
func ScopeToTenant(tenantID string, pred predicate.Predicate) predicate.Predicate {
	return predicate.And{Terms: []predicate.Predicate{
		predicate.Compare{Field: types.FieldOwner, Op: predicate.Eq, Value: tenantID},
		pred,
	}}
}
