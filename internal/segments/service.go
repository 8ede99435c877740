// Package segments manages the lifecycle of saved audience segments:
// creation with an audience size snapshot, owner-scoped reads, updates,
// deletion, usage tracking and the active flag.
package segments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/core/logging"
	"github.com/solatis/segmentkeeper/internal/types"
)

// Metadata limits.
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 2000
)

// Store persists segments. Every lookup is owner scoped and reports
// types.ErrNotFound for absent or foreign ids.
type Store interface {
	CreateSegment(ctx context.Context, seg types.Segment) error
	GetSegment(ctx context.Context, owner string, id types.SegmentID) (types.Segment, error)
	ListSegments(ctx context.Context, owner string, offset, limit int) ([]types.Segment, int64, error)
	UpdateSegment(ctx context.Context, seg types.Segment) error
	DeleteSegment(ctx context.Context, owner string, id types.SegmentID) error
	RecordSegmentUsage(ctx context.Context, owner string, id types.SegmentID, at time.Time) error
}

// Audience sizes and materializes rule trees.
type Audience interface {
	Count(ctx context.Context, tenantID string, node types.Node) (int64, error)
	Materialize(ctx context.Context, tenantID string, node types.Node, page, limit int) (audience.Result, error)
}

// Config holds listing limits and the inactive-segment policy.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	// ExcludeInactive makes Audience refuse inactive segments.
	ExcludeInactive bool
}

// CreateRequest describes a new segment.
type CreateRequest struct {
	Name        string
	Description string
	Rules       types.Node
}

// UpdateRequest lists the fields to change; nil fields are left as they are.
type UpdateRequest struct {
	Name        *string
	Description *string
	Rules       types.Node
}

// ListResult is one page of segments.
type ListResult struct {
	Items []types.Segment
	Total int64
	Page  int
	Limit int
}

// Service implements segment lifecycle operations.
type Service struct {
	store    Store
	audience Audience
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a segment service.
func NewService(store Store, aud Audience, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	s := &Service{
		store:    store,
		audience: aud,
		cfg:      cfg,
		now:      time.Now,
		logger:   logging.Named(logger, "segments"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the rule tree, snapshots its audience size and stores a
// new active segment.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (types.Segment, error) {
	if tenantID == "" {
		return types.Segment{}, types.ErrTenantRequired
	}
	name := strings.TrimSpace(req.Name)
	if err := checkMetadata(name, req.Description); err != nil {
		return types.Segment{}, err
	}

	size, err := s.audience.Count(ctx, tenantID, req.Rules)
	if err != nil {
		return types.Segment{}, err
	}

	id := types.NewSegmentID()
	now := s.timestamp()
	seg := types.Segment{
		ID:           id,
		Owner:        tenantID,
		Name:         name,
		Description:  req.Description,
		Rules:        req.Rules,
		AudienceSize: size,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSegment(ctx, seg); err != nil {
		return types.Segment{}, err
	}

	logging.From(ctx, s.logger).Info().
		Str("tenant_id", tenantID).
		Str("segment_id", string(id)).
		Int64("audience_size", size).
		Msg("segment created")
	return seg, nil
}

// Get returns a segment owned by tenantID.
func (s *Service) Get(ctx context.Context, tenantID string, id types.SegmentID) (types.Segment, error) {
	if tenantID == "" {
		return types.Segment{}, types.ErrTenantRequired
	}
	return s.store.GetSegment(ctx, tenantID, id)
}

// List returns one page of tenantID's segments, newest first. Pages are
// numbered from 1.
func (s *Service) List(ctx context.Context, tenantID string, page, limit int) (ListResult, error) {
	if tenantID == "" {
		return ListResult{}, types.ErrTenantRequired
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	items, total, err := s.store.ListSegments(ctx, tenantID, (page-1)*limit, limit)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Update applies req to a segment. New rules are validated and the
// audience size is recomputed.
func (s *Service) Update(ctx context.Context, tenantID string, id types.SegmentID, req UpdateRequest) (types.Segment, error) {
	seg, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return types.Segment{}, err
	}

	if req.Name != nil {
		seg.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		seg.Description = *req.Description
	}
	if err := checkMetadata(seg.Name, seg.Description); err != nil {
		return types.Segment{}, err
	}
	if req.Rules != nil {
		size, err := s.audience.Count(ctx, tenantID, req.Rules)
		if err != nil {
			return types.Segment{}, err
		}
		seg.Rules = req.Rules
		seg.AudienceSize = size
	}
	seg.UpdatedAt = s.timestamp()

	if err := s.store.UpdateSegment(ctx, seg); err != nil {
		return types.Segment{}, err
	}
	return seg, nil
}

// SetActive toggles whether a segment may be used for campaigns.
func (s *Service) SetActive(ctx context.Context, tenantID string, id types.SegmentID, active bool) (types.Segment, error) {
	seg, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return types.Segment{}, err
	}
	seg.IsActive = active
	seg.UpdatedAt = s.timestamp()
	if err := s.store.UpdateSegment(ctx, seg); err != nil {
		return types.Segment{}, err
	}
	return seg, nil
}

// Delete removes a segment permanently.
func (s *Service) Delete(ctx context.Context, tenantID string, id types.SegmentID) error {
	if tenantID == "" {
		return types.ErrTenantRequired
	}
	if err := s.store.DeleteSegment(ctx, tenantID, id); err != nil {
		return err
	}
	logging.From(ctx, s.logger).Info().
		Str("tenant_id", tenantID).
		Str("segment_id", string(id)).
		Msg("segment deleted")
	return nil
}

// RecordUsage increments the usage counter and stamps the last-used time.
// Best effort: callers log the error and carry on.
func (s *Service) RecordUsage(ctx context.Context, tenantID string, id types.SegmentID) error {
	if tenantID == "" {
		return types.ErrTenantRequired
	}
	err := s.store.RecordSegmentUsage(ctx, tenantID, id, s.timestamp())
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		logging.From(ctx, s.logger).Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("segment_id", string(id)).
			Msg("record segment usage failed")
	}
	return err
}

// Audience materializes one page of a saved segment's current audience.
func (s *Service) Audience(ctx context.Context, tenantID string, id types.SegmentID, page, limit int) (audience.Result, error) {
	seg, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return audience.Result{}, err
	}
	if !seg.IsActive && s.cfg.ExcludeInactive {
		return audience.Result{}, types.ErrSegmentInactive
	}
	return s.audience.Materialize(ctx, tenantID, seg.Rules, page, limit)
}

// timestamp reads the clock at the millisecond precision stores keep.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(types.TimePrecision)
}

func checkMetadata(name, description string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", types.ErrInvalidSegment)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", types.ErrInvalidSegment, MaxNameLength)
	case len(description) > MaxDescriptionLength:
		return fmt.Errorf("%w: description exceeds %d characters", types.ErrInvalidSegment, MaxDescriptionLength)
	}
	return nil
}
