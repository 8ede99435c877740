// Package api provides the gRPC implementation of the segment service.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/core/auth"
	"github.com/solatis/segmentkeeper/internal/core/logging"
	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
	"github.com/solatis/segmentkeeper/internal/types"
)

// SegmentService implements SegmentServiceServer.
// Thin orchestration layer delegating to the rules engine, the audience
// evaluator and the segment lifecycle service.
type SegmentService struct {
	engine   *rules.Engine
	audience *audience.Evaluator
	segments *segments.Service
	logger   zerolog.Logger
}

// NewSegmentService creates the service with its dependencies.
func NewSegmentService(engine *rules.Engine, evaluator *audience.Evaluator, segmentSvc *segments.Service, logger zerolog.Logger) (*SegmentService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if segmentSvc == nil {
		return nil, fmt.Errorf("segment service cannot be nil")
	}
	return &SegmentService{
		engine:   engine,
		audience: evaluator,
		segments: segmentSvc,
		logger:   logging.Named(logger, "api"),
	}, nil
}

var _ SegmentServiceServer = (*SegmentService)(nil)

func tenant(ctx context.Context) (string, error) {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		return "", status.Error(codes.Unauthenticated, types.ErrTenantRequired.Error())
	}
	return tenantID, nil
}

// ValidateRuleTree reports every violation in req.rules. An invalid tree is
// a successful response with valid=false; for a valid tree the compiled
// predicate is rendered for inspection.
func (s *SegmentService) ValidateRuleTree(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var result types.ValidationResult
	node, err := ruleTreeArg(req, "rules")
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		result = types.ValidationResult{Valid: false, Violations: verr.Violations}
	case err != nil:
		return nil, toStatus(err)
	default:
		result = s.engine.Validate(node)
	}

	resp := struct {
		types.ValidationResult
		Predicate string `json:"predicate,omitempty"`
	}{ValidationResult: result}
	if result.Valid {
		pred, err := s.engine.Compile(node, s.engine.Now())
		if err != nil {
			return nil, toStatus(err)
		}
		resp.Predicate = predicate.Format(pred)
	}
	return toStruct(resp)
}

// PreviewAudience returns the audience size and a sample for req.rules.
// req.sampleSize is optional.
func (s *SegmentService) PreviewAudience(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	node, err := ruleTreeArg(req, "rules")
	if err != nil {
		return nil, toStatus(err)
	}

	var opts []audience.PreviewOption
	if hasArg(req, "sampleSize") {
		opts = append(opts, audience.WithSampleSize(intArg(req, "sampleSize", 0)))
	}
	res, err := s.audience.Preview(ctx, tenantID, node, opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"audienceSize": res.AudienceSize,
		"sample":       customers(res.Sample),
	})
}

// CreateSegment saves req.rules under req.name.
func (s *SegmentService) CreateSegment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	node, err := ruleTreeArg(req, "rules")
	if err != nil {
		return nil, toStatus(err)
	}
	seg, err := s.segments.Create(ctx, tenantID, segments.CreateRequest{
		Name:        stringArg(req, "name"),
		Description: stringArg(req, "description"),
		Rules:       node,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return segmentResponse(seg)
}

// ListSegments returns one page of segments, newest first.
func (s *SegmentService) ListSegments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.segments.List(ctx, tenantID, intArg(req, "page", 1), intArg(req, "limit", 0))
	if err != nil {
		return nil, toStatus(err)
	}
	items, err := newSegmentViews(res.Items)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"items": items,
		"total": res.Total,
		"page":  res.Page,
		"limit": res.Limit,
	})
}

// GetSegment returns the segment req.id.
func (s *SegmentService) GetSegment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	id, err := segmentIDArg(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}
	seg, err := s.segments.Get(ctx, tenantID, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return segmentResponse(seg)
}

// UpdateSegment changes any of name, description and rules.
func (s *SegmentService) UpdateSegment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	id, err := segmentIDArg(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}

	update := segments.UpdateRequest{
		Name:        optionalStringArg(req, "name"),
		Description: optionalStringArg(req, "description"),
	}
	if hasArg(req, "rules") {
		if update.Rules, err = ruleTreeArg(req, "rules"); err != nil {
			return nil, toStatus(err)
		}
	}

	seg, err := s.segments.Update(ctx, tenantID, id, update)
	if err != nil {
		return nil, toStatus(err)
	}
	return segmentResponse(seg)
}

// DeleteSegment removes the segment req.id.
func (s *SegmentService) DeleteSegment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	id, err := segmentIDArg(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.segments.Delete(ctx, tenantID, id); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"deleted": true})
}

// RecordUsage bumps the usage counter of req.id. It never fails the call:
// the outcome is reported in the recorded member and errors are logged.
func (s *SegmentService) RecordUsage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	id, err := segmentIDArg(req, "id")
	if err == nil {
		err = s.segments.RecordUsage(ctx, tenantID, id)
	}
	if err != nil {
		logging.From(ctx, s.logger).Debug().Err(err).
			Str("tenant_id", tenantID).
			Str("segment_id", stringArg(req, "id")).
			Msg("usage not recorded")
	}
	return toStruct(map[string]any{"recorded": err == nil})
}

// ListFields returns the filterable field catalogue.
func (s *SegmentService) ListFields(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"fields": newFieldViews(s.engine.Fields())})
}

// SetSegmentActive sets the active flag of req.id to req.active.
func (s *SegmentService) SetSegmentActive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	id, err := segmentIDArg(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}
	if !hasArg(req, "active") {
		return nil, status.Error(codes.InvalidArgument, "active is required")
	}
	seg, err := s.segments.SetActive(ctx, tenantID, id, req.GetFields()["active"].GetBoolValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return segmentResponse(seg)
}

// MaterializeAudience returns one page of matching customers, either for a
// saved segment (req.segmentId) or an ad-hoc rule tree (req.rules).
func (s *SegmentService) MaterializeAudience(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	page, limit := intArg(req, "page", 1), intArg(req, "limit", 0)

	var res audience.Result
	if hasArg(req, "segmentId") {
		id, err := segmentIDArg(req, "segmentId")
		if err != nil {
			return nil, toStatus(err)
		}
		res, err = s.segments.Audience(ctx, tenantID, id, page, limit)
		if err != nil {
			return nil, toStatus(err)
		}
	} else {
		node, err := ruleTreeArg(req, "rules")
		if err != nil {
			return nil, toStatus(err)
		}
		res, err = s.audience.Materialize(ctx, tenantID, node, page, limit)
		if err != nil {
			return nil, toStatus(err)
		}
	}

	return toStruct(map[string]any{
		"total":     res.Total,
		"page":      max(page, 1),
		"customers": customers(res.Customers),
	})
}

func segmentResponse(seg types.Segment) (*structpb.Struct, error) {
	v, err := newSegmentView(seg)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v)
}
