package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/segmentkeeper/internal/types"
)

// toStatus maps a domain error to a gRPC status.
// Auth errors are mapped by the auth interceptor.
// Context errors are checked before store errors: a timed-out query is a
// *types.StoreError wrapping context.DeadlineExceeded. Permanent store
// failures do not match ErrStoreUnavailable and map to Internal.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, types.ErrInvalidRuleTree), errors.Is(err, types.ErrInvalidSegment):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrTenantRequired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, "segment not found")
	case errors.Is(err, types.ErrSegmentInactive):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, types.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
