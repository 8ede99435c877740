package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/segmentkeeper/internal/types"
)

func TestToStatus(t *testing.T) {
	validation := &types.ValidationError{Violations: []types.Violation{
		{Path: "$.field", Kind: types.ViolationUnknownField, Reason: `unknown field "x"`},
	}}

	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", validation, codes.InvalidArgument},
		{"wrapped validation", fmt.Errorf("preview: %w", validation), codes.InvalidArgument},
		{"segment metadata", fmt.Errorf("%w: name is required", types.ErrInvalidSegment), codes.InvalidArgument},
		{"tenant", types.ErrTenantRequired, codes.Unauthenticated},
		{"not found", types.ErrNotFound, codes.NotFound},
		{"inactive", types.ErrSegmentInactive, codes.FailedPrecondition},
		{"store", &types.StoreError{Op: "query", Err: errors.New("connection refused"), Transient: true}, codes.Unavailable},
		{"permanent store failure", &types.StoreError{Op: "insert", Err: errors.New("UNIQUE constraint failed")}, codes.Internal},
		{"store timeout", &types.StoreError{Op: "query", Err: context.DeadlineExceeded, Transient: true}, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"status passes through", status.Error(codes.ResourceExhausted, "slow down"), codes.ResourceExhausted},
		{"other", errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}

	assert.NoError(t, toStatus(nil))
	assert.Contains(t, status.Convert(toStatus(validation)).Message(), "$.field")
}

func TestRequestArgs(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{
		"name":  "n",
		"empty": nil,
		"limit": 25.9,
		"huge":  1e12,
		"rules": map[string]any{"field": "visitCount", "operator": ">=", "value": 3.0},
	})
	require.NoError(t, err)

	assert.True(t, hasArg(req, "name"))
	assert.False(t, hasArg(req, "empty"))
	assert.False(t, hasArg(req, "missing"))

	assert.Nil(t, optionalStringArg(req, "empty"))
	require.NotNil(t, optionalStringArg(req, "name"))
	assert.Equal(t, "n", *optionalStringArg(req, "name"))

	assert.Equal(t, 25, intArg(req, "limit", 0))
	assert.Equal(t, 7, intArg(req, "missing", 7))
	assert.Equal(t, 2147483647, intArg(req, "huge", 0))

	node, err := ruleTreeArg(req, "rules")
	require.NoError(t, err)
	leaf, ok := node.(*types.Leaf)
	require.True(t, ok)
	assert.Equal(t, "visitCount", leaf.Field)
	assert.Equal(t, types.OpGte, leaf.Operator)

	_, err = ruleTreeArg(req, "missing")
	assert.ErrorIs(t, err, types.ErrInvalidRuleTree)
}
