package api

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

// Request and response payloads are JSON objects carried in structpb.Struct.
// Requests are read field by field; responses are built from Go values via
// encoding/json so field names follow the types' json tags.

// ruleTreeArg decodes the rule tree held in req[key]. A missing member is
// reported as a structural violation at the root.
func ruleTreeArg(req *structpb.Struct, key string) (types.Node, error) {
	v, ok := req.GetFields()[key]
	if !ok || v == nil {
		return nil, &types.ValidationError{Violations: []types.Violation{{
			Path:   "$",
			Kind:   types.ViolationStructural,
			Reason: fmt.Sprintf("%s is required", key),
		}}}
	}
	raw, err := protojson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return types.DecodeRuleTree(raw)
}

// hasArg reports whether req carries a non-null member key.
func hasArg(req *structpb.Struct, key string) bool {
	v, ok := req.GetFields()[key]
	if !ok || v == nil {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func stringArg(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

// optionalStringArg returns nil when key is absent or null.
func optionalStringArg(req *structpb.Struct, key string) *string {
	if !hasArg(req, key) {
		return nil
	}
	s := stringArg(req, key)
	return &s
}

// intArg returns req[key] as an int, or def when absent. Fractions truncate.
func intArg(req *structpb.Struct, key string, def int) int {
	if !hasArg(req, key) {
		return def
	}
	f := req.GetFields()[key].GetNumberValue()
	if math.IsNaN(f) {
		return def
	}
	f = math.Max(math.Min(f, math.MaxInt32), math.MinInt32)
	return int(f)
}

func segmentIDArg(req *structpb.Struct, key string) (types.SegmentID, error) {
	return types.ParseSegmentID(stringArg(req, key))
}

// toStruct renders v as a Struct via its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// segmentView is the wire form of a segment, rule tree included.
type segmentView struct {
	types.Segment
	Rules json.RawMessage `json:"rules"`
}

func newSegmentView(seg types.Segment) (segmentView, error) {
	raw, err := types.EncodeRuleTree(seg.Rules)
	if err != nil {
		return segmentView{}, err
	}
	return segmentView{Segment: seg, Rules: raw}, nil
}

func newSegmentViews(segs []types.Segment) ([]segmentView, error) {
	out := make([]segmentView, 0, len(segs))
	for _, seg := range segs {
		v, err := newSegmentView(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type fieldView struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Operators []string `json:"operators"`
}

func newFieldViews(fields []rules.FieldDescriptor) []fieldView {
	out := make([]fieldView, len(fields))
	for i, f := range fields {
		ops := make([]string, len(f.AllowedOperators))
		for j, op := range f.AllowedOperators {
			ops[j] = string(op)
		}
		out[i] = fieldView{Name: f.Name, Type: f.ValueType.String(), Operators: ops}
	}
	return out
}

// customers never renders as null.
func customers(cs []types.Customer) []types.Customer {
	if cs == nil {
		return []types.Customer{}
	}
	return cs
}
