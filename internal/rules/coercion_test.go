package rules

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    float64
		wantErr error
	}{
		{name: "float64 passthrough", value: 42.5, want: 42.5},
		{name: "int to float64", value: 100, want: 100},
		{name: "int64 to float64", value: int64(999), want: 999},
		{name: "json.Number", value: json.Number("10000"), want: 10000},
		{name: "numeric string", value: "25", want: 25},
		{name: "string with whitespace", value: "  42  ", want: 42},
		{name: "negative string", value: "-100", want: -100},
		{name: "scientific notation", value: "1e3", want: 1000},
		{name: "empty string", value: "", wantErr: types.ErrCoercionFailed},
		{name: "whitespace only", value: "   ", wantErr: types.ErrCoercionFailed},
		{name: "mixed string", value: "123abc", wantErr: types.ErrCoercionFailed},
		{name: "boolean rejected", value: true, wantErr: types.ErrCoercionFailed},
		{name: "NaN rejected", value: "NaN", wantErr: types.ErrCoercionFailed},
		{name: "infinity rejected", value: math.Inf(1), wantErr: types.ErrCoercionFailed},
		{name: "list rejected", value: []any{1.0}, wantErr: types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceNumber(tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("coerceNumber() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceNumber() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("coerceNumber() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoerceDate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name    string
		value   any
		want    time.Time
		wantErr bool
	}{
		{name: "calendar date", value: "2024-03-15", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "RFC3339 UTC", value: "2024-03-15T10:30:00Z", want: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{name: "RFC3339 offset normalized to UTC", value: "2024-03-15T10:30:00+05:30", want: time.Date(2024, 3, 15, 5, 0, 0, 0, time.UTC)},
		{name: "time.Time", value: time.Date(2024, 3, 15, 10, 30, 0, 0, ist), want: time.Date(2024, 3, 15, 5, 0, 0, 0, time.UTC)},
		{name: "sub-millisecond truncated", value: "2024-03-15T10:30:00.0019999Z", want: time.Date(2024, 3, 15, 10, 30, 0, 1_000_000, time.UTC)},
		{name: "not a date", value: "last tuesday", wantErr: true},
		{name: "number rejected", value: 1710460800.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceDate(tt.value)
			if tt.wantErr {
				if !errors.Is(err, types.ErrCoercionFailed) {
					t.Errorf("coerceDate() error = %v, want ErrCoercionFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceDate() unexpected error = %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("coerceDate() = %v, want %v (UTC)", got, tt.want)
			}
		})
	}
}

func TestCoerceDays(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{name: "integer", value: 30, want: 30},
		{name: "integral float", value: 30.0, want: 30},
		{name: "json.Number", value: json.Number("7"), want: 7},
		{name: "numeric string", value: "90", want: 90},
		{name: "zero", value: 0, want: 0},
		{name: "negative rejected", value: -1, wantErr: true},
		{name: "fraction rejected", value: 1.5, wantErr: true},
		{name: "text rejected", value: "thirty", wantErr: true},
		{name: "beyond window rejected", value: types.MaxDayWindow + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceDays(tt.value)
			if tt.wantErr {
				if !errors.Is(err, types.ErrCoercionFailed) {
					t.Errorf("coerceDays() error = %v, want ErrCoercionFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceDays() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("coerceDays() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoerceText(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    string
		wantErr bool
	}{
		{name: "string", value: "john", want: "john"},
		{name: "inner whitespace kept", value: "john smith", want: "john smith"},
		{name: "float rendered", value: 98.6, want: "98.6"},
		{name: "json.Number rendered", value: json.Number("555"), want: "555"},
		{name: "empty rejected", value: "", wantErr: true},
		{name: "blank rejected", value: "  ", wantErr: true},
		{name: "boolean rejected", value: false, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceText(tt.value)
			if tt.wantErr {
				if !errors.Is(err, types.ErrCoercionFailed) {
					t.Errorf("coerceText() error = %v, want ErrCoercionFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceText() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("coerceText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCoerceTags(t *testing.T) {
	many := make([]any, types.MaxTagValues+1)
	for i := range many {
		many[i] = string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	tests := []struct {
		name    string
		value   any
		want    []string
		wantErr error
	}{
		{name: "list trimmed and de-duplicated", value: []any{" vip ", "gold", "vip"}, want: []string{"vip", "gold"}},
		{name: "string slice", value: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "single string", value: "vip", want: []string{"vip"}},
		{name: "comma separated", value: "vip, gold,,vip", want: []string{"vip", "gold"}},
		{name: "empty list", value: []any{}, wantErr: types.ErrCoercionFailed},
		{name: "only blanks", value: []any{" ", ""}, wantErr: types.ErrCoercionFailed},
		{name: "non-string element", value: []any{"vip", 3.0}, wantErr: types.ErrCoercionFailed},
		{name: "number rejected", value: 3.0, wantErr: types.ErrCoercionFailed},
		{name: "too many", value: many, wantErr: types.ErrTooManyTagValues},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceTags(tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("coerceTags() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceTags() unexpected error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("coerceTags() = %v, want %v", got, tt.want)
			}
		})
	}
}
