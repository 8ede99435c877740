// Package types provides domain models shared across SegmentKeeper components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only the
// standard library so the rule tree model can be embedded by callers without
// pulling in storage or transport dependencies. ID utilities in ids.go import
// uuid but are isolated.
package types

import "time"

// SegmentID represents a UUIDv7 segment identifier.
// String alias enables type safety while maintaining JSON string serialization.
// UUIDv7 time-ordering ensures sequential IDs cluster in B-tree indexes.
type SegmentID string

// CustomerID represents a UUIDv7 customer identifier.
type CustomerID string

// Customer field names. These are the names rule leaves reference and the
// names compiled predicates carry; stores map them to their own columns.
const (
	FieldOwner         = "owner"
	FieldName          = "name"
	FieldEmail         = "email"
	FieldPhone         = "phone"
	FieldExternalID    = "externalCustomerId"
	FieldTotalSpend    = "totalSpend"
	FieldVisitCount    = "visitCount"
	FieldLastOrderDate = "lastOrderDate"
	FieldCreatedAt     = "createdAt"
	FieldTags          = "tags"
)

// Customer is a single record of a tenant's customer data set.
type Customer struct {
	ID            CustomerID `json:"id"`
	Owner         string     `json:"owner"`
	ExternalID    string     `json:"externalCustomerId"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	TotalSpend    float64    `json:"totalSpend"`
	VisitCount    int64      `json:"visitCount"`
	LastOrderDate *time.Time `json:"lastOrderDate,omitempty"`
	Tags          []string   `json:"tags"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// customerFields is the name -> accessor table used by Field.
// The second return value is false when the record has no value (null).
var customerFields = map[string]func(c *Customer) (any, bool){
	FieldOwner:      func(c *Customer) (any, bool) { return c.Owner, true },
	FieldName:       func(c *Customer) (any, bool) { return c.Name, true },
	FieldEmail:      func(c *Customer) (any, bool) { return c.Email, true },
	FieldPhone:      func(c *Customer) (any, bool) { return c.Phone, c.Phone != "" },
	FieldExternalID: func(c *Customer) (any, bool) { return c.ExternalID, true },
	FieldTotalSpend: func(c *Customer) (any, bool) { return c.TotalSpend, true },
	FieldVisitCount: func(c *Customer) (any, bool) { return float64(c.VisitCount), true },
	FieldLastOrderDate: func(c *Customer) (any, bool) {
		if c.LastOrderDate == nil {
			return nil, false
		}
		return *c.LastOrderDate, true
	},
	FieldCreatedAt: func(c *Customer) (any, bool) { return c.CreatedAt, true },
	FieldTags:      func(c *Customer) (any, bool) { return c.Tags, true },
}

// Field returns the value of the named field.
// Numbers are returned as float64, dates as time.Time, tags as []string.
// Returns false for unknown fields and for fields holding no value.
func (c *Customer) Field(name string) (any, bool) {
	get, ok := customerFields[name]
	if !ok {
		return nil, false
	}
	return get(c)
}

// Performance holds campaign engagement ratios attributed to a segment.
type Performance struct {
	OpenRate       float64 `json:"openRate"`
	ClickRate      float64 `json:"clickRate"`
	ConversionRate float64 `json:"conversionRate"`
}

// Segment is a named, persisted rule tree plus cached audience metadata.
// AudienceSize is a snapshot taken on create/update, not a live count.
type Segment struct {
	ID           SegmentID   `json:"id"`
	Owner        string      `json:"owner"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Rules        Node        `json:"-"`
	AudienceSize int64       `json:"audienceSize"`
	IsActive     bool        `json:"isActive"`
	UsageCount   int64       `json:"usageCount"`
	LastUsed     *time.Time  `json:"lastUsed,omitempty"`
	Performance  Performance `json:"performance"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Resource limits enforced by the rule engine.
const (
	// MaxTagValues is the longest has_all tag list.
	MaxTagValues = 64

	// MaxDayWindow caps in_last_days and older_than_days (about a century).
	MaxDayWindow = 36500
)

// TimePrecision is the resolution at which timestamps are stored and
// compared. Date operands and stored instants are truncated to it so every
// store answers boundary comparisons the same way.
const TimePrecision = time.Millisecond
