package types

import (
	"time"

	"github.com/google/uuid"
)

// NewSegmentID generates a UUIDv7 segment identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.Must(uuid.NewV7()).String())
}

// NewCustomerID generates a UUIDv7 customer identifier.
// Customers sharing a creation millisecond still order by ID.
func NewCustomerID() CustomerID {
	return CustomerID(uuid.Must(uuid.NewV7()).String())
}

// ParseSegmentID validates and converts a string to SegmentID.
// Malformed IDs resolve as ErrNotFound: a lookup by a string that cannot be
// an ID is indistinguishable from a lookup of an absent segment.
func ParseSegmentID(s string) (SegmentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", ErrNotFound
	}
	return SegmentID(u.String()), nil
}

// SegmentIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func SegmentIDTime(id SegmentID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
