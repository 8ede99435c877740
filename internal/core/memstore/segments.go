package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

// SegmentStore holds segments in memory. Lookups are owner scoped: a
// segment owned by another tenant behaves as absent.
type SegmentStore struct {
	mu       sync.RWMutex
	segments map[types.SegmentID]types.Segment
}

// NewSegmentStore creates an empty store.
func NewSegmentStore() *SegmentStore {
	return &SegmentStore{segments: make(map[types.SegmentID]types.Segment)}
}

// CreateSegment stores seg.
func (s *SegmentStore) CreateSegment(ctx context.Context, seg types.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[seg.ID] = seg
	return nil
}

// GetSegment returns the segment id owned by owner.
func (s *SegmentStore) GetSegment(ctx context.Context, owner string, id types.SegmentID) (types.Segment, error) {
	if err := ctx.Err(); err != nil {
		return types.Segment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[id]
	if !ok || seg.Owner != owner {
		return types.Segment{}, types.ErrNotFound
	}
	return seg, nil
}

// ListSegments returns owner's segments newest first, and the total count.
func (s *SegmentStore) ListSegments(ctx context.Context, owner string, offset, limit int) ([]types.Segment, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	var owned []types.Segment
	for _, seg := range s.segments {
		if seg.Owner == owner {
			owned = append(owned, seg)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID > owned[j].ID
	})

	total := int64(len(owned))
	if offset >= len(owned) || limit <= 0 {
		return []types.Segment{}, total, nil
	}
	end := min(offset+limit, len(owned))
	return owned[offset:end], total, nil
}

// UpdateSegment replaces a stored segment with the same id and owner.
func (s *SegmentStore) UpdateSegment(ctx context.Context, seg types.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.segments[seg.ID]
	if !ok || existing.Owner != seg.Owner {
		return types.ErrNotFound
	}
	s.segments[seg.ID] = seg
	return nil
}

// DeleteSegment removes the segment id owned by owner.
func (s *SegmentStore) DeleteSegment(ctx context.Context, owner string, id types.SegmentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok || seg.Owner != owner {
		return types.ErrNotFound
	}
	delete(s.segments, id)
	return nil
}

// RecordSegmentUsage increments the usage counter and sets the last-used time.
func (s *SegmentStore) RecordSegmentUsage(ctx context.Context, owner string, id types.SegmentID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok || seg.Owner != owner {
		return types.ErrNotFound
	}
	seg.UsageCount++
	at = at.UTC()
	seg.LastUsed = &at
	s.segments[id] = seg
	return nil
}
