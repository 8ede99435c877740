package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

type segmentRow struct {
	ID             string        `db:"segment_id"`
	Owner          string        `db:"owner_id"`
	Name           string        `db:"name"`
	Description    string        `db:"description"`
	Rules          string        `db:"rules"`
	AudienceSize   int64         `db:"audience_size"`
	IsActive       bool          `db:"is_active"`
	UsageCount     int64         `db:"usage_count"`
	LastUsedMs     sql.NullInt64 `db:"last_used_ms"`
	OpenRate       float64       `db:"open_rate"`
	ClickRate      float64       `db:"click_rate"`
	ConversionRate float64       `db:"conversion_rate"`
	CreatedAtMs    int64         `db:"created_at_ms"`
	UpdatedAtMs    int64         `db:"updated_at_ms"`
}

func (r segmentRow) segment() (types.Segment, error) {
	node, err := types.DecodeRuleTree([]byte(r.Rules))
	if err != nil {
		return types.Segment{}, fmt.Errorf("decode rules of segment %s: %w", r.ID, err)
	}
	seg := types.Segment{
		ID:           types.SegmentID(r.ID),
		Owner:        r.Owner,
		Name:         r.Name,
		Description:  r.Description,
		Rules:        node,
		AudienceSize: r.AudienceSize,
		IsActive:     r.IsActive,
		UsageCount:   r.UsageCount,
		Performance: types.Performance{
			OpenRate:       r.OpenRate,
			ClickRate:      r.ClickRate,
			ConversionRate: r.ConversionRate,
		},
		CreatedAt: fromMillis(r.CreatedAtMs),
		UpdatedAt: fromMillis(r.UpdatedAtMs),
	}
	if r.LastUsedMs.Valid {
		t := fromMillis(r.LastUsedMs.Int64)
		seg.LastUsed = &t
	}
	return seg, nil
}

// SegmentStore is the SQL implementation of segments.Store. Rule trees are
// stored in their JSON wire form.
type SegmentStore struct {
	q *Queries
}

// NewSegmentStore creates a segment store over q.
func NewSegmentStore(q *Queries) *SegmentStore {
	return &SegmentStore{q: q}
}

// CreateSegment inserts seg.
func (s *SegmentStore) CreateSegment(ctx context.Context, seg types.Segment) error {
	rules, err := types.EncodeRuleTree(seg.Rules)
	if err != nil {
		return err
	}
	var lastUsed sql.NullInt64
	if seg.LastUsed != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*seg.LastUsed), Valid: true}
	}
	_, err = s.q.Exec(ctx, "create-segment",
		string(seg.ID), seg.Owner, seg.Name, seg.Description, string(rules), seg.AudienceSize, seg.IsActive,
		seg.UsageCount, lastUsed, seg.Performance.OpenRate, seg.Performance.ClickRate, seg.Performance.ConversionRate,
		toMillis(seg.CreatedAt), toMillis(seg.UpdatedAt),
	)
	return classify("create segment", err)
}

// GetSegment returns the segment id owned by owner.
func (s *SegmentStore) GetSegment(ctx context.Context, owner string, id types.SegmentID) (types.Segment, error) {
	var row segmentRow
	err := s.q.Get(ctx, "get-segment", &row, owner, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Segment{}, types.ErrNotFound
	}
	if err != nil {
		return types.Segment{}, classify("get segment", err)
	}
	return row.segment()
}

// ListSegments returns owner's segments newest first, and the total count.
// Count and page are read in one transaction.
func (s *SegmentStore) ListSegments(ctx context.Context, owner string, offset, limit int) ([]types.Segment, int64, error) {
	db := s.q.DB()
	tx, err := db.BeginTxx(ctx, readTxOptions(db.DriverName()))
	if err != nil {
		return nil, 0, classify("begin segment list", err)
	}
	defer tx.Rollback()

	var total int64
	if err := s.q.GetOn(ctx, tx, "count-segments", &total, owner); err != nil {
		return nil, 0, classify("count segments", err)
	}

	var rows []segmentRow
	if total > 0 && limit > 0 {
		if err := s.q.SelectOn(ctx, tx, "list-segments", &rows, owner, limit, max(offset, 0)); err != nil {
			return nil, 0, classify("list segments", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, classify("commit segment list", err)
	}

	out := make([]types.Segment, 0, len(rows))
	for _, r := range rows {
		seg, err := r.segment()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, seg)
	}
	return out, total, nil
}

// UpdateSegment rewrites the mutable columns of a segment.
func (s *SegmentStore) UpdateSegment(ctx context.Context, seg types.Segment) error {
	rules, err := types.EncodeRuleTree(seg.Rules)
	if err != nil {
		return err
	}
	res, err := s.q.Exec(ctx, "update-segment",
		seg.Name, seg.Description, string(rules), seg.AudienceSize, seg.IsActive,
		seg.Performance.OpenRate, seg.Performance.ClickRate, seg.Performance.ConversionRate,
		toMillis(seg.UpdatedAt), seg.Owner, string(seg.ID),
	)
	return affectedOne("update segment", res, err)
}

// DeleteSegment removes the segment id owned by owner.
func (s *SegmentStore) DeleteSegment(ctx context.Context, owner string, id types.SegmentID) error {
	res, err := s.q.Exec(ctx, "delete-segment", owner, string(id))
	return affectedOne("delete segment", res, err)
}

// RecordSegmentUsage increments the usage counter and sets the last-used time.
func (s *SegmentStore) RecordSegmentUsage(ctx context.Context, owner string, id types.SegmentID, at time.Time) error {
	res, err := s.q.Exec(ctx, "record-segment-usage", toMillis(at), owner, string(id))
	return affectedOne("record segment usage", res, err)
}

// affectedOne maps a write touching no row to types.ErrNotFound.
func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}
