package segments_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/core/memstore"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
	"github.com/solatis/segmentkeeper/internal/types"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *segments.Service
	store     *memstore.SegmentStore
	customers *memstore.CustomerStore
}

func newFixture(t *testing.T, cfg segments.Config) fixture {
	t.Helper()
	ctx := context.Background()
	customers := memstore.NewCustomerStore()
	for i, spend := range []float64{100, 500, 2500, 9000} {
		_, _, err := customers.Upsert(ctx, types.Customer{
			Owner:      "tenant-a",
			ExternalID: string(rune('a' + i)),
			Name:       "customer",
			TotalSpend: spend,
			CreatedAt:  now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, _, err := customers.Upsert(ctx, types.Customer{Owner: "tenant-b", ExternalID: "z", TotalSpend: 100000, CreatedAt: now})
	require.NoError(t, err)

	engine := rules.NewEngine(rules.WithClock(func() time.Time { return now }))
	eval := audience.NewEvaluator(engine, customers, audience.DefaultConfig(), zerolog.Nop())
	store := memstore.NewSegmentStore()
	clock := now
	svc := segments.NewService(store, eval, cfg, zerolog.Nop(), segments.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	return fixture{svc: svc, store: store, customers: customers}
}

func spendAbove(v float64) types.Node {
	return types.NewLeaf("totalSpend", types.OpGt, v)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, segments.Config{})
	ctx := context.Background()

	seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{
		Name:        "  Big spenders ",
		Description: "spend over 1000",
		Rules:       spendAbove(1000),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, seg.ID)
	assert.Equal(t, "Big spenders", seg.Name)
	assert.Equal(t, "tenant-a", seg.Owner)
	assert.Equal(t, int64(2), seg.AudienceSize, "tenant-b customer must not be counted")
	assert.True(t, seg.IsActive)
	assert.Zero(t, seg.UsageCount)
	assert.Nil(t, seg.LastUsed)

	got, err := f.svc.Get(ctx, "tenant-a", seg.ID)
	require.NoError(t, err)
	assert.Equal(t, seg.ID, got.ID)
	assert.Equal(t, spendAbove(1000), got.Rules)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t, segments.Config{})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "bad", Rules: types.NewLeaf("shoeSize", types.OpGt, 1)})
	assert.ErrorIs(t, err, types.ErrInvalidRuleTree)

	_, err = f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "  ", Rules: spendAbove(1)})
	assert.ErrorIs(t, err, types.ErrInvalidSegment)

	_, err = f.svc.Create(ctx, "", segments.CreateRequest{Name: "x", Rules: spendAbove(1)})
	assert.ErrorIs(t, err, types.ErrTenantRequired)

	list, err := f.svc.List(ctx, "tenant-a", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, list.Total, "rejected creates must not persist anything")
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t, segments.Config{})
	ctx := context.Background()

	seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "mine", Rules: spendAbove(0)})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "tenant-b", seg.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	name := "stolen"
	_, err = f.svc.Update(ctx, "tenant-b", seg.ID, segments.UpdateRequest{Name: &name})
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, "tenant-b", seg.ID), types.ErrNotFound)
	assert.ErrorIs(t, f.svc.RecordUsage(ctx, "tenant-b", seg.ID), types.ErrNotFound)

	list, err := f.svc.List(ctx, "tenant-b", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, list.Total)

	got, err := f.svc.Get(ctx, "tenant-a", seg.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Name)
	assert.Zero(t, got.UsageCount)
}

func TestList_PagesNewestFirst(t *testing.T) {
	f := newFixture(t, segments.Config{DefaultPageSize: 2, MaxPageSize: 3})
	ctx := context.Background()

	var ids []types.SegmentID
	for _, name := range []string{"one", "two", "three", "four"} {
		seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: name, Rules: spendAbove(0)})
		require.NoError(t, err)
		ids = append(ids, seg.ID)
	}

	first, err := f.svc.List(ctx, "tenant-a", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), first.Total)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 2, first.Limit)
	require.Len(t, first.Items, 2)
	assert.Equal(t, ids[3], first.Items[0].ID)
	assert.Equal(t, ids[2], first.Items[1].ID)

	clamped, err := f.svc.List(ctx, "tenant-a", 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, clamped.Limit)
	assert.Len(t, clamped.Items, 3)

	past, err := f.svc.List(ctx, "tenant-a", 9, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), past.Total)
	assert.Empty(t, past.Items)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, segments.Config{})
	ctx := context.Background()

	seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "s", Rules: spendAbove(1000)})
	require.NoError(t, err)
	require.Equal(t, int64(2), seg.AudienceSize)

	updated, err := f.svc.Update(ctx, "tenant-a", seg.ID, segments.UpdateRequest{Rules: spendAbove(200)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.AudienceSize)
	assert.Equal(t, "s", updated.Name)
	assert.True(t, updated.UpdatedAt.After(seg.UpdatedAt))
	assert.Equal(t, seg.CreatedAt, updated.CreatedAt)

	desc := "renamed"
	name := "new name"
	renamed, err := f.svc.Update(ctx, "tenant-a", seg.ID, segments.UpdateRequest{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "new name", renamed.Name)
	assert.Equal(t, "renamed", renamed.Description)
	assert.Equal(t, int64(3), renamed.AudienceSize, "metadata-only update keeps the snapshot")

	// Invalid rules leave the stored segment untouched.
	_, err = f.svc.Update(ctx, "tenant-a", seg.ID, segments.UpdateRequest{Rules: types.NewLeaf("totalSpend", types.OpContains, "x")})
	assert.ErrorIs(t, err, types.ErrInvalidRuleTree)
	got, err := f.svc.Get(ctx, "tenant-a", seg.ID)
	require.NoError(t, err)
	assert.Equal(t, spendAbove(200), got.Rules)

	_, err = f.svc.Update(ctx, "tenant-a", "missing", segments.UpdateRequest{Rules: spendAbove(1)})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, segments.Config{})
	ctx := context.Background()

	seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "s", Rules: spendAbove(0)})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "tenant-a", seg.ID))
	_, err = f.svc.Get(ctx, "tenant-a", seg.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "tenant-a", seg.ID), types.ErrNotFound)
}

func TestRecordUsage(t *testing.T) {
	f := newFixture(t, segments.Config{})
	ctx := context.Background()

	seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "s", Rules: spendAbove(0)})
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordUsage(ctx, "tenant-a", seg.ID))
	require.NoError(t, f.svc.RecordUsage(ctx, "tenant-a", seg.ID))

	got, err := f.svc.Get(ctx, "tenant-a", seg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
	require.NotNil(t, got.LastUsed)
	assert.True(t, got.LastUsed.After(seg.CreatedAt))
}

func TestAudience_InactivePolicy(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name            string
		excludeInactive bool
		wantErr         error
	}{
		{"inactive included by default", false, nil},
		{"inactive excluded when configured", true, types.ErrSegmentInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, segments.Config{ExcludeInactive: tt.excludeInactive})
			seg, err := f.svc.Create(ctx, "tenant-a", segments.CreateRequest{Name: "s", Rules: spendAbove(1000)})
			require.NoError(t, err)

			res, err := f.svc.Audience(ctx, "tenant-a", seg.ID, 1, 10)
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.Total)

			off, err := f.svc.SetActive(ctx, "tenant-a", seg.ID, false)
			require.NoError(t, err)
			assert.False(t, off.IsActive)

			res, err = f.svc.Audience(ctx, "tenant-a", seg.ID, 1, 10)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "Audience() error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.Total)
			for _, c := range res.Customers {
				assert.Equal(t, "tenant-a", c.Owner)
			}
		})
	}
}
