// Package memstore provides mutex-guarded in-memory customer and segment
// stores. They back the service tests and evaluate predicates with
// predicate.Prepare instead of translating them to SQL.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

type externalKey struct {
	owner      string
	externalID string
}

// CustomerStore holds customers in memory.
type CustomerStore struct {
	mu         sync.RWMutex
	customers  map[types.CustomerID]types.Customer
	byExternal map[externalKey]types.CustomerID
	now        func() time.Time
}

// NewCustomerStore creates an empty store.
func NewCustomerStore() *CustomerStore {
	return &CustomerStore{
		customers:  make(map[types.CustomerID]types.Customer),
		byExternal: make(map[externalKey]types.CustomerID),
		now:        time.Now,
	}
}

// Upsert inserts c, or updates the customer with the same owner and
// external id. Returns the stored record and whether it was created.
func (s *CustomerStore) Upsert(ctx context.Context, c types.Customer) (types.Customer, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Customer{}, false, err
	}
	if c.Owner == "" {
		return types.Customer{}, false, types.ErrTenantRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(types.TimePrecision)
	c.Tags = rules.NormalizeTags(c.Tags)
	c.UpdatedAt = now
	if c.LastOrderDate != nil {
		t := c.LastOrderDate.UTC().Truncate(types.TimePrecision)
		c.LastOrderDate = &t
	}

	key := externalKey{owner: c.Owner, externalID: c.ExternalID}
	if c.ExternalID != "" {
		if id, ok := s.byExternal[key]; ok {
			existing := s.customers[id]
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
			s.customers[id] = c
			return clone(c), false, nil
		}
	}

	if c.ID == "" {
		c.ID = types.NewCustomerID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = c.CreatedAt.UTC().Truncate(types.TimePrecision)
	s.customers[c.ID] = c
	if c.ExternalID != "" {
		s.byExternal[key] = c.ID
	}
	return clone(c), true, nil
}

// Query implements audience.CustomerStore.
func (s *CustomerStore) Query(ctx context.Context, pred predicate.Predicate, page audience.Page) (audience.Result, error) {
	if err := ctx.Err(); err != nil {
		return audience.Result{}, &types.StoreError{Op: "query customers", Err: err, Transient: true}
	}
	match, err := predicate.Prepare(pred)
	if err != nil {
		return audience.Result{}, fmt.Errorf("prepare predicate: %w", err)
	}

	s.mu.RLock()
	matched := make([]types.Customer, 0)
	for _, c := range s.customers {
		if match(&c) {
			matched = append(matched, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	res := audience.Result{Total: int64(len(matched)), Customers: []types.Customer{}}
	if page.Limit <= 0 || page.Offset >= len(matched) {
		return res, nil
	}
	end := min(page.Offset+page.Limit, len(matched))
	for _, c := range matched[max(page.Offset, 0):end] {
		res.Customers = append(res.Customers, clone(c))
	}
	return res, nil
}

// Len returns the number of stored customers.
func (s *CustomerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.customers)
}

func clone(c types.Customer) types.Customer {
	c.Tags = append([]string(nil), c.Tags...)
	if c.LastOrderDate != nil {
		t := *c.LastOrderDate
		c.LastOrderDate = &t
	}
	return c
}
