package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

const customerSelect = `SELECT c.customer_id, c.owner_id, c.external_id, c.name, c.email, c.phone,
       c.total_spend, c.visit_count, c.last_order_date_ms, c.created_at_ms, c.updated_at_ms
FROM customers c`

type customerRow struct {
	ID              string         `db:"customer_id"`
	Owner           string         `db:"owner_id"`
	ExternalID      sql.NullString `db:"external_id"`
	Name            string         `db:"name"`
	Email           string         `db:"email"`
	Phone           sql.NullString `db:"phone"`
	TotalSpend      float64        `db:"total_spend"`
	VisitCount      int64          `db:"visit_count"`
	LastOrderDateMs sql.NullInt64  `db:"last_order_date_ms"`
	CreatedAtMs     int64          `db:"created_at_ms"`
	UpdatedAtMs     int64          `db:"updated_at_ms"`
}

func (r customerRow) customer() types.Customer {
	c := types.Customer{
		ID:         types.CustomerID(r.ID),
		Owner:      r.Owner,
		ExternalID: r.ExternalID.String,
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone.String,
		TotalSpend: r.TotalSpend,
		VisitCount: r.VisitCount,
		Tags:       []string{},
		CreatedAt:  fromMillis(r.CreatedAtMs),
		UpdatedAt:  fromMillis(r.UpdatedAtMs),
	}
	if r.LastOrderDateMs.Valid {
		t := fromMillis(r.LastOrderDateMs.Int64)
		c.LastOrderDate = &t
	}
	return c
}

// CustomerStore is the SQL implementation of audience.CustomerStore.
type CustomerStore struct {
	q *Queries
}

// NewCustomerStore creates a customer store over q.
func NewCustomerStore(q *Queries) *CustomerStore {
	return &CustomerStore{q: q}
}

// Query counts every customer matching pred and loads one page, ordered by
// creation time then id, newest first. Count and page come from a single
// read transaction so they agree with each other.
func (s *CustomerStore) Query(ctx context.Context, pred predicate.Predicate, page audience.Page) (audience.Result, error) {
	where, args, err := renderWhere(pred)
	if err != nil {
		return audience.Result{}, err
	}
	db := s.q.DB()

	tx, err := db.BeginTxx(ctx, readTxOptions(db.DriverName()))
	if err != nil {
		return audience.Result{}, classify("begin customer query", err)
	}
	defer tx.Rollback()

	var total int64
	countSQL := db.Rebind("SELECT COUNT(*) FROM customers c WHERE " + where)
	if err := tx.GetContext(ctx, &total, countSQL, args...); err != nil {
		return audience.Result{}, classify("count customers", err)
	}

	res := audience.Result{Total: total, Customers: []types.Customer{}}
	if page.Limit <= 0 || total == 0 {
		return res, nil
	}

	pageSQL := db.Rebind(customerSelect + " WHERE " + where +
		" ORDER BY c.created_at_ms DESC, c.customer_id DESC LIMIT ? OFFSET ?")
	var rows []customerRow
	pageArgs := append(append([]any{}, args...), page.Limit, max(page.Offset, 0))
	if err := tx.SelectContext(ctx, &rows, pageSQL, pageArgs...); err != nil {
		return audience.Result{}, classify("select customers", err)
	}

	customers := make([]types.Customer, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		customers[i] = r.customer()
		ids[i] = r.ID
	}
	if err := s.loadTags(ctx, tx, customers, ids); err != nil {
		return audience.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return audience.Result{}, classify("commit customer query", err)
	}

	res.Customers = customers
	return res, nil
}

// loadTags fills in tags for customers, whose ids are listed in ids.
func (s *CustomerStore) loadTags(ctx context.Context, tx *sqlx.Tx, customers []types.Customer, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	raw, err := s.q.Raw("select-customer-tags")
	if err != nil {
		return err
	}
	query, args, err := sqlx.In(raw, ids)
	if err != nil {
		return fmt.Errorf("expand tag query: %w", err)
	}

	var tags []struct {
		CustomerID string `db:"customer_id"`
		Tag        string `db:"tag"`
	}
	if err := tx.SelectContext(ctx, &tags, tx.Rebind(query), args...); err != nil {
		return classify("select customer tags", err)
	}

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	for _, t := range tags {
		if i, ok := index[t.CustomerID]; ok {
			customers[i].Tags = append(customers[i].Tags, t.Tag)
		}
	}
	return nil
}

// Upsert inserts c, or updates the customer with the same owner and
// external id. Tags are replaced. Returns the stored record and whether
// it was created.
func (s *CustomerStore) Upsert(ctx context.Context, c types.Customer) (types.Customer, bool, error) {
	if c.Owner == "" {
		return types.Customer{}, false, types.ErrTenantRequired
	}

	// Stored at millisecond precision; the returned record matches what is read back.
	now := time.Now().UTC().Truncate(types.TimePrecision)
	if c.ID == "" {
		c.ID = types.NewCustomerID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = c.CreatedAt.UTC().Truncate(types.TimePrecision)
	c.UpdatedAt = now
	c.Tags = rules.NormalizeTags(c.Tags)

	var lastOrder sql.NullInt64
	if c.LastOrderDate != nil {
		lastOrder = sql.NullInt64{Int64: toMillis(*c.LastOrderDate), Valid: true}
		t := c.LastOrderDate.UTC().Truncate(types.TimePrecision)
		c.LastOrderDate = &t
	}
	args := []any{
		string(c.ID), c.Owner, nullString(c.ExternalID), c.Name, c.Email, nullString(c.Phone),
		c.TotalSpend, c.VisitCount, lastOrder, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	}

	tx, err := s.q.DB().BeginTxx(ctx, nil)
	if err != nil {
		return types.Customer{}, false, classify("begin customer upsert", err)
	}
	defer tx.Rollback()

	created := true
	if c.ExternalID == "" {
		if _, err := s.q.ExecOn(ctx, tx, "insert-customer", args...); err != nil {
			return types.Customer{}, false, classify("insert customer", err)
		}
	} else {
		var stored struct {
			ID          string `db:"customer_id"`
			CreatedAtMs int64  `db:"created_at_ms"`
		}
		if err := s.q.GetOn(ctx, tx, "upsert-customer", &stored, args...); err != nil {
			return types.Customer{}, false, classify("upsert customer", err)
		}
		created = stored.ID == string(c.ID)
		c.ID = types.CustomerID(stored.ID)
		c.CreatedAt = fromMillis(stored.CreatedAtMs)
	}

	if _, err := s.q.ExecOn(ctx, tx, "delete-customer-tags", string(c.ID)); err != nil {
		return types.Customer{}, false, classify("replace customer tags", err)
	}
	for _, tag := range c.Tags {
		if _, err := s.q.ExecOn(ctx, tx, "insert-customer-tag", string(c.ID), tag); err != nil {
			return types.Customer{}, false, classify("replace customer tags", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Customer{}, false, classify("commit customer upsert", err)
	}
	return c, created, nil
}

// readTxOptions returns options for the preview read. PostgreSQL gets a
// repeatable-read snapshot; SQLite transactions are already serializable.
func readTxOptions(driver string) *sql.TxOptions {
	if driver == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
