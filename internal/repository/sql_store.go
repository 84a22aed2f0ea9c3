package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockledger-api/internal/model"
	"stockledger-api/pkg/apierror"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// returning fetches generated ids with RETURNING instead of LastInsertId
	returning bool
	// lockClause is appended to the row lock query; empty when the engine serialises writers itself
	lockClause        string
	isUniqueViolation func(error) bool
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const itemColumns = `id, walmart_item_id, name, brand, category, quantity, unit, price,
	current_stock, min_stock_threshold, max_stock_threshold, created_at, updated_at`

const transactionColumns = `id, item_id, transaction_type, quantity, previous_stock, new_stock,
	reason, performed_by, occurred_at`

// sqlOps implements the item and ledger operations over any queryer.
type sqlOps struct {
	q queryer
	d dialect
}

// SQLStore implements Store on database/sql. SQLite, PostgreSQL and MySQL share it.
type SQLStore struct {
	*sqlOps
	db *sql.DB
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{sqlOps: &sqlOps{q: db, d: d}, db: db}
}

// DB exposes the connection pool for migrations.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend name.
func (s *SQLStore) Dialect() string {
	return s.d.name
}

// WithinTx runs fn inside a database transaction.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.StorageFailure(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &sqlOps{q: sqlTx, d: s.d}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return apierror.StorageFailure(err, "commit transaction")
	}
	return nil
}

// UpdateItem runs the read-check-write sequence of an update in one transaction.
func (s *SQLStore) UpdateItem(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	var updated *model.Item
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		item, err := tx.UpdateItem(ctx, id, patch)
		updated = item
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apierror.StorageFailure(err, "ping "+s.d.name)
	}
	return nil
}

// Info returns row counts and connection pool stats.
func (s *SQLStore) Info(ctx context.Context) (map[string]interface{}, error) {
	info := map[string]interface{}{"backend": s.d.name}

	var items, txns int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&items); err != nil {
		return nil, apierror.StorageFailure(err, "count items")
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stock_transactions").Scan(&txns); err != nil {
		return nil, apierror.StorageFailure(err, "count transactions")
	}
	info["total_items"] = items
	info["total_transactions"] = txns

	dbStats := s.db.Stats()
	info["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}
	return info, nil
}

// Close closes the database connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (o *sqlOps) CreateItem(ctx context.Context, item *model.Item) error {
	ts := now()
	item.CreatedAt, item.UpdatedAt = ts, ts

	query := o.d.rebind(`
		INSERT INTO items (walmart_item_id, name, brand, category, quantity, unit, price,
			current_stock, min_stock_threshold, max_stock_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	args := []interface{}{
		item.WalmartItemID, item.Name, nullString(item.Brand), item.Category, item.Quantity, item.Unit,
		item.Price, item.CurrentStock, item.MinStockThreshold, item.MaxStockThreshold, ts, ts,
	}

	id, err := o.insert(ctx, query, args...)
	if err != nil {
		if o.d.isUniqueViolation(err) {
			return duplicateKey(item.WalmartItemID)
		}
		return apierror.StorageFailure(err, "insert item")
	}
	item.ID = id
	return nil
}

func (o *sqlOps) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return o.getItem(ctx, id, "")
}

func (o *sqlOps) LockItem(ctx context.Context, id int64) (*model.Item, error) {
	return o.getItem(ctx, id, o.d.lockClause)
}

func (o *sqlOps) getItem(ctx context.Context, id int64, suffix string) (*model.Item, error) {
	query := o.d.rebind("SELECT " + itemColumns + " FROM items WHERE id = ?" + suffix)

	item, err := scanItem(o.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, itemNotFound(id)
	}
	if err != nil {
		return nil, apierror.StorageFailure(err, "select item")
	}
	return item, nil
}

func (o *sqlOps) ListItems(ctx context.Context, offset, limit int) ([]model.Item, error) {
	query := o.d.rebind("SELECT " + itemColumns + " FROM items ORDER BY id LIMIT ? OFFSET ?")
	return o.queryItems(ctx, query, limit, offset)
}

func (o *sqlOps) ListLowStockItems(ctx context.Context, offset, limit int) ([]model.Item, error) {
	query := o.d.rebind("SELECT " + itemColumns + " FROM items WHERE current_stock < min_stock_threshold ORDER BY id LIMIT ? OFFSET ?")
	return o.queryItems(ctx, query, limit, offset)
}

func (o *sqlOps) ListAlertItems(ctx context.Context) ([]model.Item, error) {
	query := "SELECT " + itemColumns + ` FROM items
		WHERE current_stock = 0 OR current_stock < min_stock_threshold OR current_stock > max_stock_threshold
		ORDER BY id`
	return o.queryItems(ctx, query)
}

func (o *sqlOps) queryItems(ctx context.Context, query string, args ...interface{}) ([]model.Item, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.StorageFailure(err, "query items")
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apierror.StorageFailure(err, "scan item")
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.StorageFailure(err, "iterate items")
	}
	return items, nil
}

func (o *sqlOps) UpdateItem(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	patch = patch.Normalized()
	if _, err := o.GetItem(ctx, id); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return o.GetItem(ctx, id)
	}

	if key, ok := patch.WalmartItemID.Get(); ok {
		var taken int
		err := o.q.QueryRowContext(ctx,
			o.d.rebind("SELECT 1 FROM items WHERE walmart_item_id = ? AND id <> ?"), key, id).Scan(&taken)
		switch {
		case err == nil:
			return nil, duplicateKey(key)
		case !errors.Is(err, sql.ErrNoRows):
			return nil, apierror.StorageFailure(err, "check walmart_item_id")
		}
	}

	fields := patchFields(patch)
	sets := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	for _, f := range fields {
		sets = append(sets, f.column+" = ?")
		args = append(args, f.value)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id)

	query := o.d.rebind("UPDATE items SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		if o.d.isUniqueViolation(err) {
			key, _ := patch.WalmartItemID.Get()
			return nil, duplicateKey(key)
		}
		return nil, apierror.StorageFailure(err, "update item")
	}

	return o.GetItem(ctx, id)
}

func (o *sqlOps) ApplyStock(ctx context.Context, id int64, newStock int, at time.Time) error {
	query := o.d.rebind("UPDATE items SET current_stock = ?, updated_at = ? WHERE id = ?")
	result, err := o.q.ExecContext(ctx, query, newStock, at.UTC().Truncate(time.Microsecond), id)
	if err != nil {
		return apierror.StorageFailure(err, "update stock")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.StorageFailure(err, "update stock")
	}
	// MySQL reports 0 affected rows when the values are unchanged, so only a missing row is an error there.
	if affected == 0 && o.d.name != "mysql" {
		return itemNotFound(id)
	}
	return nil
}

func (o *sqlOps) DeleteItem(ctx context.Context, id int64) error {
	result, err := o.q.ExecContext(ctx, o.d.rebind("DELETE FROM items WHERE id = ?"), id)
	if err != nil {
		return apierror.StorageFailure(err, "delete item")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.StorageFailure(err, "delete item")
	}
	if affected == 0 {
		return itemNotFound(id)
	}
	return nil
}

func (o *sqlOps) AggregateStats(ctx context.Context) (model.Stats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(current_stock), 0),
			COALESCE(SUM(CASE WHEN current_stock < min_stock_threshold THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN current_stock = 0 THEN 1 ELSE 0 END), 0)
		FROM items`

	var stats model.Stats
	err := o.q.QueryRowContext(ctx, query).Scan(
		&stats.TotalItems, &stats.TotalStock, &stats.LowStockItems, &stats.OutOfStockItems)
	if err != nil {
		return model.Stats{}, apierror.StorageFailure(err, "aggregate stats")
	}
	return stats, nil
}

func (o *sqlOps) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.Timestamp.IsZero() {
		txn.Timestamp = now()
	} else {
		txn.Timestamp = txn.Timestamp.UTC().Truncate(time.Microsecond)
	}

	query := o.d.rebind(`
		INSERT INTO stock_transactions (item_id, transaction_type, quantity, previous_stock, new_stock,
			reason, performed_by, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	id, err := o.insert(ctx, query,
		txn.ItemID, string(txn.Kind), txn.Quantity, txn.PreviousStock, txn.NewStock,
		nullString(txn.Reason), nullString(txn.PerformedBy), txn.Timestamp)
	if err != nil {
		return apierror.StorageFailure(err, "append transaction")
	}
	txn.ID = id
	return nil
}

func (o *sqlOps) ListTransactionsByItem(ctx context.Context, itemID int64, offset, limit int) ([]model.Transaction, error) {
	query := o.d.rebind("SELECT " + transactionColumns +
		" FROM stock_transactions WHERE item_id = ? ORDER BY occurred_at, id LIMIT ? OFFSET ?")
	return o.queryTransactions(ctx, query, itemID, limit, offset)
}

func (o *sqlOps) ListRecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	query := o.d.rebind("SELECT " + transactionColumns +
		" FROM stock_transactions ORDER BY occurred_at DESC, id DESC LIMIT ?")
	return o.queryTransactions(ctx, query, limit)
}

func (o *sqlOps) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]model.Transaction, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.StorageFailure(err, "query transactions")
	}
	defer rows.Close()

	txns := make([]model.Transaction, 0)
	for rows.Next() {
		var (
			txn         model.Transaction
			kind        string
			reason      sql.NullString
			performedBy sql.NullString
		)
		if err := rows.Scan(&txn.ID, &txn.ItemID, &kind, &txn.Quantity, &txn.PreviousStock, &txn.NewStock,
			&reason, &performedBy, &txn.Timestamp); err != nil {
			return nil, apierror.StorageFailure(err, "scan transaction")
		}
		txn.Kind = model.TransactionKind(kind)
		txn.Reason = stringPtr(reason)
		txn.PerformedBy = stringPtr(performedBy)
		txn.Timestamp = txn.Timestamp.UTC()
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.StorageFailure(err, "iterate transactions")
	}
	return txns, nil
}

// insert executes an INSERT and returns the generated id.
func (o *sqlOps) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if o.d.returning {
		var id int64
		err := o.q.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	result, err := o.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	var (
		item  model.Item
		brand sql.NullString
		price decimal.Decimal
	)
	err := row.Scan(&item.ID, &item.WalmartItemID, &item.Name, &brand, &item.Category, &item.Quantity,
		&item.Unit, &price, &item.CurrentStock, &item.MinStockThreshold, &item.MaxStockThreshold,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Brand = stringPtr(brand)
	item.Price = price
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func itemNotFound(id int64) *apierror.Error {
	return apierror.NotFound(fmt.Sprintf("item %d not found", id))
}

func duplicateKey(key string) *apierror.Error {
	return apierror.DuplicateKey(fmt.Sprintf("walmart_item_id %q already exists", key))
}

var (
	_ Store = (*SQLStore)(nil)
	_ Tx    = (*sqlOps)(nil)
)
