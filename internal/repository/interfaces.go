package repository

import (
	"context"
	"time"

	"stockledger-api/internal/model"
)

// ItemStore defines item registry access methods.
type ItemStore interface {
	// CreateItem inserts item and fills in its ID and timestamps.
	// Returns a DUPLICATE_KEY error when the walmart_item_id is taken.
	CreateItem(ctx context.Context, item *model.Item) error

	// GetItem retrieves an item by ID or returns NOT_FOUND.
	GetItem(ctx context.Context, id int64) (*model.Item, error)

	// ListItems returns items in ascending ID order.
	ListItems(ctx context.Context, offset, limit int) ([]model.Item, error)

	// ListLowStockItems returns items whose current_stock is below min_stock_threshold.
	ListLowStockItems(ctx context.Context, offset, limit int) ([]model.Item, error)

	// UpdateItem applies the supplied fields of patch and returns the updated item.
	UpdateItem(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error)

	// DeleteItem removes an item. Its transactions are kept.
	DeleteItem(ctx context.Context, id int64) error

	// AggregateStats computes the stats snapshot in a single query.
	AggregateStats(ctx context.Context) (model.Stats, error)

	// ListAlertItems returns items that are out of stock, below min or above max.
	ListAlertItems(ctx context.Context) ([]model.Item, error)
}

// TransactionLedger defines access to the append-only stock transaction log.
type TransactionLedger interface {
	// AppendTransaction stores txn and fills in its ID.
	AppendTransaction(ctx context.Context, txn *model.Transaction) error

	// ListTransactionsByItem returns an item's history, oldest first.
	ListTransactionsByItem(ctx context.Context, itemID int64, offset, limit int) ([]model.Transaction, error)

	// ListRecentTransactions returns the newest transactions across all items.
	ListRecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
}

// Tx is the view of the store inside a storage transaction.
type Tx interface {
	ItemStore
	TransactionLedger

	// LockItem loads an item and holds it against concurrent stock changes until commit.
	LockItem(ctx context.Context, id int64) (*model.Item, error)

	// ApplyStock sets current_stock and updated_at.
	ApplyStock(ctx context.Context, id int64, newStock int, at time.Time) error
}

// Store is the unit of work over items and transactions.
type Store interface {
	ItemStore
	TransactionLedger

	// WithinTx runs fn in one storage transaction. It commits when fn returns nil
	// and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping checks the backend connection.
	Ping(ctx context.Context) error

	// Info returns backend details for the admin endpoint.
	Info(ctx context.Context) (map[string]interface{}, error)

	// Close closes the backend connection.
	Close() error
}
