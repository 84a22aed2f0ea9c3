package service

import (
	"context"
	"fmt"
	"time"

	"stockledger-api/internal/metrics"
	"stockledger-api/internal/model"
	"stockledger-api/internal/repository"
	"stockledger-api/pkg/apierror"
	"stockledger-api/pkg/logger"
	"stockledger-api/pkg/pagination"
)

// LedgerService coordinates the item registry and the transaction ledger.
type LedgerService struct {
	store   repository.Store
	stats   *StatsEngine
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewLedgerService creates a new ledger service.
// Returns nil if store is nil (required dependency). stats and m may be nil.
func NewLedgerService(
	store repository.Store,
	stats *StatsEngine,
	m *metrics.LedgerMetrics,
	logg *logger.Logger,
) *LedgerService {
	if store == nil {
		return nil
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &LedgerService{
		store:   store,
		stats:   stats,
		metrics: m,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateItem registers a new item, applying default unit and thresholds.
func (s *LedgerService) CreateItem(ctx context.Context, in model.NewItem) (*model.Item, error) {
	item := in.ToItem()
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateItem(ctx, &item); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	ctx = s.logg.WithFields(s.logg.WithItemID(ctx, item.ID), map[string]any{
		"walmart_item_id": item.WalmartItemID,
	})
	s.logg.Info(ctx, "item.created")
	return &item, nil
}

// GetItem returns an item by id.
func (s *LedgerService) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return s.store.GetItem(ctx, id)
}

// ListItems returns one page of items in id order.
func (s *LedgerService) ListItems(ctx context.Context, page pagination.Params) ([]model.Item, error) {
	page = page.Normalize()
	return s.store.ListItems(ctx, page.Offset, page.Limit)
}

// GetLowStockItems returns one page of items below their minimum threshold.
func (s *LedgerService) GetLowStockItems(ctx context.Context, page pagination.Params) ([]model.Item, error) {
	page = page.Normalize()
	return s.store.ListLowStockItems(ctx, page.Offset, page.Limit)
}

// UpdateItem applies a partial update. Changing current_stock here is a catalog
// correction and records no transaction.
func (s *LedgerService) UpdateItem(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	patch = patch.Normalized()
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	item, err := s.store.UpdateItem(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if !patch.IsEmpty() {
		s.invalidate(ctx)
		s.logg.Info(s.logg.WithItemID(ctx, id), "item.updated")
	}
	return item, nil
}

// DeleteItem removes an item. Its transaction history is retained.
func (s *LedgerService) DeleteItem(ctx context.Context, id int64) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.logg.Info(s.logg.WithItemID(ctx, id), "item.deleted")
	return nil
}

// RecordTransaction applies one stock change and appends it to the ledger.
// The ledger row and the stock update commit together or not at all.
func (s *LedgerService) RecordTransaction(ctx context.Context, req model.TransactionRequest) (*model.Transaction, error) {
	start := time.Now()
	ctx = s.logg.WithItemID(ctx, req.ItemID)

	var receipt *model.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		txn, err := s.apply(ctx, tx, req, s.now())
		receipt = txn
		return err
	})
	if err != nil {
		s.reject(ctx, req, err)
		return nil, err
	}

	s.committed(ctx, start, *receipt)
	s.invalidate(ctx)
	return receipt, nil
}

// RecordTransactions applies a batch in a single storage transaction. The first
// failing entry aborts the whole batch; its index is reported in the error details.
func (s *LedgerService) RecordTransactions(ctx context.Context, reqs []model.TransactionRequest) ([]model.Transaction, error) {
	if len(reqs) == 0 {
		return nil, apierror.InvalidInput("at least one transaction is required",
			apierror.FieldError{Field: "transactions", Message: "must not be empty"})
	}
	start := time.Now()

	var receipts []model.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// the backend may retry this function, so start from scratch each time
		receipts = make([]model.Transaction, 0, len(reqs))
		at := s.now()
		for i, req := range reqs {
			txn, err := s.apply(ctx, tx, req, at)
			if err != nil {
				return batchError(i, err)
			}
			receipts = append(receipts, *txn)
		}
		return nil
	})
	if err != nil {
		s.reject(s.logg.WithField(ctx, "batch_size", len(reqs)), model.TransactionRequest{}, err)
		return nil, err
	}

	for _, txn := range receipts {
		s.committed(s.logg.WithItemID(ctx, txn.ItemID), start, txn)
	}
	s.invalidate(ctx)
	return receipts, nil
}

// ListItemTransactions returns an existing item's history, oldest first.
func (s *LedgerService) ListItemTransactions(ctx context.Context, itemID int64, page pagination.Params) ([]model.Transaction, error) {
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	page = page.Normalize()
	return s.store.ListTransactionsByItem(ctx, itemID, page.Offset, page.Limit)
}

// RecentTransactions returns the newest transactions across all items.
func (s *LedgerService) RecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	return s.store.ListRecentTransactions(ctx, pagination.NormalizeLimit(limit))
}

// apply runs lock, validate, append and update for one request inside tx.
func (s *LedgerService) apply(ctx context.Context, tx repository.Tx, req model.TransactionRequest, at time.Time) (*model.Transaction, error) {
	item, err := tx.LockItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	next, err := req.Kind.Apply(item.CurrentStock, req.Quantity)
	if err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ItemID:        item.ID,
		Kind:          req.Kind,
		Quantity:      req.Quantity,
		PreviousStock: item.CurrentStock,
		NewStock:      next,
		Reason:        req.Reason,
		PerformedBy:   req.PerformedBy,
		Timestamp:     at,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := tx.ApplyStock(ctx, item.ID, next, txn.Timestamp); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *LedgerService) committed(ctx context.Context, start time.Time, txn model.Transaction) {
	s.metrics.ObserveTransaction(txn.Kind, time.Since(start))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"transaction_id":   txn.ID,
		"transaction_type": string(txn.Kind),
		"previous_stock":   txn.PreviousStock,
		"new_stock":        txn.NewStock,
	})
	s.logg.Info(ctx, "transaction.recorded")
}

func (s *LedgerService) reject(ctx context.Context, req model.TransactionRequest, err error) {
	kind := apierror.KindOf(err)
	s.metrics.IncRejected(string(kind))

	ctx = s.logg.WithField(ctx, "reason", string(kind))
	if req.Kind != "" {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"transaction_type": string(req.Kind),
			"quantity":         req.Quantity,
		})
	}
	if kind == apierror.KindStorageFailure || kind == apierror.KindInternal {
		s.logg.Error(ctx, "transaction.failed", err)
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "transaction.rejected")
}

func (s *LedgerService) invalidate(ctx context.Context) {
	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
}

// batchError keeps the kind of err and records which entry failed.
func batchError(index int, err error) error {
	apiErr, ok := apierror.As(err)
	if !ok {
		return apierror.Wrap(apierror.KindInternal, err, fmt.Sprintf("transaction %d failed", index))
	}
	wrapped := apierror.Wrap(apiErr.Kind, err, fmt.Sprintf("transaction %d: %s", index, apiErr.Message))
	return wrapped.WithDetails(apierror.FieldError{
		Field:   fmt.Sprintf("transactions[%d]", index),
		Message: apiErr.Message,
	})
}
