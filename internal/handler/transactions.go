package handler

import (
	"net/http"

	"stockledger-api/internal/model"
	"stockledger-api/internal/service"
	"stockledger-api/pkg/logger"
	"stockledger-api/pkg/pagination"
	"stockledger-api/pkg/response"
)

// TransactionHandler handles stock transaction HTTP requests.
type TransactionHandler struct {
	ledger *service.LedgerService
	logg   *logger.Logger
}

// NewTransactionHandler creates a new transaction handler.
func NewTransactionHandler(ledger *service.LedgerService, logg *logger.Logger) *TransactionHandler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &TransactionHandler{ledger: ledger, logg: logg}
}

type transactionRequest struct {
	ItemID      int64                 `json:"item_id" validate:"required,gt=0"`
	Kind        model.TransactionKind `json:"transaction_type" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Quantity    *int                  `json:"quantity" validate:"required,gte=0,lte=2147483647"`
	Reason      *string               `json:"reason" validate:"omitempty,max=500"`
	PerformedBy *string               `json:"performed_by" validate:"omitempty,max=255"`
}

func (req transactionRequest) toModel() model.TransactionRequest {
	return model.TransactionRequest{
		ItemID:      req.ItemID,
		Kind:        req.Kind,
		Quantity:    *req.Quantity,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	}
}

type bulkTransactionRequest struct {
	Transactions []transactionRequest `json:"transactions" validate:"required,min=1,max=1000,dive"`
}

// Record handles POST /api/v1/stock/transactions
func (h *TransactionHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req transactionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	txn, err := h.ledger.RecordTransaction(ctx, req.toModel())
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.Created(w, txn)
}

// RecordBulk handles POST /api/v1/stock/transactions/bulk. The batch is all-or-nothing.
func (h *TransactionHandler) RecordBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bulkTransactionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	reqs := make([]model.TransactionRequest, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		reqs = append(reqs, t.toModel())
	}

	txns, err := h.ledger.RecordTransactions(ctx, reqs)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.Created(w, txns)
}

// Recent handles GET /api/v1/stock/transactions/recent?limit=
func (h *TransactionHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	txns, err := h.ledger.RecentTransactions(ctx, limit)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, txns, 0, limit, len(txns))
}
