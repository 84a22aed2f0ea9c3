package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"stockledger-api/internal/model"
	"stockledger-api/internal/service"
	"stockledger-api/pkg/logger"
	"stockledger-api/pkg/response"
)

// InventoryHandler handles item registry and derived-view HTTP requests.
type InventoryHandler struct {
	ledger *service.LedgerService
	stats  *service.StatsEngine
	logg   *logger.Logger
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(ledger *service.LedgerService, stats *service.StatsEngine, logg *logger.Logger) *InventoryHandler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &InventoryHandler{ledger: ledger, stats: stats, logg: logg}
}

type createItemRequest struct {
	WalmartItemID     string          `json:"walmart_item_id" validate:"required,max=191"`
	Name              string          `json:"name" validate:"required,max=255"`
	Brand             *string         `json:"brand" validate:"omitempty,max=255"`
	Category          string          `json:"category" validate:"required,max=255"`
	Quantity          int             `json:"quantity" validate:"gte=0,lte=2147483647"`
	Unit              string          `json:"unit" validate:"omitempty,max=64"`
	Price             decimal.Decimal `json:"price" validate:"required,gt=0"`
	CurrentStock      int             `json:"current_stock" validate:"gte=0,lte=2147483647"`
	MinStockThreshold *int            `json:"min_stock_threshold" validate:"omitempty,gte=0,lte=2147483647"`
	MaxStockThreshold *int            `json:"max_stock_threshold" validate:"omitempty,gt=0,lte=2147483647"`
}

func (req createItemRequest) toNewItem() model.NewItem {
	return model.NewItem{
		WalmartItemID:     req.WalmartItemID,
		Name:              req.Name,
		Brand:             req.Brand,
		Category:          req.Category,
		Quantity:          req.Quantity,
		Unit:              req.Unit,
		Price:             req.Price,
		CurrentStock:      req.CurrentStock,
		MinStockThreshold: req.MinStockThreshold,
		MaxStockThreshold: req.MaxStockThreshold,
	}
}

// CreateItem handles POST /api/v1/inventory
func (h *InventoryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createItemRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	item, err := h.ledger.CreateItem(ctx, req.toNewItem())
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.Created(w, item)
}

// ListItems handles GET /api/v1/inventory?low_stock=&skip=&limit=
func (h *InventoryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := pageParams(r)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	lowStock, err := queryBool(r, "low_stock")
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	var items []model.Item
	if lowStock {
		items, err = h.ledger.GetLowStockItems(ctx, page)
	} else {
		items, err = h.ledger.ListItems(ctx, page)
	}
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, items, page.Offset, page.Limit, len(items))
}

// GetItem handles GET /api/v1/inventory/{id}
func (h *InventoryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	item, err := h.ledger.GetItem(ctx, id)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.OK(w, item)
}

// UpdateItem handles PUT and PATCH /api/v1/inventory/{id}. Both are partial updates.
func (h *InventoryHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	var patch model.ItemPatch
	if err := decodeJSONBody(w, r, &patch); err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	item, err := h.ledger.UpdateItem(ctx, id, patch)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.OK(w, item)
}

// DeleteItem handles DELETE /api/v1/inventory/{id}
func (h *InventoryHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	if err := h.ledger.DeleteItem(ctx, id); err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.NoContent(w)
}

// ItemTransactions handles GET /api/v1/inventory/{id}/transactions
func (h *InventoryHandler) ItemTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r, "id")
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	page, err := pageParams(r)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}

	txns, err := h.ledger.ListItemTransactions(ctx, id, page)
	if err != nil {
		response.Error(ctx, h.logg, w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, txns, page.Offset, page.Limit, len(txns))
}

// Stats handles GET /api/v1/inventory/stats
func (h *InventoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		response.Error(r.Context(), h.logg, w, err)
		return
	}
	response.OK(w, stats)
}

// Alerts handles GET /api/v1/inventory/alerts
func (h *InventoryHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.stats.GetAlerts(r.Context())
	if err != nil {
		response.Error(r.Context(), h.logg, w, err)
		return
	}
	response.OK(w, alerts)
}
