package model

// Stats is a point-in-time aggregate over all items.
type Stats struct {
	TotalItems      int64 `json:"total_items"`
	TotalStock      int64 `json:"total_stock"`
	LowStockItems   int64 `json:"low_stock_items"`
	OutOfStockItems int64 `json:"out_of_stock_items"`
}

// AlertType classifies a stock alert.
type AlertType string

const (
	AlertLowStock   AlertType = "LOW_STOCK"
	AlertOutOfStock AlertType = "OUT_OF_STOCK"
	AlertOverstock  AlertType = "OVERSTOCK"
)

// Alert flags an item whose stock is outside its thresholds.
type Alert struct {
	ItemID       int64     `json:"item_id"`
	ItemName     string    `json:"item_name"`
	CurrentStock int       `json:"current_stock"`
	Type         AlertType `json:"alert_type"`
	Details      string    `json:"details"`
}
