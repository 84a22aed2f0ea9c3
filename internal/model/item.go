package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockledger-api/pkg/apierror"
)

const (
	DefaultUnit              = "pieces"
	DefaultMinStockThreshold = 10
	DefaultMaxStockThreshold = 1000
)

// MaxPrice is the exclusive upper bound on prices; prices carry at most two decimal places.
var MaxPrice = decimal.New(1, 10)

// priceProblem describes why d is not a storable price, or returns "".
func priceProblem(d decimal.Decimal) string {
	switch {
	case !d.IsPositive():
		return "must be positive"
	case !d.Equal(d.Round(2)):
		return "must have at most 2 decimal places"
	case d.GreaterThanOrEqual(MaxPrice):
		return "must be less than 10000000000"
	}
	return ""
}

func countProblem(v int) string {
	if v > MaxStock {
		return fmt.Sprintf("must be at most %d", MaxStock)
	}
	return ""
}

// Item is the current state of one inventory item.
type Item struct {
	ID                int64           `json:"id"`
	WalmartItemID     string          `json:"walmart_item_id"`
	Name              string          `json:"name"`
	Brand             *string         `json:"brand"`
	Category          string          `json:"category"`
	Quantity          int             `json:"quantity"`
	Unit              string          `json:"unit"`
	Price             decimal.Decimal `json:"price"`
	CurrentStock      int             `json:"current_stock"`
	MinStockThreshold int             `json:"min_stock_threshold"`
	MaxStockThreshold int             `json:"max_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLowStock reports current_stock < min_stock_threshold.
func (i Item) IsLowStock() bool {
	return i.CurrentStock < i.MinStockThreshold
}

// IsOutOfStock reports current_stock == 0.
func (i Item) IsOutOfStock() bool {
	return i.CurrentStock == 0
}

// IsOverstocked reports current_stock > max_stock_threshold.
func (i Item) IsOverstocked() bool {
	return i.CurrentStock > i.MaxStockThreshold
}

// Validate checks the attribute constraints of a new item.
func (i Item) Validate() error {
	var details []apierror.FieldError
	add := func(field, msg string) {
		details = append(details, apierror.FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(i.WalmartItemID) == "" {
		add("walmart_item_id", "is required")
	}
	if strings.TrimSpace(i.Name) == "" {
		add("name", "is required")
	}
	if strings.TrimSpace(i.Category) == "" {
		add("category", "is required")
	}
	if i.Quantity < 0 {
		add("quantity", "cannot be negative")
	}
	if msg := priceProblem(i.Price); msg != "" {
		add("price", msg)
	}
	if i.CurrentStock < 0 {
		add("current_stock", "cannot be negative")
	}
	if i.MinStockThreshold < 0 {
		add("min_stock_threshold", "cannot be negative")
	}
	if i.MaxStockThreshold <= 0 {
		add("max_stock_threshold", "must be positive")
	}
	for _, c := range []struct {
		field string
		value int
	}{
		{"quantity", i.Quantity},
		{"current_stock", i.CurrentStock},
		{"min_stock_threshold", i.MinStockThreshold},
		{"max_stock_threshold", i.MaxStockThreshold},
	} {
		if msg := countProblem(c.value); msg != "" {
			add(c.field, msg)
		}
	}

	if len(details) > 0 {
		return apierror.InvalidInput("invalid item", details...)
	}
	return nil
}

// ItemPatch lists the fields of a partial update. Absent fields are left untouched.
// Brand is the only nullable attribute: an explicit null clears it.
type ItemPatch struct {
	WalmartItemID     Optional[string]          `json:"walmart_item_id,omitzero"`
	Name              Optional[string]          `json:"name,omitzero"`
	Brand             Optional[string]          `json:"brand,omitzero"`
	Category          Optional[string]          `json:"category,omitzero"`
	Quantity          Optional[int]             `json:"quantity,omitzero"`
	Unit              Optional[string]          `json:"unit,omitzero"`
	Price             Optional[decimal.Decimal] `json:"price,omitzero"`
	CurrentStock      Optional[int]             `json:"current_stock,omitzero"`
	MinStockThreshold Optional[int]             `json:"min_stock_threshold,omitzero"`
	MaxStockThreshold Optional[int]             `json:"max_stock_threshold,omitzero"`
}

// IsEmpty reports whether no field was supplied.
func (p ItemPatch) IsEmpty() bool {
	return !p.WalmartItemID.Set && !p.Name.Set && !p.Brand.Set && !p.Category.Set &&
		!p.Quantity.Set && !p.Unit.Set && !p.Price.Set && !p.CurrentStock.Set &&
		!p.MinStockThreshold.Set && !p.MaxStockThreshold.Set
}

// Validate rejects nulls on non-nullable fields and out-of-range values.
func (p ItemPatch) Validate() error {
	var details []apierror.FieldError
	add := func(field, msg string) {
		details = append(details, apierror.FieldError{Field: field, Message: msg})
	}

	requiredString := func(field string, o Optional[string]) {
		if !o.Set {
			return
		}
		if o.Null || strings.TrimSpace(o.Value) == "" {
			add(field, "cannot be empty")
		}
	}
	nonNegative := func(field string, o Optional[int]) {
		if !o.Set {
			return
		}
		if o.Null {
			add(field, "cannot be null")
		} else if o.Value < 0 {
			add(field, "cannot be negative")
		} else if msg := countProblem(o.Value); msg != "" {
			add(field, msg)
		}
	}

	requiredString("walmart_item_id", p.WalmartItemID)
	requiredString("name", p.Name)
	requiredString("category", p.Category)
	requiredString("unit", p.Unit)
	nonNegative("quantity", p.Quantity)
	nonNegative("current_stock", p.CurrentStock)
	nonNegative("min_stock_threshold", p.MinStockThreshold)

	if p.MaxStockThreshold.Set {
		if p.MaxStockThreshold.Null {
			add("max_stock_threshold", "cannot be null")
		} else if p.MaxStockThreshold.Value <= 0 {
			add("max_stock_threshold", "must be positive")
		} else if msg := countProblem(p.MaxStockThreshold.Value); msg != "" {
			add("max_stock_threshold", msg)
		}
	}
	if p.Price.Set {
		if p.Price.Null {
			add("price", "cannot be null")
		} else if msg := priceProblem(p.Price.Value); msg != "" {
			add("price", msg)
		}
	}

	if len(details) > 0 {
		return apierror.InvalidInput("invalid item update", details...)
	}
	return nil
}

// Normalized returns p with the walmart_item_id trimmed the same way NewItem trims it.
func (p ItemPatch) Normalized() ItemPatch {
	if p.WalmartItemID.Set && !p.WalmartItemID.Null {
		p.WalmartItemID.Value = strings.TrimSpace(p.WalmartItemID.Value)
	}
	return p
}

// ApplyTo copies every supplied field onto item.
func (p ItemPatch) ApplyTo(item *Item) {
	if v, ok := p.WalmartItemID.Get(); ok {
		item.WalmartItemID = strings.TrimSpace(v)
	}
	if v, ok := p.Name.Get(); ok {
		item.Name = v
	}
	if p.Brand.Set {
		if v, ok := p.Brand.Get(); ok {
			item.Brand = &v
		} else {
			item.Brand = nil
		}
	}
	if v, ok := p.Category.Get(); ok {
		item.Category = v
	}
	if v, ok := p.Quantity.Get(); ok {
		item.Quantity = v
	}
	if v, ok := p.Unit.Get(); ok {
		item.Unit = v
	}
	if v, ok := p.Price.Get(); ok {
		item.Price = v
	}
	if v, ok := p.CurrentStock.Get(); ok {
		item.CurrentStock = v
	}
	if v, ok := p.MinStockThreshold.Get(); ok {
		item.MinStockThreshold = v
	}
	if v, ok := p.MaxStockThreshold.Get(); ok {
		item.MaxStockThreshold = v
	}
}

// NewItem carries the attributes of an item to register. Nil thresholds and an
// empty unit fall back to the defaults.
type NewItem struct {
	WalmartItemID     string
	Name              string
	Brand             *string
	Category          string
	Quantity          int
	Unit              string
	Price             decimal.Decimal
	CurrentStock      int
	MinStockThreshold *int
	MaxStockThreshold *int
}

// ToItem builds the Item to store, applying defaults.
func (n NewItem) ToItem() Item {
	item := Item{
		WalmartItemID:     strings.TrimSpace(n.WalmartItemID),
		Name:              n.Name,
		Brand:             n.Brand,
		Category:          n.Category,
		Quantity:          n.Quantity,
		Unit:              n.Unit,
		Price:             n.Price,
		CurrentStock:      n.CurrentStock,
		MinStockThreshold: DefaultMinStockThreshold,
		MaxStockThreshold: DefaultMaxStockThreshold,
	}
	if strings.TrimSpace(item.Unit) == "" {
		item.Unit = DefaultUnit
	}
	if n.MinStockThreshold != nil {
		item.MinStockThreshold = *n.MinStockThreshold
	}
	if n.MaxStockThreshold != nil {
		item.MaxStockThreshold = *n.MaxStockThreshold
	}
	return item
}
