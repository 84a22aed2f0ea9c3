package repository

import (
	"time"

	"stockledger-api/internal/model"
)

// fieldValue is one column assignment derived from an ItemPatch.
type fieldValue struct {
	column string
	value  interface{}
}

// patchFields lists the columns set by p. A null brand maps to a nil value.
func patchFields(p model.ItemPatch) []fieldValue {
	var fields []fieldValue
	addString := func(column string, o model.Optional[string]) {
		if v, ok := o.Get(); ok {
			fields = append(fields, fieldValue{column, v})
		}
	}
	addInt := func(column string, o model.Optional[int]) {
		if v, ok := o.Get(); ok {
			fields = append(fields, fieldValue{column, v})
		}
	}

	addString("walmart_item_id", p.Normalized().WalmartItemID)
	addString("name", p.Name)
	if p.Brand.Set {
		if v, ok := p.Brand.Get(); ok {
			fields = append(fields, fieldValue{"brand", v})
		} else {
			fields = append(fields, fieldValue{"brand", nil})
		}
	}
	addString("category", p.Category)
	addInt("quantity", p.Quantity)
	addString("unit", p.Unit)
	if v, ok := p.Price.Get(); ok {
		fields = append(fields, fieldValue{"price", v})
	}
	addInt("current_stock", p.CurrentStock)
	addInt("min_stock_threshold", p.MinStockThreshold)
	addInt("max_stock_threshold", p.MaxStockThreshold)

	return fields
}

// now returns the store clock in UTC at the precision every backend can persist.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
