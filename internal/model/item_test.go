package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger-api/pkg/apierror"
)

func TestNewItemAppliesDefaults(t *testing.T) {
	item := NewItem{
		WalmartItemID: "W-1",
		Name:          "Milk",
		Category:      "dairy",
		Price:         decimal.RequireFromString("2.49"),
	}.ToItem()

	assert.Equal(t, DefaultUnit, item.Unit)
	assert.Equal(t, DefaultMinStockThreshold, item.MinStockThreshold)
	assert.Equal(t, DefaultMaxStockThreshold, item.MaxStockThreshold)
	assert.NoError(t, item.Validate())
}

func TestNewItemKeepsExplicitZeroMinimum(t *testing.T) {
	zero := 0
	item := NewItem{WalmartItemID: "W-1", MinStockThreshold: &zero}.ToItem()
	assert.Equal(t, 0, item.MinStockThreshold)
}

func TestItemValidateCollectsFieldErrors(t *testing.T) {
	err := Item{Price: decimal.Zero, CurrentStock: -1, MaxStockThreshold: 0}.Validate()
	require.Error(t, err)

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidInput, apiErr.Kind)

	fields := make([]string, 0, len(apiErr.Details))
	for _, d := range apiErr.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{
		"walmart_item_id", "name", "category", "price", "current_stock", "max_stock_threshold",
	}, fields)
}

func TestItemStockPredicates(t *testing.T) {
	item := Item{CurrentStock: 0, MinStockThreshold: 10, MaxStockThreshold: 100}
	assert.True(t, item.IsOutOfStock())
	assert.True(t, item.IsLowStock())
	assert.False(t, item.IsOverstocked())

	item.CurrentStock = 10
	assert.False(t, item.IsLowStock())

	item.CurrentStock = 101
	assert.True(t, item.IsOverstocked())
}

func TestItemValidateBounds(t *testing.T) {
	valid := func() Item {
		return NewItem{
			WalmartItemID: "W-1",
			Name:          "Milk",
			Category:      "dairy",
			Price:         decimal.RequireFromString("2.49"),
		}.ToItem()
	}

	tests := []struct {
		name   string
		mutate func(*Item)
		field  string
	}{
		{name: "price with three decimals", mutate: func(i *Item) { i.Price = decimal.RequireFromString("0.001") }, field: "price"},
		{name: "price at ceiling", mutate: func(i *Item) { i.Price = MaxPrice }, field: "price"},
		{name: "stock past ceiling", mutate: func(i *Item) { i.CurrentStock = MaxStock + 1 }, field: "current_stock"},
		{name: "quantity past ceiling", mutate: func(i *Item) { i.Quantity = MaxStock + 1 }, field: "quantity"},
		{name: "max threshold past ceiling", mutate: func(i *Item) { i.MaxStockThreshold = MaxStock + 1 }, field: "max_stock_threshold"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			item := valid()
			tc.mutate(&item)

			apiErr, ok := apierror.As(item.Validate())
			require.True(t, ok)
			require.Len(t, apiErr.Details, 1)
			assert.Equal(t, tc.field, apiErr.Details[0].Field)
		})
	}

	edge := valid()
	edge.Price = decimal.RequireFromString("9999999999.99")
	edge.CurrentStock = MaxStock
	assert.NoError(t, edge.Validate())

	trailing := valid()
	trailing.Price = decimal.RequireFromString("1.500")
	assert.NoError(t, trailing.Validate())
}

func TestNewItemAndPatchTrimKeyAlike(t *testing.T) {
	created := NewItem{WalmartItemID: " W-1 "}.ToItem()

	patched := Item{WalmartItemID: "W-0"}
	patch := ItemPatch{WalmartItemID: Some(" W-1 ")}
	patch.ApplyTo(&patched)

	assert.Equal(t, "W-1", created.WalmartItemID)
	assert.Equal(t, created.WalmartItemID, patched.WalmartItemID)
	assert.Equal(t, "W-1", patch.Normalized().WalmartItemID.Value)
	assert.False(t, ItemPatch{}.Normalized().WalmartItemID.Set)
}
