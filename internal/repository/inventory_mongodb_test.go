package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stockledger-api/pkg/apierror"
)

func TestItemDocumentPriceRoundTrip(t *testing.T) {
	for _, raw := range []string{"0.01", "2.49", "3.5", "120", "9999999999.99"} {
		t.Run(raw, func(t *testing.T) {
			price := decimal.RequireFromString(raw)
			d128, err := toDecimal128(price)
			require.NoError(t, err)

			item, err := itemDocument{ID: 7, WalmartItemID: "W-7", Price: d128}.toModel()
			require.NoError(t, err)
			assert.True(t, price.Equal(item.Price), "got %s", item.Price)
		})
	}
}

func TestItemDocumentToModel(t *testing.T) {
	d128, err := toDecimal128(decimal.RequireFromString("4.20"))
	require.NoError(t, err)
	brand := "Acme"
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	item, err := itemDocument{
		ID:                3,
		WalmartItemID:     "W-3",
		Name:              "Oats",
		Brand:             &brand,
		Category:          "grocery",
		Quantity:          2,
		Unit:              "bags",
		Price:             d128,
		CurrentStock:      15,
		MinStockThreshold: 5,
		MaxStockThreshold: 50,
		Revision:          9,
		CreatedAt:         created,
		UpdatedAt:         created,
	}.toModel()
	require.NoError(t, err)

	assert.Equal(t, int64(3), item.ID)
	assert.Equal(t, "Acme", *item.Brand)
	assert.Equal(t, 15, item.CurrentStock)
	assert.Equal(t, time.UTC, item.CreatedAt.Location())
	assert.True(t, created.Equal(item.UpdatedAt))
}

func TestItemDocumentRejectsNonNumericPrice(t *testing.T) {
	nan, err := primitive.ParseDecimal128("NaN")
	require.NoError(t, err)

	_, err = itemDocument{ID: 1, Price: nan}.toModel()
	assert.Equal(t, apierror.KindStorageFailure, apierror.KindOf(err))
}

func TestMongoStockFilters(t *testing.T) {
	low, err := bson.MarshalExtJSON(lowStockFilter(), false, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"$expr":{"$lt":["$current_stock","$min_stock_threshold"]}}`, string(low))

	alerts, err := bson.MarshalExtJSON(alertFilter(), false, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"$or":[
		{"current_stock":0},
		{"$expr":{"$lt":["$current_stock","$min_stock_threshold"]}},
		{"$expr":{"$gt":["$current_stock","$max_stock_threshold"]}}
	]}`, string(alerts))
}
