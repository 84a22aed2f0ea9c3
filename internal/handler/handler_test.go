package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger-api/internal/cache"
	"stockledger-api/internal/repository"
	"stockledger-api/internal/service"
	"stockledger-api/pkg/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Skip  int `json:"skip"`
		Limit int `json:"limit"`
		Count int `json:"count"`
	} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

type testServer struct {
	mux   *chi.Mux
	store *repository.SQLStore
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()

	store, err := repository.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = repository.Migrate(ctx, store)
	require.NoError(t, err)

	mem := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { _ = mem.Close() })

	logg := logger.Nop()
	stats := service.NewStatsEngine(store, mem, time.Minute, nil, logg)
	ledger := service.NewLedgerService(store, stats, nil, logg)

	inv := NewInventoryHandler(ledger, stats, logg)
	txh := NewTransactionHandler(ledger, logg)
	admin := NewAdminHandler(store, stats, mem, "sqlite", "memory", logg)
	probes := New(store, "test", logg)

	r := chi.NewRouter()
	r.Get("/api/v1/health", probes.Health)
	r.Get("/api/v1/ready", probes.Ready)
	r.Post("/api/v1/inventory", inv.CreateItem)
	r.Get("/api/v1/inventory", inv.ListItems)
	r.Get("/api/v1/inventory/stats", inv.Stats)
	r.Get("/api/v1/inventory/alerts", inv.Alerts)
	r.Get("/api/v1/inventory/{id}", inv.GetItem)
	r.Patch("/api/v1/inventory/{id}", inv.UpdateItem)
	r.Delete("/api/v1/inventory/{id}", inv.DeleteItem)
	r.Get("/api/v1/inventory/{id}/transactions", inv.ItemTransactions)
	r.Post("/api/v1/stock/transactions", txh.Record)
	r.Post("/api/v1/stock/transactions/bulk", txh.RecordBulk)
	r.Get("/api/v1/stock/transactions/recent", txh.Recent)
	r.Get("/api/v1/admin/stats", admin.GetStats)
	r.Post("/api/v1/admin/cache/clear", admin.ClearCache)

	return testServer{mux: r, store: store}
}

func (s testServer) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (s testServer) createItem(t *testing.T, key string, stock int) int64 {
	t.Helper()
	body := `{"walmart_item_id":"` + key + `","name":"Milk","category":"dairy","price":"3.49","current_stock":` + itoa(stock) + `}`
	code, env := s.do(t, http.MethodPost, "/api/v1/inventory", body)
	require.Equal(t, http.StatusCreated, code)

	var item struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))
	return item.ID
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCreateItemAppliesDefaults(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/inventory",
		`{"walmart_item_id":"W-1","name":"Milk","category":"dairy","price":3.49,"current_stock":4}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)

	var item struct {
		Unit              string  `json:"unit"`
		Price             string  `json:"price"`
		MinStockThreshold int     `json:"min_stock_threshold"`
		MaxStockThreshold int     `json:"max_stock_threshold"`
		Brand             *string `json:"brand"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, "pieces", item.Unit)
	assert.Equal(t, "3.49", item.Price)
	assert.Equal(t, 10, item.MinStockThreshold)
	assert.Equal(t, 1000, item.MaxStockThreshold)
	assert.Nil(t, item.Brand)
}

func TestCreateItemDuplicateKey(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "W-1", 5)

	code, env := s.do(t, http.MethodPost, "/api/v1/inventory",
		`{"walmart_item_id":"W-1","name":"Other","category":"dairy","price":"1"}`)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DUPLICATE_KEY", env.Error.Code)
}

func TestCreateItemValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing name", body: `{"walmart_item_id":"W-1","category":"c","price":"1"}`, field: "name"},
		{name: "zero price", body: `{"walmart_item_id":"W-1","name":"n","category":"c","price":"0"}`, field: "price"},
		{name: "negative stock", body: `{"walmart_item_id":"W-1","name":"n","category":"c","price":"1","current_stock":-1}`, field: "current_stock"},
		{name: "unknown field", body: `{"walmart_item_id":"W-1","name":"n","category":"c","price":"1","colour":"red"}`, field: "colour"},
		{name: "wrong type", body: `{"walmart_item_id":"W-1","name":"n","category":"c","price":"1","quantity":"many"}`, field: "quantity"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPost, "/api/v1/inventory", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "INVALID_INPUT", env.Error.Code)

			fields := make([]string, 0, len(env.Error.Details))
			for _, d := range env.Error.Details {
				fields = append(fields, d.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}

	code, env := s.do(t, http.MethodPost, "/api/v1/inventory", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "request body is required", env.Error.Message)
}

func TestGetItem(t *testing.T) {
	s := newTestServer(t)
	id := s.createItem(t, "W-1", 5)

	code, _ := s.do(t, http.MethodGet, "/api/v1/inventory/"+itoa(int(id)), "")
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/inventory/999", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/inventory/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListItemsQuery(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "W-1", 50)
	s.createItem(t, "W-2", 3)
	s.createItem(t, "W-3", 0)

	code, env := s.do(t, http.MethodGet, "/api/v1/inventory?skip=1&limit=5", "")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Skip)
	assert.Equal(t, 5, env.Meta.Limit)
	assert.Equal(t, 2, env.Meta.Count)

	code, env = s.do(t, http.MethodGet, "/api/v1/inventory?low_stock=true", "")
	require.Equal(t, http.StatusOK, code)
	var low []struct {
		WalmartItemID string `json:"walmart_item_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &low))
	require.Len(t, low, 2)
	assert.Equal(t, "W-2", low[0].WalmartItemID)
	assert.Equal(t, "W-3", low[1].WalmartItemID)

	for _, q := range []string{"limit=0", "limit=1001", "skip=-1", "low_stock=maybe"} {
		code, _ = s.do(t, http.MethodGet, "/api/v1/inventory?"+q, "")
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestUpdateItemPartial(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodPost, "/api/v1/inventory",
		`{"walmart_item_id":"W-1","name":"Milk","brand":"Acme","category":"dairy","price":"3.49"}`)
	require.Equal(t, http.StatusCreated, code)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	path := "/api/v1/inventory/" + itoa(int(created.ID))

	code, env = s.do(t, http.MethodPatch, path, `{"name":"Whole Milk","brand":null}`)
	require.Equal(t, http.StatusOK, code)
	var item struct {
		Name     string  `json:"name"`
		Brand    *string `json:"brand"`
		Category string  `json:"category"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, "Whole Milk", item.Name)
	assert.Nil(t, item.Brand)
	assert.Equal(t, "dairy", item.Category)

	code, _ = s.do(t, http.MethodPatch, path, `{"name":null}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPatch, "/api/v1/inventory/999", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteItemKeepsHistoryReachable(t *testing.T) {
	s := newTestServer(t)
	id := s.createItem(t, "W-1", 5)
	code, _ := s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+itoa(int(id))+`,"transaction_type":"IN","quantity":2}`)
	require.Equal(t, http.StatusCreated, code)

	path := "/api/v1/inventory/" + itoa(int(id))
	code, _ = s.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = s.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/stock/transactions/recent", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Count)
}

func TestRecordTransaction(t *testing.T) {
	s := newTestServer(t)
	id := itoa(int(s.createItem(t, "W-1", 10)))

	code, env := s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"OUT","quantity":4,"reason":"sale","performed_by":"till-3"}`)
	require.Equal(t, http.StatusCreated, code)
	var txn struct {
		PreviousStock int    `json:"previous_stock"`
		NewStock      int    `json:"new_stock"`
		Kind          string `json:"transaction_type"`
		Reason        string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, 10, txn.PreviousStock)
	assert.Equal(t, 6, txn.NewStock)
	assert.Equal(t, "OUT", txn.Kind)
	assert.Equal(t, "sale", txn.Reason)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"OUT","quantity":7}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"IN","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "quantity", env.Error.Details[0].Field)

	code, _ = s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"ADJUSTMENT","quantity":0}`)
	assert.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"RETURN","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "transaction_type", env.Error.Details[0].Field)

	code, _ = s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":999,"transaction_type":"IN","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/inventory/"+id+"/transactions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, env.Meta.Count)
}

func TestRecordBulkIsAtomic(t *testing.T) {
	s := newTestServer(t)
	a := itoa(int(s.createItem(t, "W-1", 5)))
	b := itoa(int(s.createItem(t, "W-2", 1)))

	code, env := s.do(t, http.MethodPost, "/api/v1/stock/transactions/bulk", `{"transactions":[
		{"item_id":`+a+`,"transaction_type":"IN","quantity":5},
		{"item_id":`+b+`,"transaction_type":"OUT","quantity":2}
	]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "transactions[1]", env.Error.Details[0].Field)

	code, env = s.do(t, http.MethodGet, "/api/v1/inventory/"+a, "")
	require.Equal(t, http.StatusOK, code)
	var item struct {
		CurrentStock int `json:"current_stock"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, 5, item.CurrentStock)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions/bulk", `{"transactions":[
		{"item_id":`+a+`,"transaction_type":"IN","quantity":5},
		{"item_id":`+a+`,"transaction_type":"OUT","quantity":8}
	]}`)
	require.Equal(t, http.StatusCreated, code)
	var receipts []struct {
		NewStock int `json:"new_stock"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &receipts))
	require.Len(t, receipts, 2)
	assert.Equal(t, 10, receipts[0].NewStock)
	assert.Equal(t, 2, receipts[1].NewStock)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions/bulk", `{"transactions":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "transactions", env.Error.Details[0].Field)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions/bulk",
		`{"transactions":[{"item_id":`+a+`,"transaction_type":"IN"}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "transactions[0].quantity", env.Error.Details[0].Field)
}

func TestStatsAndAlerts(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "W-1", 50)
	s.createItem(t, "W-2", 3)
	s.createItem(t, "W-3", 0)

	code, env := s.do(t, http.MethodGet, "/api/v1/inventory/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		TotalItems      int `json:"total_items"`
		TotalStock      int `json:"total_stock"`
		LowStockItems   int `json:"low_stock_items"`
		OutOfStockItems int `json:"out_of_stock_items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 53, stats.TotalStock)
	assert.Equal(t, 2, stats.LowStockItems)
	assert.Equal(t, 1, stats.OutOfStockItems)

	code, env = s.do(t, http.MethodGet, "/api/v1/inventory/alerts", "")
	require.Equal(t, http.StatusOK, code)
	var alerts []struct {
		Type string `json:"alert_type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &alerts))
	require.Len(t, alerts, 2)
	assert.Equal(t, "LOW_STOCK", alerts[0].Type)
	assert.Equal(t, "OUT_OF_STOCK", alerts[1].Type)
}

func TestRecentLimitValidation(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/stock/transactions/recent?limit=1001", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "limit", env.Error.Details[0].Field)

	code, env = s.do(t, http.MethodGet, "/api/v1/stock/transactions/recent", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 100, env.Meta.Limit)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "W-1", 5)

	code, env := s.do(t, http.MethodGet, "/api/v1/admin/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, "sqlite", stats["db_type"])
	assert.Contains(t, stats, "ledger")
	database, ok := stats["database"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "connected", database["status"])
	assert.EqualValues(t, 1, database["total_items"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/admin/cache/clear", "")
	assert.Equal(t, http.StatusOK, code)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyReportsStore(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/ready", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	probes := New(downStore{}, "test", logger.Nop())
	rec := httptest.NewRecorder()
	probes.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready struct {
		Data ReadyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.False(t, ready.Data.Ready)
	assert.Equal(t, "error", ready.Data.Checks[1].Status)

	rec = httptest.NewRecorder()
	probes.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestQuantityCeiling(t *testing.T) {
	s := newTestServer(t)
	id := itoa(int(s.createItem(t, "W-1", 5)))

	code, env := s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"IN","quantity":9223372036854775807}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "quantity", env.Error.Details[0].Field)
	assert.Equal(t, "must be at most 2147483647", env.Error.Details[0].Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/transactions",
		`{"item_id":`+id+`,"transaction_type":"IN","quantity":2147483643}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/inventory",
		`{"walmart_item_id":"W-2","name":"n","category":"c","price":"0.001"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "price", env.Error.Details[0].Field)
}
