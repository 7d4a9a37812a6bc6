package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minhnh/ordersync/internal/storage"
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T, processOne ProcessFunc) (*gin.Engine, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close() // Ignore error in test
	})

	router := gin.New()
	SetupRoutes(router, NewHandler(store, processOne, "test"))
	return router, store
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func testIngestItem(orderID, productCode string) types.IngestItem {
	return types.IngestItem{
		OrderID:     orderID,
		ProductCode: productCode,
		IMEI:        "IMEI-" + productCode,
		Quantity:    1,
		Revenue:     "1500000",
		SourceType:  "online",
	}
}

func TestIngestOrders(t *testing.T) {
	router, store := setupTestRouter(t, nil)

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{
			testIngestItem("ORD-1", "SKU-A"),
			testIngestItem("ORD-1", "SKU-B"),
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp types.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 2, resp.Accepted)
	assert.Empty(t, resp.Errors)

	items, err := store.ListByOrderID(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestIngestOrders_PartialRejection(t *testing.T) {
	router, store := setupTestRouter(t, nil)

	bad := testIngestItem("ORD-1", "SKU-B")
	bad.Revenue = "not-a-number"

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{testIngestItem("ORD-1", "SKU-A"), bad},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp types.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "SKU-B", resp.Errors[0].ProductCode)

	items, err := store.ListByOrderID(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestIngestOrders_RejectsNegativeQuantity(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	item := testIngestItem("ORD-1", "SKU-A")
	item.Quantity = -1

	// The binding layer rejects the whole batch.
	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{item},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestOrders_EmptyBatch(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestOrders_InfersSourceType(t *testing.T) {
	router, store := setupTestRouter(t, nil)

	offline := testIngestItem("BH123/45", "SKU-A")
	offline.SourceType = ""
	online := testIngestItem("SO-2024-001", "SKU-A")
	online.SourceType = ""

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{offline, online},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	got, err := store.GetOrder(context.Background(), types.OrderIdentity{
		OrderID: "BH123/45", ProductCode: "SKU-A", IMEI: "IMEI-SKU-A",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceOffline, got.SourceType)

	got, err = store.GetOrder(context.Background(), types.OrderIdentity{
		OrderID: "SO-2024-001", ProductCode: "SKU-A", IMEI: "IMEI-SKU-A",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceOnline, got.SourceType)
}

func TestGetOrderItems(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{testIngestItem("ORD-1", "SKU-A")},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = get(router, "/api/v1/orders/ORD-1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OrderID string         `json:"order_id"`
		Items   []*types.Order `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ORD-1", resp.OrderID)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, types.StatusPending, resp.Items[0].Status)
}

func TestGetOrderItems_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := get(router, "/api/v1/orders/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrderStatus(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{testIngestItem("ORD-1", "SKU-A")},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = get(router, "/api/v1/orders/ORD-1/status?product_code=SKU-A&imei=IMEI-SKU-A")
	require.Equal(t, http.StatusOK, w.Code)

	var order types.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, types.StatusPending, order.Status)

	w = get(router, "/api/v1/orders/ORD-1/status?product_code=SKU-B")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(router, "/api/v1/orders/ORD-1/status")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryOrder(t *testing.T) {
	var processed []types.OrderIdentity
	processOne := func(ctx context.Context, id types.OrderIdentity) error {
		processed = append(processed, id)
		return nil
	}
	router, _ := setupTestRouter(t, processOne)

	w := postJSON(t, router, "/api/v1/orders", types.IngestRequest{
		Orders: []types.IngestItem{testIngestItem("ORD-1", "SKU-A")},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = postJSON(t, router, "/api/v1/orders/ORD-1/retry?product_code=SKU-A&imei=IMEI-SKU-A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, processed, 1)
	assert.Equal(t, "SKU-A", processed[0].ProductCode)
}

func TestRetryOrder_ProcessorErrors(t *testing.T) {
	processOne := func(ctx context.Context, id types.OrderIdentity) error {
		return fmt.Errorf("order is completed: %w", errAlreadyDone)
	}
	router, _ := setupTestRouter(t, processOne)

	w := postJSON(t, router, "/api/v1/orders/ORD-1/retry?product_code=SKU-A", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

var errAlreadyDone = fmt.Errorf("already terminal")

func TestRetryOrder_NoWorkerAttached(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := postJSON(t, router, "/api/v1/orders/ORD-1/retry?product_code=SKU-A", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetDailyStats(t *testing.T) {
	router, store := setupTestRouter(t, nil)

	require.NoError(t, store.IncrementDailyStat(context.Background(), "2024-01-01", storage.OutcomeCompleted))
	require.NoError(t, store.IncrementDailyStat(context.Background(), "2024-01-01", storage.OutcomeFailed))
	require.NoError(t, store.IncrementDailyStat(context.Background(), "2024-01-02", storage.OutcomeCompleted))

	w := get(router, "/api/v1/stats/daily?from=2024-01-01&to=2024-01-31")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		From  string             `json:"from"`
		To    string             `json:"to"`
		Stats []*types.DailyStat `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Stats, 2)
	assert.Equal(t, int64(1), resp.Stats[0].CompletedTasks)
	assert.Equal(t, int64(1), resp.Stats[0].FailedTasks)
}

func TestGetDailyStats_DefaultsToToday(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := get(router, "/api/v1/stats/daily")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		From  string             `json:"from"`
		To    string             `json:"to"`
		Stats []*types.DailyStat `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, time.Now().Format("2006-01-02"), resp.From)
	assert.NotNil(t, resp.Stats)
}

func TestGetUnknownCodes(t *testing.T) {
	router, store := setupTestRouter(t, nil)

	_, err := store.RecordUnknownCode(context.Background(), "SKU-A", "ORD-1")
	require.NoError(t, err)
	_, err = store.RecordUnknownCode(context.Background(), "SKU-B", "ORD-2")
	require.NoError(t, err)

	codes, err := store.ListUnnotifiedCodes(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.MarkCodesNotified(context.Background(), codes[:1]))

	w := get(router, "/api/v1/unknown-codes")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Codes []types.UnknownCode `json:"codes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Codes, 2)

	w = get(router, "/api/v1/unknown-codes?notified=false")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Codes, 1)
	assert.Equal(t, "SKU-B", resp.Codes[0].ProductCode)
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t, nil)

	w := get(router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}
