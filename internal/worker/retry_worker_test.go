package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/minhnh/ordersync/internal/fulfill"
	"github.com/minhnh/ordersync/internal/storage"
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFulfiller returns canned results keyed by product code.
type fakeFulfiller struct {
	mu      sync.Mutex
	results map[string]*fulfill.Result
	calls   []string
}

func (f *fakeFulfiller) Submit(_ context.Context, order *types.Order) (*fulfill.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, order.ProductCode)
	if r, ok := f.results[order.ProductCode]; ok {
		return r, nil
	}
	return &fulfill.Result{Class: fulfill.ClassSuccess, StatusCode: 200}, nil
}

func (f *fakeFulfiller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newWorkerTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close() // Ignore error in test
	})
	return store
}

func seedOrder(t *testing.T, store *storage.Store, orderID, productCode string) types.OrderIdentity {
	t.Helper()
	order := &types.Order{
		OrderIdentity: types.OrderIdentity{
			OrderID:     orderID,
			ProductCode: productCode,
			IMEI:        "IMEI-" + productCode,
		},
		Quantity:   1,
		Revenue:    decimal.NewFromInt(100),
		SourceType: types.SourceOnline,
		Status:     types.StatusPending,
	}
	require.NoError(t, store.UpsertOrder(context.Background(), order))
	return order.OrderIdentity
}

func TestProcessBatch_CompletesPendingOrder(t *testing.T) {
	store := newWorkerTestStore(t)
	id := seedOrder(t, store, "ORD-1", "SKU-X")

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))

	order, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, order.Status)
	assert.Equal(t, 1, fulfiller.callCount())
}

func TestProcessBatch_RecoverableFailureQueuesRetry(t *testing.T) {
	store := newWorkerTestStore(t)
	id := seedOrder(t, store, "ORD-1", "SKU-X")

	fulfiller := &fakeFulfiller{results: map[string]*fulfill.Result{
		"SKU-X": {
			Class:        fulfill.ClassRecoverable,
			StatusCode:   400,
			ErrorCode:    "Mã hàng SKU-X không tồn tại trong hệ thống",
			UnknownCodes: []string{"SKU-X"},
		},
	}}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))

	order, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsRetry, order.Status)
	require.NotNil(t, order.FirstFailureTime)

	codes, err := store.ListUnnotifiedCodes(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "SKU-X", codes[0].ProductCode)
}

func TestProcessBatch_PermanentFailure(t *testing.T) {
	store := newWorkerTestStore(t)
	id := seedOrder(t, store, "ORD-1", "SKU-X")

	fulfiller := &fakeFulfiller{results: map[string]*fulfill.Result{
		"SKU-X": {Class: fulfill.ClassPermanent, StatusCode: 422, ErrorCode: "HTTP 422 error"},
	}}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))

	order, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, order.Status)
	assert.Equal(t, "HTTP 422 error", order.ErrorCode)
}

func TestProcessBatch_DuplicateCountsAsCompleted(t *testing.T) {
	store := newWorkerTestStore(t)
	id := seedOrder(t, store, "ORD-1", "SKU-X")

	fulfiller := &fakeFulfiller{results: map[string]*fulfill.Result{
		"SKU-X": {Class: fulfill.ClassDuplicate, StatusCode: 400, ErrorCode: "Chứng từ ORD-1 đã nhập."},
	}}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))

	order, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, order.Status)
}

func TestProcessBatch_PicksUpRetryEligible(t *testing.T) {
	store := newWorkerTestStore(t)

	recent := time.Now().Add(-24 * time.Hour)
	order := &types.Order{
		OrderIdentity: types.OrderIdentity{OrderID: "ORD-1", ProductCode: "SKU-X", IMEI: "IMEI-1"},
		Quantity:      1,
		Revenue:       decimal.NewFromInt(100),
		SourceType:    types.SourceOnline,
		Status:        types.StatusNeedsRetry,
	}
	order.FirstFailureTime = &recent
	require.NoError(t, store.UpsertOrder(context.Background(), order))

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))

	got, err := store.GetOrder(context.Background(), order.OrderIdentity)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
}

func TestProcessBatch_ExpiresStaleBeforeProcessing(t *testing.T) {
	store := newWorkerTestStore(t)

	old := time.Now().Add(-36 * 24 * time.Hour)
	order := &types.Order{
		OrderIdentity: types.OrderIdentity{OrderID: "ORD-stale", ProductCode: "SKU-X", IMEI: "IMEI-1"},
		Quantity:      1,
		Revenue:       decimal.NewFromInt(100),
		SourceType:    types.SourceOnline,
		Status:        types.StatusNeedsRetry,
	}
	order.FirstFailureTime = &old
	require.NoError(t, store.UpsertOrder(context.Background(), order))

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))

	got, err := store.GetOrder(context.Background(), order.OrderIdentity)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, 0, fulfiller.callCount(), "expired orders are never submitted")
}

func TestProcessBatch_EmptyQueue(t *testing.T) {
	store := newWorkerTestStore(t)
	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))
	assert.Equal(t, 0, fulfiller.callCount())
}

func TestProcessBatch_ProcessesMultipleOrders(t *testing.T) {
	store := newWorkerTestStore(t)
	for _, code := range []string{"SKU-A", "SKU-B", "SKU-C"} {
		seedOrder(t, store, "ORD-1", code)
	}

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessBatch(context.Background()))
	assert.Equal(t, 3, fulfiller.callCount())

	count, err := store.CountByStatus(context.Background(), types.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestProcessOne(t *testing.T) {
	store := newWorkerTestStore(t)
	id := seedOrder(t, store, "ORD-1", "SKU-X")

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	require.NoError(t, w.ProcessOne(context.Background(), id))

	order, err := store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, order.Status)
}

func TestProcessOne_RejectsTerminalOrder(t *testing.T) {
	store := newWorkerTestStore(t)
	id := seedOrder(t, store, "ORD-1", "SKU-X")

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)
	require.NoError(t, w.ProcessOne(context.Background(), id))

	err := w.ProcessOne(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be retried")
	assert.Equal(t, 1, fulfiller.callCount())
}

func TestProcessOne_RejectsWindowExpiredOrder(t *testing.T) {
	store := newWorkerTestStore(t)

	old := time.Now().Add(-36 * 24 * time.Hour)
	order := &types.Order{
		OrderIdentity: types.OrderIdentity{OrderID: "ORD-stale", ProductCode: "SKU-X", IMEI: "IMEI-1"},
		Quantity:      1,
		Revenue:       decimal.NewFromInt(100),
		SourceType:    types.SourceOnline,
		Status:        types.StatusNeedsRetry,
	}
	order.FirstFailureTime = &old
	require.NoError(t, store.UpsertOrder(context.Background(), order))

	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	err := w.ProcessOne(context.Background(), order.OrderIdentity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded the retry window")
	assert.Equal(t, 0, fulfiller.callCount())

	// The order is expired, not left waiting.
	got, gerr := store.GetOrder(context.Background(), order.OrderIdentity)
	require.NoError(t, gerr)
	assert.Equal(t, types.StatusFailed, got.Status)
}

func TestProcessOne_MissingOrder(t *testing.T) {
	store := newWorkerTestStore(t)
	fulfiller := &fakeFulfiller{}
	w := NewRetryWorker(store, fulfiller, time.Minute, 10, 2)

	err := w.ProcessOne(context.Background(), types.OrderIdentity{
		OrderID: "missing", ProductCode: "SKU-X", IMEI: "IMEI-1",
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
