package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minhnh/ordersync/internal/metrics"
	"github.com/minhnh/ordersync/internal/storage"
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ProcessFunc triggers an immediate fulfillment attempt for one order.
type ProcessFunc func(ctx context.Context, id types.OrderIdentity) error

// Handler handles HTTP API requests
type Handler struct {
	store     *storage.Store
	processor ProcessFunc
	version   string
}

// NewHandler creates a new API handler. processOne may be nil when no
// processing worker is attached; the retry endpoint then reports 503.
func NewHandler(store *storage.Store, processOne ProcessFunc, version string) *Handler {
	return &Handler{
		store:     store,
		processor: processOne,
		version:   version,
	}
}

// SetupRoutes configures the API routes
func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api/v1")
	{
		api.POST("/orders", handler.IngestOrders)
		api.GET("/orders/:order_id", handler.GetOrderItems)
		api.GET("/orders/:order_id/status", handler.GetOrderStatus)
		api.POST("/orders/:order_id/retry", handler.RetryOrder)
		api.GET("/stats/daily", handler.GetDailyStats)
		api.GET("/unknown-codes", handler.GetUnknownCodes)
	}

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// IngestOrders accepts a batch of order line items for processing. Items
// failing validation are reported individually; the rest are accepted.
func (h *Handler) IngestOrders(c *gin.Context) {
	var req types.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
			Code:    400,
		})
		return
	}

	batchID := uuid.New().String()
	log := logrus.WithField("batch_id", batchID)

	var itemErrors []types.IngestItemError
	accepted := 0
	for _, item := range req.Orders {
		order, err := orderFromIngestItem(item)
		if err == nil {
			err = h.store.UpsertOrder(c.Request.Context(), order)
		}
		if err != nil {
			itemErrors = append(itemErrors, types.IngestItemError{
				OrderID:     item.OrderID,
				ProductCode: item.ProductCode,
				Error:       err.Error(),
			})
			continue
		}
		accepted++
		metrics.OrdersIngested.Inc()
	}

	log.WithFields(logrus.Fields{
		"accepted": accepted,
		"rejected": len(itemErrors),
	}).Info("Ingested order batch")

	c.JSON(http.StatusAccepted, types.IngestResponse{
		BatchID:  batchID,
		Accepted: accepted,
		Errors:   itemErrors,
	})
}

// orderFromIngestItem converts an API item into a store record, inferring
// the sales channel from the order id when the caller omits it: offline
// point-of-sale documents carry ids like "BH123/45".
func orderFromIngestItem(item types.IngestItem) (*types.Order, error) {
	revenue := decimal.Zero
	if item.Revenue != "" {
		var err error
		revenue, err = decimal.NewFromString(item.Revenue)
		if err != nil {
			return nil, errors.Join(storage.ErrValidation, err)
		}
	}

	sourceType := types.SourceType(item.SourceType)
	if item.SourceType == "" {
		sourceType = types.SourceOnline
		if strings.Contains(item.OrderID, "/") {
			sourceType = types.SourceOffline
		}
	}

	return &types.Order{
		OrderIdentity: types.OrderIdentity{
			OrderID:     item.OrderID,
			ProductCode: item.ProductCode,
			IMEI:        item.IMEI,
		},
		DocumentType:   item.DocumentType,
		DocumentNumber: item.DocumentNumber,
		DepartmentCode: item.DepartmentCode,
		OrderDate:      item.OrderDate,
		CustomerName:   item.CustomerName,
		PhoneNumber:    item.PhoneNumber,
		Province:       item.Province,
		District:       item.District,
		Ward:           item.Ward,
		Address:        item.Address,
		ProductName:    item.ProductName,
		Quantity:       item.Quantity,
		Revenue:        revenue,
		SourceType:     sourceType,
		Status:         types.StatusPending,
	}, nil
}

// GetOrderItems returns every line item recorded under an order id.
func (h *Handler) GetOrderItems(c *gin.Context) {
	orderID := c.Param("order_id")

	orders, err := h.store.ListByOrderID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to query orders",
			Message: err.Error(),
			Code:    500,
		})
		return
	}
	if len(orders) == 0 {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "order not found",
			Message: orderID,
			Code:    404,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "items": orders})
}

// GetOrderStatus returns a single line item addressed by its identity triple.
func (h *Handler) GetOrderStatus(c *gin.Context) {
	id := types.OrderIdentity{
		OrderID:     c.Param("order_id"),
		ProductCode: c.Query("product_code"),
		IMEI:        c.Query("imei"),
	}
	if id.ProductCode == "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "product_code query parameter is required",
			Code:    400,
		})
		return
	}

	order, err := h.store.GetOrder(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, types.ErrorResponse{
			Error:   "order not found",
			Message: err.Error(),
			Code:    status,
		})
		return
	}

	c.JSON(http.StatusOK, order)
}

// RetryOrder triggers an immediate fulfillment attempt for one waiting line
// item. Terminal orders are rejected.
func (h *Handler) RetryOrder(c *gin.Context) {
	id := types.OrderIdentity{
		OrderID:     c.Param("order_id"),
		ProductCode: c.Query("product_code"),
		IMEI:        c.Query("imei"),
	}
	if id.ProductCode == "" {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "product_code query parameter is required",
			Code:    400,
		})
		return
	}

	if h.processor == nil {
		c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{
			Error:   "retry unavailable",
			Message: "no processing worker attached",
			Code:    503,
		})
		return
	}

	if err := h.processor(c.Request.Context(), id); err != nil {
		status := http.StatusConflict
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, types.ErrorResponse{
			Error:   "retry failed",
			Message: err.Error(),
			Code:    status,
		})
		return
	}

	order, err := h.store.GetOrder(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to query order",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetDailyStats returns outcome counters for a date range. With no
// parameters it returns today's counters.
func (h *Handler) GetDailyStats(c *gin.Context) {
	today := time.Now().Format("2006-01-02")
	from := c.DefaultQuery("from", today)
	to := c.DefaultQuery("to", from)

	stats, err := h.store.ListDailyStats(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to query daily stats",
			Message: err.Error(),
			Code:    500,
		})
		return
	}
	if stats == nil {
		stats = []*types.DailyStat{}
	}

	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "stats": stats})
}

// GetUnknownCodes returns the unknown-product-code registry, optionally
// filtered to unnotified rows.
func (h *Handler) GetUnknownCodes(c *gin.Context) {
	var codes []types.UnknownCode
	var err error

	switch c.DefaultQuery("notified", "all") {
	case "false":
		codes, err = h.store.ListUnnotifiedCodes(c.Request.Context())
	default:
		codes, err = h.store.ListUnknownCodes(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to query unknown codes",
			Message: err.Error(),
			Code:    500,
		})
		return
	}
	if codes == nil {
		codes = []types.UnknownCode{}
	}

	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	response := types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
	}

	if _, err := h.store.CountByStatus(c.Request.Context(), types.StatusRunning); err != nil {
		response.Status = "degraded"
	}

	c.JSON(http.StatusOK, response)
}
