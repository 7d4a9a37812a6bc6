package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle status of an order line item.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusNeedsRetry OrderStatus = "needs_retry"
	StatusRunning    OrderStatus = "running"
	StatusCompleted  OrderStatus = "completed"
	StatusFailed     OrderStatus = "failed"
)

// RetryWindow is how long a failed order stays eligible for reprocessing,
// measured from its first failure.
const RetryWindow = 30 * 24 * time.Hour

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsWaiting reports whether a worker may claim an order in this status.
func (s OrderStatus) IsWaiting() bool {
	return s == StatusPending || s == StatusNeedsRetry
}

// Valid reports whether s is a known status value.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusNeedsRetry, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending, StatusNeedsRetry:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusNeedsRetry || next == StatusFailed
	}
	return false
}

// SourceType distinguishes online and offline sales channels.
type SourceType string

const (
	SourceOnline  SourceType = "online"
	SourceOffline SourceType = "offline"
)

// OrderIdentity is the natural key for an order line item. The same order id
// may carry several line items distinguished by product code and IMEI.
type OrderIdentity struct {
	OrderID     string `json:"order_id"`
	ProductCode string `json:"product_code"`
	IMEI        string `json:"imei"`
}

// Order is one order line item as persisted in the record store.
type Order struct {
	OrderIdentity

	DocumentType   string `json:"document_type,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
	DepartmentCode string `json:"department_code,omitempty"`
	OrderDate      string `json:"order_date,omitempty"`

	CustomerName string `json:"customer_name,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	Province     string `json:"province,omitempty"`
	District     string `json:"district,omitempty"`
	Ward         string `json:"ward,omitempty"`
	Address      string `json:"address,omitempty"`

	ProductName string          `json:"product_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`

	SourceType SourceType  `json:"source_type"`
	Status     OrderStatus `json:"status"`
	ErrorCode  string      `json:"error_code,omitempty"`

	FirstFailureTime *time.Time `json:"first_failure_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RetryEligible reports whether the order may still be claimed for a retry
// at the given time. Only needs_retry orders inside the retry window qualify.
func (o *Order) RetryEligible(now time.Time) bool {
	if o.Status != StatusNeedsRetry || o.FirstFailureTime == nil {
		return false
	}
	return now.Sub(*o.FirstFailureTime) <= RetryWindow
}

// IngestItem is one order line item submitted through the ingestion API.
// SourceType may be omitted; it is then inferred from the order id (ids
// containing "/" come from offline point-of-sale documents).
type IngestItem struct {
	OrderID        string `json:"order_id" binding:"required"`
	ProductCode    string `json:"product_code" binding:"required"`
	IMEI           string `json:"imei"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	DepartmentCode string `json:"department_code"`
	OrderDate      string `json:"order_date"`
	CustomerName   string `json:"customer_name"`
	PhoneNumber    string `json:"phone_number"`
	Province       string `json:"province"`
	District       string `json:"district"`
	Ward           string `json:"ward"`
	Address        string `json:"address"`
	ProductName    string `json:"product_name"`
	Quantity       int64  `json:"quantity" binding:"min=0"`
	Revenue        string `json:"revenue"`
	SourceType     string `json:"source_type" binding:"omitempty,oneof=online offline"`
}

// IngestRequest is a batch of order line items.
type IngestRequest struct {
	Orders []IngestItem `json:"orders" binding:"required,min=1,dive"`
}

// IngestItemError reports a per-item validation failure inside a batch.
type IngestItemError struct {
	OrderID     string `json:"order_id"`
	ProductCode string `json:"product_code,omitempty"`
	Error       string `json:"error"`
}

// IngestResponse acknowledges a batch submission.
type IngestResponse struct {
	BatchID  string            `json:"batch_id"`
	Accepted int               `json:"accepted"`
	Errors   []IngestItemError `json:"errors,omitempty"`
}

// DailyStat holds per-day counters of processing outcomes.
type DailyStat struct {
	StatDate       string    `json:"stat_date"`
	CompletedTasks int64     `json:"completed_tasks"`
	FailedTasks    int64     `json:"failed_tasks"`
	LastUpdated    time.Time `json:"last_updated"`
}

// UnknownCode records a product code referenced by an order but missing from
// the upstream catalog. EmailSent only ever moves from false to true.
type UnknownCode struct {
	ProductCode string    `json:"product_code"`
	OrderID     string    `json:"order_id"`
	DetectedAt  time.Time `json:"detected_at"`
	EmailSent   bool      `json:"email_sent"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
