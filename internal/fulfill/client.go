// Package fulfill talks to the external ERP fulfillment endpoint and
// classifies its responses for the retry state machine.
package fulfill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minhnh/ordersync/internal/retry"
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/sirupsen/logrus"
)

// errPermanent marks attempt errors a retry cannot fix, such as a request
// that cannot even be built. The in-process retry loop stops on these.
var errPermanent = errors.New("permanent fulfillment error")

// Result is the classified outcome of one fulfillment attempt.
type Result struct {
	Class        Class
	StatusCode   int
	ErrorCode    string
	UnknownCodes []string
}

// Client submits order documents to the fulfillment API.
type Client struct {
	url        string
	httpClient *http.Client
	retryCfg   retry.Config
}

// NewClient creates a fulfillment client for the given endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg: retry.Config{
			MaxAttempts: 3,
			Delays:      []time.Duration{2 * time.Second, 5 * time.Second},
			Permanent: func(err error) bool {
				return errors.Is(err, errPermanent)
			},
		},
	}
}

// erpDocument is the upstream ERP's expected payload shape: one master
// record with a detail line per product.
type erpDocument struct {
	Data []struct {
		Master map[string]interface{}   `json:"master"`
		Detail []map[string]interface{} `json:"detail"`
	} `json:"data"`
}

func buildDocument(o *types.Order) *erpDocument {
	doc := &erpDocument{}
	doc.Data = make([]struct {
		Master map[string]interface{}   `json:"master"`
		Detail []map[string]interface{} `json:"detail"`
	}, 1)
	doc.Data[0].Master = map[string]interface{}{
		"maDonHang":    o.OrderID,
		"tenKhachHang": o.CustomerName,
		"soDienThoai":  o.PhoneNumber,
		"maCT":         o.DocumentType,
		"soCT":         o.DocumentNumber,
		"maBoPhan":     o.DepartmentCode,
		"ngayCT":       o.OrderDate,
		"tinhThanh":    o.Province,
		"quanHuyen":    o.District,
		"phuongXa":     o.Ward,
		"diaChi":       o.Address,
	}
	doc.Data[0].Detail = []map[string]interface{}{{
		"maHang":   o.ProductCode,
		"tenHang":  o.ProductName,
		"imei":     o.IMEI,
		"soLuong":  o.Quantity,
		"doanhThu": o.Revenue.String(),
	}}
	return doc
}

// Submit posts the order document and classifies the response. Transport
// errors are retried briefly in-process; if they persist the attempt is
// reported as recoverable so the order re-enters the retry queue.
func (c *Client) Submit(ctx context.Context, order *types.Order) (*Result, error) {
	body, err := json.Marshal(buildDocument(order))
	if err != nil {
		return nil, fmt.Errorf("failed to encode order document: %w", err)
	}

	var result *Result
	err = retry.Do(ctx, c.retryCfg, func() error {
		r, attemptErr := c.attempt(ctx, body)
		if attemptErr != nil {
			return attemptErr
		}
		result = r
		return nil
	})
	if err != nil {
		// Transport never came back; the order stays retryable.
		logrus.WithFields(logrus.Fields{
			"order_id":     order.OrderID,
			"product_code": order.ProductCode,
		}).WithError(err).Warn("Fulfillment endpoint unreachable")
		return &Result{
			Class:     ClassRecoverable,
			ErrorCode: err.Error(),
		}, nil
	}

	return result, nil
}

func (c *Client) attempt(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fulfillment request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Close errors are not critical
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &Result{
		Class:      classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}

	var parsed struct {
		ErrorCode string `json:"errorCode"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &parsed); err == nil {
			result.ErrorCode = parsed.ErrorCode
		}
	}
	if result.ErrorCode == "" && result.Class != ClassSuccess {
		result.ErrorCode = fmt.Sprintf("HTTP %d error", resp.StatusCode)
	}

	if result.Class != ClassSuccess && result.ErrorCode != "" {
		if IsDuplicateDocument(result.ErrorCode) {
			result.Class = ClassDuplicate
		} else {
			result.UnknownCodes = ExtractUnknownCodes(result.ErrorCode)
		}
	}

	return result, nil
}
