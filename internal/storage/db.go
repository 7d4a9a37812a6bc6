package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sentinel errors returned by Store operations.
var (
	// ErrNotFound indicates no order exists for the given identity triple.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyClaimed indicates another worker moved the order out of a
	// waiting status first. Callers must skip the order, not retry the claim.
	ErrAlreadyClaimed = errors.New("order already claimed")
	// ErrValidation indicates the order record was rejected at write time.
	ErrValidation = errors.New("invalid order")
)

// Outcome is a processing outcome recorded in the daily counters.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Store provides SQLite-based order persistence
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore initializes a new SQLite store. WAL mode and a busy timeout are
// enabled through DSN options so concurrent workers serialize cleanly.
func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database connection after init error")
		}
		return nil, err
	}

	logrus.WithField("db_path", dbPath).Info("Initialized order record store")
	return store, nil
}

// initSchema applies all pending migrations
func (s *Store) initSchema() error {
	currentVersion := 0
	row := s.db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	_ = row.Scan(&currentVersion) // Ignore error - schema_version table may not exist yet

	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.WithField("version", migration.Version).Info("Applying schema migration")

		if _, err := s.db.ExecContext(context.Background(), migration.SQL); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", migration.Version, err)
		}

		if _, err := s.db.ExecContext(context.Background(),
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			migration.Version,
			time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", migration.Version, err)
		}

		currentVersion = migration.Version
	}

	return nil
}

// validateOrder rejects malformed records before they reach the database.
func validateOrder(o *types.Order) error {
	if o.OrderID == "" || o.ProductCode == "" {
		return fmt.Errorf("%w: order_id and product_code are required", ErrValidation)
	}
	if o.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}
	if o.Revenue.IsNegative() {
		return fmt.Errorf("%w: revenue must not be negative", ErrValidation)
	}
	if o.SourceType != types.SourceOnline && o.SourceType != types.SourceOffline {
		return fmt.Errorf("%w: unknown source_type %q", ErrValidation, o.SourceType)
	}
	if o.Status != "" && !o.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, o.Status)
	}
	if o.Status != "" && !o.Status.IsWaiting() {
		return fmt.Errorf("%w: ingested orders must be pending or needs_retry, got %q", ErrValidation, o.Status)
	}
	return nil
}

// UpsertOrder inserts a new order line item or merges onto the existing row
// with the same identity triple. Merging overwrites the mutable fields; the
// submitted waiting status is only applied when the row is itself waiting.
// Terminal rows never regress and a running row keeps its claim.
func (s *Store) UpsertOrder(ctx context.Context, o *types.Order) error {
	if o.Status == "" {
		o.Status = types.StatusPending
	}
	if err := validateOrder(o); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	now := time.Now()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM orders WHERE order_id = ? AND product_code = ? AND imei = ?",
		o.OrderID, o.ProductCode, o.IMEI,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check order existence: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO orders
			 (order_id, document_type, document_number, department_code, order_date,
			  customer_name, phone_number, province, district, ward, address,
			  product_code, product_name, imei, quantity, revenue, source_type,
			  status, error_code, first_failure_time, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.OrderID, o.DocumentType, o.DocumentNumber, o.DepartmentCode, o.OrderDate,
			o.CustomerName, o.PhoneNumber, o.Province, o.District, o.Ward, o.Address,
			o.ProductCode, o.ProductName, o.IMEI, o.Quantity, o.Revenue.String(), string(o.SourceType),
			string(o.Status), o.ErrorCode, timeToUnixPtr(o.FirstFailureTime), now.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
	} else {
		// Merge onto the existing row. Only waiting rows take the submitted
		// status: terminal rows stay terminal, and a running row stays
		// running so the worker that claimed it keeps exclusive ownership.
		// first_failure_time is never touched here.
		status := string(o.Status)
		if !types.OrderStatus(current).IsWaiting() {
			status = current
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET document_type = ?, document_number = ?, department_code = ?, order_date = ?,
			     customer_name = ?, phone_number = ?, province = ?, district = ?, ward = ?,
			     address = ?, product_name = ?, quantity = ?, revenue = ?, source_type = ?,
			     status = ?, updated_at = ?
			 WHERE order_id = ? AND product_code = ? AND imei = ?`,
			o.DocumentType, o.DocumentNumber, o.DepartmentCode, o.OrderDate,
			o.CustomerName, o.PhoneNumber, o.Province, o.District, o.Ward,
			o.Address, o.ProductName, o.Quantity, o.Revenue.String(), string(o.SourceType),
			status, now.Unix(),
			o.OrderID, o.ProductCode, o.IMEI,
		)
		if err != nil {
			return fmt.Errorf("failed to merge order: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

const orderColumns = `order_id, document_type, document_number, department_code, order_date,
	customer_name, phone_number, province, district, ward, address,
	product_code, product_name, imei, quantity, revenue, source_type,
	status, error_code, first_failure_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*types.Order, error) {
	o := &types.Order{}
	var revenue, sourceType, status string
	var firstFailureUnix *int64
	var createdAtUnix, updatedAtUnix int64

	err := row.Scan(
		&o.OrderID, &o.DocumentType, &o.DocumentNumber, &o.DepartmentCode, &o.OrderDate,
		&o.CustomerName, &o.PhoneNumber, &o.Province, &o.District, &o.Ward, &o.Address,
		&o.ProductCode, &o.ProductName, &o.IMEI, &o.Quantity, &revenue, &sourceType,
		&status, &o.ErrorCode, &firstFailureUnix, &createdAtUnix, &updatedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	o.Revenue, err = decimal.NewFromString(revenue)
	if err != nil {
		return nil, fmt.Errorf("failed to parse revenue %q: %w", revenue, err)
	}
	o.SourceType = types.SourceType(sourceType)
	o.Status = types.OrderStatus(status)
	if firstFailureUnix != nil {
		t := time.Unix(*firstFailureUnix, 0)
		o.FirstFailureTime = &t
	}
	o.CreatedAt = time.Unix(createdAtUnix, 0)
	o.UpdatedAt = time.Unix(updatedAtUnix, 0)
	return o, nil
}

// GetOrder retrieves a single order line item by its identity triple.
func (s *Store) GetOrder(ctx context.Context, id types.OrderIdentity) (*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_id = ? AND product_code = ? AND imei = ?",
		id.OrderID, id.ProductCode, id.IMEI,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, id.OrderID, id.ProductCode, id.IMEI)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return o, nil
}

// ListByOrderID returns every line item recorded under an order id.
func (s *Store) ListByOrderID(ctx context.Context, orderID string) ([]*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_id = ? ORDER BY product_code, imei",
		orderID)
}

// ListPending returns up to limit orders waiting for their first attempt.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = ? ORDER BY updated_at ASC LIMIT ?",
		string(types.StatusPending), limit)
}

// ListEligibleForRetry returns up to limit needs_retry orders whose first
// failure is still inside the retry window at the given time.
func (s *Store) ListEligibleForRetry(ctx context.Context, now time.Time, limit int) ([]*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(-types.RetryWindow).Unix()
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = ? AND first_failure_time IS NOT NULL AND first_failure_time >= ?
		 ORDER BY updated_at ASC LIMIT ?`,
		string(types.StatusNeedsRetry), cutoff, limit)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*types.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var orders []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// ClaimOrder atomically transitions a waiting order to running. The claim is
// a compare-and-set on the current status: when the row was already moved by
// another worker the claim fails with ErrAlreadyClaimed and the caller skips.
func (s *Store) ClaimOrder(ctx context.Context, id types.OrderIdentity, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ?
		 WHERE order_id = ? AND product_code = ? AND imei = ? AND status IN (?, ?)`,
		string(types.StatusRunning), now.Unix(),
		id.OrderID, id.ProductCode, id.IMEI,
		string(types.StatusPending), string(types.StatusNeedsRetry),
	)
	if err != nil {
		return fmt.Errorf("failed to claim order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// MarkCompleted transitions a running order to terminal completed, increments
// the day's completed counter, and clears the product code from the
// unknown-code registry — the upstream system evidently knows it now.
// Re-marking an already terminal order is an idempotent no-op.
func (s *Store) MarkCompleted(ctx context.Context, id types.OrderIdentity, now time.Time) error {
	return s.finishOrder(ctx, id, now, func(tx *sql.Tx) (bool, error) {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, error_code = '', updated_at = ?
			 WHERE order_id = ? AND product_code = ? AND imei = ? AND status = ?`,
			string(types.StatusCompleted), now.Unix(),
			id.OrderID, id.ProductCode, id.IMEI, string(types.StatusRunning),
		)
		if err != nil {
			return false, fmt.Errorf("failed to complete order: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return false, nil
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM non_existing_codes WHERE product_code = ?", id.ProductCode,
		); err != nil {
			return false, fmt.Errorf("failed to resolve unknown code: %w", err)
		}

		if err := incrementDailyStatTx(ctx, tx, dateOf(now), OutcomeCompleted, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// MarkRetryable records a recoverable failure: status moves to needs_retry,
// the opaque error code is stored, first_failure_time is set once and never
// overwritten, the day's failed counter is incremented, and any product codes
// the upstream rejected as unknown are registered — all in one transaction.
func (s *Store) MarkRetryable(ctx context.Context, id types.OrderIdentity, errorCode string, unknownCodes []string, now time.Time) error {
	return s.finishOrder(ctx, id, now, func(tx *sql.Tx) (bool, error) {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = ?, error_code = ?,
			     first_failure_time = COALESCE(first_failure_time, ?),
			     updated_at = ?
			 WHERE order_id = ? AND product_code = ? AND imei = ? AND status = ?`,
			string(types.StatusNeedsRetry), errorCode, now.Unix(), now.Unix(),
			id.OrderID, id.ProductCode, id.IMEI, string(types.StatusRunning),
		)
		if err != nil {
			return false, fmt.Errorf("failed to mark order retryable: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return false, nil
		}

		for _, code := range unknownCodes {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO non_existing_codes (product_code, order_id, detected_at, email_sent)
				 VALUES (?, ?, ?, 0)`,
				code, id.OrderID, now.Unix(),
			); err != nil {
				return false, fmt.Errorf("failed to record unknown code %s: %w", code, err)
			}
		}

		if err := incrementDailyStatTx(ctx, tx, dateOf(now), OutcomeFailed, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// MarkFailed transitions a running order to terminal failed after an
// unrecoverable error and increments the day's failed counter.
func (s *Store) MarkFailed(ctx context.Context, id types.OrderIdentity, errorCode string, now time.Time) error {
	return s.finishOrder(ctx, id, now, func(tx *sql.Tx) (bool, error) {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = ?, error_code = ?,
			     first_failure_time = COALESCE(first_failure_time, ?),
			     updated_at = ?
			 WHERE order_id = ? AND product_code = ? AND imei = ? AND status = ?`,
			string(types.StatusFailed), errorCode, now.Unix(), now.Unix(),
			id.OrderID, id.ProductCode, id.IMEI, string(types.StatusRunning),
		)
		if err != nil {
			return false, fmt.Errorf("failed to mark order failed: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return false, nil
		}

		if err := incrementDailyStatTx(ctx, tx, dateOf(now), OutcomeFailed, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// finishOrder runs an outcome transition inside a transaction. When the
// conditional update touched no row the order is either already terminal
// (idempotent no-op) or missing entirely.
func (s *Store) finishOrder(ctx context.Context, id types.OrderIdentity, now time.Time, fn func(tx *sql.Tx) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	updated, err := fn(tx)
	if err != nil {
		return err
	}

	if !updated {
		var current string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM orders WHERE order_id = ? AND product_code = ? AND imei = ?",
			id.OrderID, id.ProductCode, id.IMEI,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, id.OrderID, id.ProductCode, id.IMEI)
		}
		if err != nil {
			return fmt.Errorf("failed to check order status: %w", err)
		}
		if types.OrderStatus(current).IsTerminal() {
			return nil
		}
		return fmt.Errorf("order %s/%s/%s is %s, not running", id.OrderID, id.ProductCode, id.IMEI, current)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// ExpireStaleFailures moves needs_retry orders whose first failure fell out
// of the retry window to terminal failed. Returns the number of orders
// expired. Runs as a single conditional update so concurrent sweeps are safe.
func (s *Store) ExpireStaleFailures(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-types.RetryWindow).Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ?
		 WHERE status = ? AND first_failure_time IS NOT NULL AND first_failure_time < ?`,
		string(types.StatusFailed), now.Unix(),
		string(types.StatusNeedsRetry), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale failures: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if expired > 0 {
		logrus.WithField("expired_count", expired).Info("Expired orders past the retry window")
	}
	return expired, nil
}

// RequeueOrphanedRunning returns orders left running by a crashed worker to
// needs_retry (called at startup). first_failure_time stays set-once.
func (s *Store) RequeueOrphanedRunning(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, error_code = ?,
		     first_failure_time = COALESCE(first_failure_time, ?),
		     updated_at = ?
		 WHERE status = ?`,
		string(types.StatusNeedsRetry),
		"daemon restarted while order in flight",
		now, now,
		string(types.StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphaned orders: %w", err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return requeued, nil
}

// PurgeTerminal deletes completed/failed orders older than the given
// duration (optional maintenance; nothing schedules it by default).
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM orders WHERE status IN (?, ?) AND updated_at < ?`,
		string(types.StatusCompleted), string(types.StatusFailed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal orders: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if deleted > 0 {
		logrus.WithField("deleted_count", deleted).Debug("Purged old terminal orders")
	}
	return deleted, nil
}

// CountByStatus returns the number of orders with a given status.
func (s *Store) CountByStatus(ctx context.Context, status types.OrderStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE status = ?", string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// IncrementDailyStat atomically bumps one outcome counter for a date,
// creating the row on first use. The increment happens inside the database
// (upsert-with-increment), never as application-level read-modify-write.
func (s *Store) IncrementDailyStat(ctx context.Context, date string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	if err := incrementDailyStatTx(ctx, tx, date, outcome, time.Now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func incrementDailyStatTx(ctx context.Context, tx *sql.Tx, date string, outcome Outcome, now time.Time) error {
	var query string
	switch outcome {
	case OutcomeCompleted:
		query = `INSERT INTO daily_task_stats (stat_date, completed_tasks, failed_tasks, last_updated)
			 VALUES (?, 1, 0, ?)
			 ON CONFLICT(stat_date) DO UPDATE SET
			     completed_tasks = completed_tasks + 1,
			     last_updated = ?`
	case OutcomeFailed:
		query = `INSERT INTO daily_task_stats (stat_date, completed_tasks, failed_tasks, last_updated)
			 VALUES (?, 0, 1, ?)
			 ON CONFLICT(stat_date) DO UPDATE SET
			     failed_tasks = failed_tasks + 1,
			     last_updated = ?`
	default:
		return fmt.Errorf("unknown outcome %q", outcome)
	}

	if _, err := tx.ExecContext(ctx, query, date, now.Unix(), now.Unix()); err != nil {
		return fmt.Errorf("failed to update daily stats: %w", err)
	}
	return nil
}

// GetDailyStat returns the counters for one date, or zero counters if the
// date has no row yet.
func (s *Store) GetDailyStat(ctx context.Context, date string) (*types.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stat := &types.DailyStat{StatDate: date}
	var lastUpdatedUnix int64
	err := s.db.QueryRowContext(ctx,
		"SELECT completed_tasks, failed_tasks, last_updated FROM daily_task_stats WHERE stat_date = ?",
		date,
	).Scan(&stat.CompletedTasks, &stat.FailedTasks, &lastUpdatedUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return stat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	stat.LastUpdated = time.Unix(lastUpdatedUnix, 0)
	return stat, nil
}

// ListDailyStats returns the counters for a date range, inclusive on both
// ends. Dates are ISO strings (YYYY-MM-DD) so lexical comparison is correct.
func (s *Store) ListDailyStats(ctx context.Context, from, to string) ([]*types.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT stat_date, completed_tasks, failed_tasks, last_updated
		 FROM daily_task_stats
		 WHERE stat_date >= ? AND stat_date <= ?
		 ORDER BY stat_date ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var stats []*types.DailyStat
	for rows.Next() {
		stat := &types.DailyStat{}
		var lastUpdatedUnix int64
		if err := rows.Scan(&stat.StatDate, &stat.CompletedTasks, &stat.FailedTasks, &lastUpdatedUnix); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stat.LastUpdated = time.Unix(lastUpdatedUnix, 0)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily stats: %w", err)
	}
	return stats, nil
}

// RecordUnknownCode registers a (product_code, order_id) pair once. Returns
// true when a new row was inserted, false when the pair was already present.
func (s *Store) RecordUnknownCode(ctx context.Context, productCode, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO non_existing_codes (product_code, order_id, detected_at, email_sent)
		 VALUES (?, ?, ?, 0)`,
		productCode, orderID, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record unknown code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// ListUnnotifiedCodes returns every registered code pair that has not been
// included in a notification yet.
func (s *Store) ListUnnotifiedCodes(ctx context.Context) ([]types.UnknownCode, error) {
	return s.listUnknownCodes(ctx,
		`SELECT product_code, order_id, detected_at, email_sent
		 FROM non_existing_codes WHERE email_sent = 0
		 ORDER BY detected_at ASC`)
}

// ListUnknownCodes returns the full registry.
func (s *Store) ListUnknownCodes(ctx context.Context) ([]types.UnknownCode, error) {
	return s.listUnknownCodes(ctx,
		`SELECT product_code, order_id, detected_at, email_sent
		 FROM non_existing_codes
		 ORDER BY detected_at ASC`)
}

func (s *Store) listUnknownCodes(ctx context.Context, query string) ([]types.UnknownCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unknown codes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var codes []types.UnknownCode
	for rows.Next() {
		var code types.UnknownCode
		var detectedAtUnix int64
		var emailSent int
		if err := rows.Scan(&code.ProductCode, &code.OrderID, &detectedAtUnix, &emailSent); err != nil {
			return nil, fmt.Errorf("failed to scan unknown code: %w", err)
		}
		code.DetectedAt = time.Unix(detectedAtUnix, 0)
		code.EmailSent = emailSent != 0
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unknown codes: %w", err)
	}
	return codes, nil
}

// MarkCodesNotified flips email_sent to true for the given pairs. The flag is
// monotonic: there is no operation that sets it back.
func (s *Store) MarkCodesNotified(ctx context.Context, codes []types.UnknownCode) error {
	if len(codes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	for _, code := range codes {
		if _, err := tx.ExecContext(ctx,
			"UPDATE non_existing_codes SET email_sent = 1 WHERE product_code = ? AND order_id = ?",
			code.ProductCode, code.OrderID,
		); err != nil {
			return fmt.Errorf("failed to mark code notified: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}

// Helper functions

// dateOf formats a time as the ISO date used for daily stat keys.
func dateOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// timeToUnixPtr converts a time pointer to Unix timestamp pointer
func timeToUnixPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
