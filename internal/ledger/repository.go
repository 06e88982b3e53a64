package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists ledger rows and balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations movement posting needs.
// Other modules compose it over their own transaction via NewTxRepository
// so a document submit and its ledger rows commit or roll back together.
type TxRepository interface {
	GetWarehouseLock(ctx context.Context, warehouseID int64) (WarehouseLock, bool, error)
	GetBalanceForUpdate(ctx context.Context, itemCode string, warehouseID int64) (Balance, error)
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	UpsertBalance(ctx context.Context, balance Balance) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction in a TxRepository.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetBalance returns the balance row for (item, warehouse).
func (r *Repository) GetBalance(ctx context.Context, itemCode string, warehouseID int64) (Balance, error) {
	var bal Balance
	var lastReceipt, lastIssue *time.Time
	err := r.pool.QueryRow(ctx, `SELECT item_code, warehouse_id, current_qty, reserved_qty, valuation_rate, last_receipt_at, last_issue_at, is_locked, COALESCE(lock_reason, ''), updated_at
FROM stock_balance WHERE item_code=$1 AND warehouse_id=$2`, itemCode, warehouseID).
		Scan(&bal.ItemCode, &bal.WarehouseID, &bal.CurrentQty, &bal.ReservedQty, &bal.ValuationRate, &lastReceipt, &lastIssue, &bal.Locked, &bal.LockReason, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	if lastReceipt != nil {
		bal.LastReceiptAt = *lastReceipt
	}
	if lastIssue != nil {
		bal.LastIssueAt = *lastIssue
	}
	return bal, nil
}

// MovementHistory lists ledger rows for an item/warehouse, newest first.
func (r *Repository) MovementHistory(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_code, warehouse_id, transaction_at, transaction_type, qty_in, qty_out, valuation_rate, ref_doctype, ref_name, COALESCE(batch_id, 0), created_by, created_at
FROM stock_ledger
WHERE item_code=$1 AND warehouse_id=$2
ORDER BY transaction_at DESC, id DESC
LIMIT $3`, filter.ItemCode, filter.WarehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesForReference lists ledger rows created by one document.
func (r *Repository) EntriesForReference(ctx context.Context, refDoctype, refName string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_code, warehouse_id, transaction_at, transaction_type, qty_in, qty_out, valuation_rate, ref_doctype, ref_name, COALESCE(batch_id, 0), created_by, created_at
FROM stock_ledger
WHERE ref_doctype=$1 AND ref_name=$2
ORDER BY id ASC`, refDoctype, refName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesForBatch lists every ledger row referencing the batch id.
func (r *Repository) EntriesForBatch(ctx context.Context, batchID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_code, warehouse_id, transaction_at, transaction_type, qty_in, qty_out, valuation_rate, ref_doctype, ref_name, COALESCE(batch_id, 0), created_by, created_at
FROM stock_ledger
WHERE batch_id=$1
ORDER BY transaction_at DESC, id DESC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// LowStock lists balances at or below the reorder level, most depleted first.
func (r *Repository) LowStock(ctx context.Context, filter LowStockFilter) ([]Balance, error) {
	query := `SELECT item_code, warehouse_id, current_qty, reserved_qty, valuation_rate, is_locked, COALESCE(lock_reason, ''), updated_at
FROM stock_balance
WHERE (current_qty - reserved_qty) <= $1`
	args := []any{filter.ReorderLevel}
	if filter.WarehouseID != 0 {
		query += ` AND warehouse_id = $2`
		args = append(args, filter.WarehouseID)
	}
	query += ` ORDER BY (current_qty - reserved_qty) ASC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.ItemCode, &bal.WarehouseID, &bal.CurrentQty, &bal.ReservedQty, &bal.ValuationRate, &bal.Locked, &bal.LockReason, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// ValuationSummary aggregates quantity and value per warehouse.
func (r *Repository) ValuationSummary(ctx context.Context) ([]ValuationSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, COUNT(DISTINCT item_code), COALESCE(SUM(current_qty), 0), COALESCE(SUM(current_qty * valuation_rate), 0)
FROM stock_balance
GROUP BY warehouse_id
ORDER BY 4 DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	summaries := []ValuationSummary{}
	for rows.Next() {
		var s ValuationSummary
		if err := rows.Scan(&s.WarehouseID, &s.TotalItems, &s.TotalQty, &s.TotalValue); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// DailyConsumption aggregates ledger activity per day and transaction type.
func (r *Repository) DailyConsumption(ctx context.Context, filter ConsumptionFilter) ([]ConsumptionRow, error) {
	query := `SELECT DATE(transaction_at), transaction_type, COUNT(*), COALESCE(SUM(qty_in), 0), COALESCE(SUM(qty_out), 0)
FROM stock_ledger
WHERE transaction_at BETWEEN COALESCE($1, '-infinity') AND COALESCE($2, 'infinity')`
	args := []any{nullTime(filter.From), nullTime(filter.To)}
	if filter.WarehouseID != 0 {
		query += ` AND warehouse_id = $3`
		args = append(args, filter.WarehouseID)
	}
	query += ` GROUP BY DATE(transaction_at), transaction_type ORDER BY 1 DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	report := []ConsumptionRow{}
	for rows.Next() {
		var row ConsumptionRow
		if err := rows.Scan(&row.Date, &row.Type, &row.Count, &row.TotalIn, &row.TotalOut); err != nil {
			return nil, err
		}
		report = append(report, row)
	}
	return report, rows.Err()
}

// BalanceDrift compares stored balances against the ledger sum for every
// (item, warehouse) pair and returns the pairs that disagree.
func (r *Repository) BalanceDrift(ctx context.Context, tolerance float64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT sb.item_code, sb.warehouse_id, sb.current_qty, sb.reserved_qty, sb.valuation_rate, sb.is_locked, COALESCE(sb.lock_reason, ''), sb.updated_at
FROM stock_balance sb
LEFT JOIN (
    SELECT item_code, warehouse_id, SUM(qty_in - qty_out) AS ledger_qty
    FROM stock_ledger GROUP BY item_code, warehouse_id
) sl ON sl.item_code = sb.item_code AND sl.warehouse_id = sb.warehouse_id
WHERE ABS(sb.current_qty - COALESCE(sl.ledger_qty, 0)) > $1`, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	drifted := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.ItemCode, &bal.WarehouseID, &bal.CurrentQty, &bal.ReservedQty, &bal.ValuationRate, &bal.Locked, &bal.LockReason, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		drifted = append(drifted, bal)
	}
	return drifted, rows.Err()
}

// LockWarehouse records the lock row and flags every balance in the warehouse.
func (r *Repository) LockWarehouse(ctx context.Context, lock WarehouseLock) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO warehouse_locks (warehouse_id, reason, locked_by, locked_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (warehouse_id) DO UPDATE SET reason=EXCLUDED.reason, locked_by=EXCLUDED.locked_by, locked_at=NOW()`,
			lock.WarehouseID, lock.Reason, nullInt(lock.LockedBy)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE stock_balance SET is_locked=TRUE, lock_reason=$1, updated_at=NOW() WHERE warehouse_id=$2`,
			lock.Reason, lock.WarehouseID)
		return err
	})
}

// UnlockWarehouse clears the lock row and the per-balance flags.
func (r *Repository) UnlockWarehouse(ctx context.Context, warehouseID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM warehouse_locks WHERE warehouse_id=$1`, warehouseID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrWarehouseNotLocked
		}
		_, err = tx.Exec(ctx, `UPDATE stock_balance SET is_locked=FALSE, lock_reason=NULL, updated_at=NOW() WHERE warehouse_id=$1`, warehouseID)
		return err
	})
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ItemCode, &e.WarehouseID, &e.TransactionAt, &e.Type, &e.QtyIn, &e.QtyOut, &e.ValuationRate, &e.RefDoctype, &e.RefName, &e.BatchID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) GetWarehouseLock(ctx context.Context, warehouseID int64) (WarehouseLock, bool, error) {
	var lock WarehouseLock
	err := r.tx.QueryRow(ctx, `SELECT warehouse_id, reason, locked_by, locked_at FROM warehouse_locks WHERE warehouse_id=$1`, warehouseID).
		Scan(&lock.WarehouseID, &lock.Reason, &lock.LockedBy, &lock.LockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WarehouseLock{}, false, nil
		}
		return WarehouseLock{}, false, err
	}
	return lock, true, nil
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, itemCode string, warehouseID int64) (Balance, error) {
	var bal Balance
	var lastReceipt, lastIssue *time.Time
	err := r.tx.QueryRow(ctx, `SELECT item_code, warehouse_id, current_qty, reserved_qty, valuation_rate, last_receipt_at, last_issue_at, is_locked, COALESCE(lock_reason, ''), updated_at
FROM stock_balance WHERE item_code=$1 AND warehouse_id=$2 FOR UPDATE`, itemCode, warehouseID).
		Scan(&bal.ItemCode, &bal.WarehouseID, &bal.CurrentQty, &bal.ReservedQty, &bal.ValuationRate, &lastReceipt, &lastIssue, &bal.Locked, &bal.LockReason, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ItemCode: itemCode, WarehouseID: warehouseID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	if lastReceipt != nil {
		bal.LastReceiptAt = *lastReceipt
	}
	if lastIssue != nil {
		bal.LastIssueAt = *lastIssue
	}
	return bal, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (item_code, warehouse_id, transaction_at, transaction_type, qty_in, qty_out, valuation_rate, ref_doctype, ref_name, batch_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		entry.ItemCode, entry.WarehouseID, entry.TransactionAt, string(entry.Type), entry.QtyIn, entry.QtyOut, entry.ValuationRate, entry.RefDoctype, entry.RefName, nullInt(entry.BatchID), nullInt(entry.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balance (item_code, warehouse_id, current_qty, reserved_qty, valuation_rate, last_receipt_at, last_issue_at, is_locked, lock_reason, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (item_code, warehouse_id) DO UPDATE SET
  current_qty=EXCLUDED.current_qty,
  reserved_qty=EXCLUDED.reserved_qty,
  valuation_rate=EXCLUDED.valuation_rate,
  last_receipt_at=COALESCE(EXCLUDED.last_receipt_at, stock_balance.last_receipt_at),
  last_issue_at=COALESCE(EXCLUDED.last_issue_at, stock_balance.last_issue_at),
  updated_at=NOW()`,
		balance.ItemCode, balance.WarehouseID, balance.CurrentQty, balance.ReservedQty, balance.ValuationRate,
		nullTime(balance.LastReceiptAt), nullTime(balance.LastIssueAt), balance.Locked, nullString(balance.LockReason))
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
