package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

const batchColumns = `id, batch_no, item_code, warehouse_id, batch_qty, current_qty,
mfg_date, expiry_date, status, COALESCE(reference_doctype, ''), COALESCE(reference_name, ''),
COALESCE(remarks, ''), created_at, updated_at`

// Repository persists batches in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the batch writes that document modules run inside
// their own transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, batchNo string) (Batch, error)
	Insert(ctx context.Context, b Batch) (int64, error)
	Deplete(ctx context.Context, id int64, qty float64) (Batch, error)
	Replenish(ctx context.Context, id int64, qty float64) (Batch, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with batch write operations.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Create inserts a new Active batch with current_qty set to batch_qty.
func (r *Repository) Create(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO batch_tracking
(batch_no, item_code, warehouse_id, batch_qty, current_qty, mfg_date, expiry_date, status, reference_doctype, reference_name, remarks, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
RETURNING id`,
		b.BatchNo, b.ItemCode, b.WarehouseID, b.BatchQty,
		nullDate(b.MfgDate), nullDate(b.ExpiryDate), StatusActive,
		b.RefDoctype, b.RefName, b.Remarks).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateBatch
		}
		return 0, err
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_tracking WHERE id=$1`, id)
	return scanBatch(row)
}

func (r *Repository) GetByBatchNo(ctx context.Context, batchNo string) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_tracking WHERE batch_no=$1`, batchNo)
	return scanBatch(row)
}

// List returns batches matching the filter, newest batch number first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Batch, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ItemCode != "" {
		add("item_code = $%d", filter.ItemCode)
	}
	if filter.WarehouseID != 0 {
		add("warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Search != "" {
		add("batch_no ILIKE $%d", "%"+filter.Search+"%")
	}
	query := `SELECT ` + batchColumns + ` FROM batch_tracking`
	if filter.ExpiredOnly {
		conds = append(conds, `expiry_date < CURRENT_DATE AND status = 'Active'`)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY batch_no DESC"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// Expired returns Active batches past their expiry date, oldest expiry first.
func (r *Repository) Expired(ctx context.Context, warehouseID int64) ([]ExpiryRow, error) {
	query := `SELECT ` + batchColumns + `, (CURRENT_DATE - expiry_date) AS days_expired
FROM batch_tracking
WHERE expiry_date < CURRENT_DATE AND status = 'Active'`
	args := []any{}
	if warehouseID != 0 {
		args = append(args, warehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	query += " ORDER BY expiry_date ASC"
	return r.expiryQuery(ctx, query, args)
}

// NearExpiry returns Active batches expiring within the threshold window.
func (r *Repository) NearExpiry(ctx context.Context, days int, warehouseID int64) ([]ExpiryRow, error) {
	args := []any{days}
	query := `SELECT ` + batchColumns + `, (expiry_date - CURRENT_DATE) AS days_remaining
FROM batch_tracking
WHERE expiry_date BETWEEN CURRENT_DATE AND CURRENT_DATE + $1::int AND status = 'Active'`
	if warehouseID != 0 {
		args = append(args, warehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	query += " ORDER BY expiry_date ASC"
	return r.expiryQuery(ctx, query, args)
}

func (r *Repository) expiryQuery(ctx context.Context, query string, args []any) ([]ExpiryRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ExpiryRow{}
	for rows.Next() {
		var (
			row ExpiryRow
			mfg pgtype.Date
			exp pgtype.Date
		)
		if err := rows.Scan(&row.ID, &row.BatchNo, &row.ItemCode, &row.WarehouseID, &row.BatchQty, &row.CurrentQty,
			&mfg, &exp, &row.Status, &row.RefDoctype, &row.RefName, &row.Remarks, &row.CreatedAt, &row.UpdatedAt,
			&row.Days); err != nil {
			return nil, err
		}
		row.MfgDate, row.ExpiryDate = mfg.Time, exp.Time
		out = append(out, row)
	}
	return out, rows.Err()
}

// ItemBatchSummary lists every batch of an item in a warehouse with a
// computed freshness condition.
func (r *Repository) ItemBatchSummary(ctx context.Context, itemCode string, warehouseID int64) ([]SummaryRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT batch_no, mfg_date, expiry_date, batch_qty, current_qty, status,
CASE
    WHEN expiry_date IS NULL THEN 'Good'
    WHEN expiry_date < CURRENT_DATE THEN 'Expired'
    WHEN expiry_date <= CURRENT_DATE + 30 THEN 'Near Expiry'
    ELSE 'Good'
END AS condition
FROM batch_tracking
WHERE item_code = $1 AND warehouse_id = $2
ORDER BY batch_no ASC`, itemCode, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SummaryRow{}
	for rows.Next() {
		var (
			row SummaryRow
			mfg pgtype.Date
			exp pgtype.Date
		)
		if err := rows.Scan(&row.BatchNo, &mfg, &exp, &row.BatchQty, &row.CurrentQty, &row.Status, &row.Condition); err != nil {
			return nil, err
		}
		row.MfgDate, row.ExpiryDate = mfg.Time, exp.Time
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetStatus moves an Active batch to the given terminal status. Returns
// ErrTerminalStatus when the batch already left Active.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status, remarks string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE batch_tracking
SET status=$1, remarks=CASE WHEN $2 <> '' THEN $2 ELSE remarks END, updated_at=NOW()
WHERE id=$3 AND status='Active'`, status, remarks, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrTerminalStatus
	}
	return nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, batchNo string) (Batch, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_tracking WHERE batch_no=$1 FOR UPDATE`, batchNo)
	return scanBatch(row)
}

func (t *txRepository) Insert(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO batch_tracking
(batch_no, item_code, warehouse_id, batch_qty, current_qty, mfg_date, expiry_date, status, reference_doctype, reference_name, remarks, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
RETURNING id`,
		b.BatchNo, b.ItemCode, b.WarehouseID, b.BatchQty,
		nullDate(b.MfgDate), nullDate(b.ExpiryDate), StatusActive,
		b.RefDoctype, b.RefName, b.Remarks).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateBatch
		}
		return 0, err
	}
	return id, nil
}

// Deplete subtracts qty from the batch, flipping to Used at zero. The row
// must already be locked via GetForUpdate.
func (t *txRepository) Deplete(ctx context.Context, id int64, qty float64) (Batch, error) {
	row := t.tx.QueryRow(ctx, `UPDATE batch_tracking
SET current_qty = current_qty - $1,
    status = CASE WHEN current_qty - $1 <= 0 THEN 'Used' ELSE status END,
    updated_at = NOW()
WHERE id = $2 AND status = 'Active' AND current_qty >= $1
RETURNING `+batchColumns, qty, id)
	b, err := scanBatch(row)
	if err == ErrBatchNotFound {
		return Batch{}, ErrInsufficientQty
	}
	return b, err
}

// Replenish returns quantity to a batch, reviving a Used batch when the
// quantity climbs back above zero. Expired and Scrapped stay terminal.
func (t *txRepository) Replenish(ctx context.Context, id int64, qty float64) (Batch, error) {
	row := t.tx.QueryRow(ctx, `UPDATE batch_tracking
SET current_qty = current_qty + $1,
    status = CASE WHEN status = 'Used' AND current_qty + $1 > 0 THEN 'Active' ELSE status END,
    updated_at = NOW()
WHERE id = $2 AND status IN ('Active', 'Used')
RETURNING `+batchColumns, qty, id)
	b, err := scanBatch(row)
	if err == ErrBatchNotFound {
		return Batch{}, ErrTerminalStatus
	}
	return b, err
}

// ReplenishByNumber reverses a depletion against a batch by number.
func ReplenishByNumber(ctx context.Context, tx TxRepository, batchNo string, qty float64) (Batch, error) {
	if batchNo == "" || qty <= 0 {
		return Batch{}, ErrInvalidBatch
	}
	b, err := tx.GetForUpdate(ctx, batchNo)
	if err != nil {
		return Batch{}, err
	}
	return tx.Replenish(ctx, b.ID, qty)
}

// DepleteByNumber locks, validates and depletes one batch. Shared by the
// standalone service path and by document submissions running their own
// transaction.
func DepleteByNumber(ctx context.Context, tx TxRepository, batchNo string, qty float64) (Batch, error) {
	if batchNo == "" || qty <= 0 {
		return Batch{}, ErrInvalidBatch
	}
	b, err := tx.GetForUpdate(ctx, batchNo)
	if err != nil {
		return Batch{}, err
	}
	// Used batches hold zero quantity, so they fall through to the
	// quantity check and read as insufficient rather than terminal.
	if b.Status.Terminal() && b.Status != StatusUsed {
		return Batch{}, fmt.Errorf("%w: batch %s is %s", ErrTerminalStatus, b.BatchNo, b.Status)
	}
	if b.CurrentQty < qty {
		return Batch{}, fmt.Errorf("%w: batch %s has %.3f, requested %.3f", ErrInsufficientQty, b.BatchNo, b.CurrentQty, qty)
	}
	return tx.Deplete(ctx, b.ID, qty)
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var (
		b   Batch
		mfg pgtype.Date
		exp pgtype.Date
	)
	err := row.Scan(&b.ID, &b.BatchNo, &b.ItemCode, &b.WarehouseID, &b.BatchQty, &b.CurrentQty,
		&mfg, &exp, &b.Status, &b.RefDoctype, &b.RefName, &b.Remarks, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	b.MfgDate, b.ExpiryDate = mfg.Time, exp.Time
	return b, nil
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	out := []Batch{}
	for rows.Next() {
		var (
			b   Batch
			mfg pgtype.Date
			exp pgtype.Date
		)
		if err := rows.Scan(&b.ID, &b.BatchNo, &b.ItemCode, &b.WarehouseID, &b.BatchQty, &b.CurrentQty,
			&mfg, &exp, &b.Status, &b.RefDoctype, &b.RefName, &b.Remarks, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.MfgDate, b.ExpiryDate = mfg.Time, exp.Time
		out = append(out, b)
	}
	return out, rows.Err()
}
