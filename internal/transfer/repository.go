package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
)

const transferColumns = `id, transfer_no, transfer_date, from_warehouse_id, to_warehouse_id,
status, COALESCE(transfer_remarks, ''), total_qty, created_by, COALESCE(received_by, 0), created_at, updated_at`

// Repository persists material transfers.
type Repository struct {
	pool      *pgxpool.Pool
	sequences *sequence.Repository
}

func NewRepository(pool *pgxpool.Pool, sequences *sequence.Repository) *Repository {
	return &Repository{pool: pool, sequences: sequences}
}

// TxRepository is the write surface inside a transfer transaction.
type TxRepository interface {
	NextNumber(ctx context.Context, prefix, periodKey string) (int64, error)
	InsertTransfer(ctx context.Context, tr Transfer) (int64, error)
	InsertItems(ctx context.Context, transferID int64, items []Item) error
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	MarkInTransit(ctx context.Context, id int64) error
	MarkReceived(ctx context.Context, id, receivedBy int64) error
	PostMovement(ctx context.Context, input ledger.MovementInput) (ledger.Entry, error)
	BalanceRate(ctx context.Context, itemCode string, warehouseID int64) (float64, error)
}

type txRepository struct {
	tx        pgx.Tx
	sequences *sequence.Repository
	ledger    ledger.TxRepository
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		repo := &txRepository{tx: tx, sequences: r.sequences, ledger: ledger.NewTxRepository(tx)}
		return fn(ctx, repo)
	})
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM material_transfers WHERE id=$1`, id)
	tr, err := scanTransfer(row)
	if err != nil {
		return Transfer{}, err
	}
	tr.Items, err = r.itemsFor(ctx, tr.ID)
	return tr, err
}

func (r *Repository) GetByNumber(ctx context.Context, transferNo string) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM material_transfers WHERE transfer_no=$1`, transferNo)
	tr, err := scanTransfer(row)
	if err != nil {
		return Transfer{}, err
	}
	tr.Items, err = r.itemsFor(ctx, tr.ID)
	return tr, err
}

// List returns transfers matching the filter, newest first, without items.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		conds = append(conds, fmt.Sprintf("(from_warehouse_id = $%d OR to_warehouse_id = $%d)", len(args), len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("transfer_no ILIKE $%d", len(args)))
	}
	query := `SELECT ` + transferColumns + ` FROM material_transfers`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transfer{}
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Register aggregates transfers for the movement register report.
func (r *Repository) Register(ctx context.Context, filter ListFilter) ([]RegisterRow, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("mt.status = $%d", len(args)))
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		conds = append(conds, fmt.Sprintf("(mt.from_warehouse_id = $%d OR mt.to_warehouse_id = $%d)", len(args), len(args)))
	}
	query := `SELECT mt.transfer_no, mt.transfer_date, mt.from_warehouse_id, mt.to_warehouse_id,
COUNT(mti.id), COALESCE(SUM(mti.qty), 0), mt.status
FROM material_transfers mt
LEFT JOIN material_transfer_items mti ON mti.material_transfer_id = mt.id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` GROUP BY mt.id ORDER BY mt.transfer_date DESC, mt.id DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RegisterRow{}
	for rows.Next() {
		var row RegisterRow
		if err := rows.Scan(&row.TransferNo, &row.TransferDate, &row.FromWarehouseID, &row.ToWarehouseID,
			&row.ItemCount, &row.TotalQty, &row.Status); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) itemsFor(ctx context.Context, transferID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, material_transfer_id, item_code, qty, uom,
COALESCE(batch_no, ''), COALESCE(serial_no, '')
FROM material_transfer_items WHERE material_transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransferID, &it.ItemCode, &it.Qty, &it.UOM, &it.BatchNo, &it.SerialNo); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *txRepository) NextNumber(ctx context.Context, prefix, periodKey string) (int64, error) {
	return t.sequences.NextValueTx(ctx, t.tx, prefix, periodKey)
}

func (t *txRepository) InsertTransfer(ctx context.Context, tr Transfer) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO material_transfers
(transfer_no, transfer_date, from_warehouse_id, to_warehouse_id, status, transfer_remarks, total_qty, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
RETURNING id`,
		tr.TransferNo, tr.TransferDate, tr.FromWarehouseID, tr.ToWarehouseID,
		tr.Status, tr.Remarks, tr.TotalQty, tr.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertItems(ctx context.Context, transferID int64, items []Item) error {
	for _, it := range items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO material_transfer_items
(material_transfer_id, item_code, qty, uom, batch_no, serial_no)
VALUES ($1,$2,$3,$4,$5,$6)`,
			transferID, it.ItemCode, it.Qty, it.UOM, nullText(it.BatchNo), nullText(it.SerialNo)); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM material_transfers WHERE id=$1 FOR UPDATE`, id)
	tr, err := scanTransfer(row)
	if err != nil {
		return Transfer{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT id, material_transfer_id, item_code, qty, uom,
COALESCE(batch_no, ''), COALESCE(serial_no, '')
FROM material_transfer_items WHERE material_transfer_id=$1 ORDER BY id`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransferID, &it.ItemCode, &it.Qty, &it.UOM, &it.BatchNo, &it.SerialNo); err != nil {
			return Transfer{}, err
		}
		tr.Items = append(tr.Items, it)
	}
	return tr, rows.Err()
}

func (t *txRepository) MarkInTransit(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE material_transfers
SET status='In Transit', updated_at=NOW()
WHERE id=$1 AND status='Draft'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

func (t *txRepository) MarkReceived(ctx context.Context, id, receivedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE material_transfers
SET status='Received', received_by=$1, updated_at=NOW()
WHERE id=$2 AND status='In Transit'`, receivedBy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInTransit
	}
	return nil
}

func (t *txRepository) PostMovement(ctx context.Context, input ledger.MovementInput) (ledger.Entry, error) {
	return ledger.PostMovement(ctx, t.ledger, input)
}

// BalanceRate reads the current valuation rate at the source warehouse.
// The row is locked for the remainder of the transaction.
func (t *txRepository) BalanceRate(ctx context.Context, itemCode string, warehouseID int64) (float64, error) {
	bal, err := t.ledger.GetBalanceForUpdate(ctx, itemCode, warehouseID)
	if err == ledger.ErrBalanceNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.ValuationRate, nil
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (Transfer, error) {
	var tr Transfer
	err := row.Scan(&tr.ID, &tr.TransferNo, &tr.TransferDate, &tr.FromWarehouseID, &tr.ToWarehouseID,
		&tr.Status, &tr.Remarks, &tr.TotalQty, &tr.CreatedBy, &tr.ReceivedBy, &tr.CreatedAt, &tr.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	return tr, nil
}
