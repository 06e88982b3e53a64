package stockentry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/batch"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
)

const entryColumns = `id, entry_no, entry_date, entry_type,
COALESCE(from_warehouse_id, 0), COALESCE(to_warehouse_id, 0),
COALESCE(purpose, ''), COALESCE(reference_doctype, ''), COALESCE(reference_name, ''),
status, COALESCE(remarks, ''), total_qty, total_value,
created_by, COALESCE(approved_by, 0), COALESCE(submitted_at, 'epoch'), created_at, updated_at`

// Repository persists stock entries and composes ledger, batch and
// sequence writes into the document transaction.
type Repository struct {
	pool      *pgxpool.Pool
	sequences *sequence.Repository
}

func NewRepository(pool *pgxpool.Pool, sequences *sequence.Repository) *Repository {
	return &Repository{pool: pool, sequences: sequences}
}

// TxRepository is the write surface available inside a document
// transaction. Movement posting and batch depletion run on the same
// underlying transaction as the document rows.
type TxRepository interface {
	NextNumber(ctx context.Context, prefix, periodKey string) (int64, error)
	ExistsForReference(ctx context.Context, refDoctype, refName string) (bool, error)
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	InsertItems(ctx context.Context, entryID int64, items []Item) error
	GetForUpdate(ctx context.Context, id int64) (Entry, error)
	MarkSubmitted(ctx context.Context, id, approvedBy int64) error
	MarkCancelled(ctx context.Context, id, actorID int64) error
	DeleteEntry(ctx context.Context, id int64) error
	PostMovement(ctx context.Context, input ledger.MovementInput) (ledger.Entry, error)
	DepleteBatch(ctx context.Context, batchNo string, qty float64) (batch.Batch, error)
	ReplenishBatch(ctx context.Context, batchNo string, qty float64) (batch.Batch, error)
	CreateBatch(ctx context.Context, b batch.Batch) (int64, error)
	FindBatch(ctx context.Context, batchNo string) (batch.Batch, error)
}

type txRepository struct {
	tx        pgx.Tx
	sequences *sequence.Repository
	ledger    ledger.TxRepository
	batches   batch.TxRepository
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		repo := &txRepository{
			tx:        tx,
			sequences: r.sequences,
			ledger:    ledger.NewTxRepository(tx),
			batches:   batch.NewTxRepository(tx),
		}
		return fn(ctx, repo)
	})
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE id=$1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}
	e.Items, err = r.itemsFor(ctx, e.ID)
	return e, err
}

func (r *Repository) GetByNumber(ctx context.Context, entryNo string) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE entry_no=$1`, entryNo)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}
	e.Items, err = r.itemsFor(ctx, e.ID)
	return e, err
}

// List returns entries matching the filter, newest first, without items.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("entry_type = $%d", filter.Type)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		conds = append(conds, fmt.Sprintf("(from_warehouse_id = $%d OR to_warehouse_id = $%d)", len(args), len(args)))
	}
	if filter.Search != "" {
		add("entry_no ILIKE $%d", "%"+filter.Search+"%")
	}
	query := `SELECT ` + entryColumns + ` FROM stock_entries`
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
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateDraft edits the mutable fields of a draft entry.
func (r *Repository) UpdateDraft(ctx context.Context, id int64, purpose, remarks string, actorID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_entries
SET purpose=$1, remarks=$2, updated_by=$3, updated_at=NOW()
WHERE id=$4 AND status='Draft'`, purpose, remarks, actorID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotDraft
	}
	return nil
}

func (r *Repository) itemsFor(ctx context.Context, entryID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, stock_entry_id, item_code, qty, uom, valuation_rate, transaction_value,
COALESCE(batch_no, ''), COALESCE(serial_no, ''), COALESCE(remarks, '')
FROM stock_entry_items WHERE stock_entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.EntryID, &it.ItemCode, &it.Qty, &it.UOM, &it.ValuationRate,
			&it.Value, &it.BatchNo, &it.SerialNo, &it.Remarks); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *txRepository) NextNumber(ctx context.Context, prefix, periodKey string) (int64, error) {
	return t.sequences.NextValueTx(ctx, t.tx, prefix, periodKey)
}

func (t *txRepository) ExistsForReference(ctx context.Context, refDoctype, refName string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM stock_entries WHERE reference_doctype=$1 AND reference_name=$2 AND status <> 'Cancelled')`,
		refDoctype, refName).Scan(&exists)
	return exists, err
}

func (t *txRepository) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_entries
(entry_no, entry_date, entry_type, from_warehouse_id, to_warehouse_id, purpose,
 reference_doctype, reference_name, status, remarks, total_qty, total_value, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
RETURNING id`,
		e.EntryNo, e.EntryDate, e.Type, nullID(e.FromWarehouseID), nullID(e.ToWarehouseID), e.Purpose,
		e.RefDoctype, e.RefName, e.Status, e.Remarks, e.TotalQty, e.TotalValue, e.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The partial unique index on (reference_doctype, reference_name)
			// WHERE status <> 'Cancelled' backstops the pre-insert check
			// against concurrent creates for the same receipt note.
			if pgErr.ConstraintName == "stock_entries_reference_uniq" {
				return 0, fmt.Errorf("%w: %s %s", ErrDuplicateReference, e.RefDoctype, e.RefName)
			}
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) InsertItems(ctx context.Context, entryID int64, items []Item) error {
	for _, it := range items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO stock_entry_items
(stock_entry_id, item_code, qty, uom, valuation_rate, transaction_value, batch_no, serial_no, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			entryID, it.ItemCode, it.Qty, it.UOM, it.ValuationRate, it.Value,
			nullText(it.BatchNo), nullText(it.SerialNo), nullText(it.Remarks)); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Entry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE id=$1 FOR UPDATE`, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT id, stock_entry_id, item_code, qty, uom, valuation_rate, transaction_value,
COALESCE(batch_no, ''), COALESCE(serial_no, ''), COALESCE(remarks, '')
FROM stock_entry_items WHERE stock_entry_id=$1 ORDER BY id`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.EntryID, &it.ItemCode, &it.Qty, &it.UOM, &it.ValuationRate,
			&it.Value, &it.BatchNo, &it.SerialNo, &it.Remarks); err != nil {
			return Entry{}, err
		}
		e.Items = append(e.Items, it)
	}
	return e, rows.Err()
}

func (t *txRepository) MarkSubmitted(ctx context.Context, id, approvedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_entries
SET status='Submitted', submitted_at=NOW(), approved_by=$1, updated_at=NOW()
WHERE id=$2 AND status='Draft'`, approvedBy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

func (t *txRepository) MarkCancelled(ctx context.Context, id, actorID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_entries
SET status='Cancelled', updated_by=$1, updated_at=NOW()
WHERE id=$2 AND status='Submitted'`, actorID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotSubmitted
	}
	return nil
}

func (t *txRepository) DeleteEntry(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM stock_entry_items WHERE stock_entry_id=$1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM stock_entries WHERE id=$1 AND status='Draft'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

func (t *txRepository) PostMovement(ctx context.Context, input ledger.MovementInput) (ledger.Entry, error) {
	return ledger.PostMovement(ctx, t.ledger, input)
}

func (t *txRepository) DepleteBatch(ctx context.Context, batchNo string, qty float64) (batch.Batch, error) {
	return batch.DepleteByNumber(ctx, t.batches, batchNo, qty)
}

func (t *txRepository) ReplenishBatch(ctx context.Context, batchNo string, qty float64) (batch.Batch, error) {
	return batch.ReplenishByNumber(ctx, t.batches, batchNo, qty)
}

func (t *txRepository) CreateBatch(ctx context.Context, b batch.Batch) (int64, error) {
	return t.batches.Insert(ctx, b)
}

func (t *txRepository) FindBatch(ctx context.Context, batchNo string) (batch.Batch, error) {
	return t.batches.GetForUpdate(ctx, batchNo)
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
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

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.EntryNo, &e.EntryDate, &e.Type, &e.FromWarehouseID, &e.ToWarehouseID,
		&e.Purpose, &e.RefDoctype, &e.RefName, &e.Status, &e.Remarks, &e.TotalQty, &e.TotalValue,
		&e.CreatedBy, &e.ApprovedBy, &e.SubmittedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}
