package quotes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/clients"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists quotes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const quoteColumns = `id, number, client_id, vat, issued_at, description, subtotal, vat_amount, total_due, converted_invoice_id, created_by, created_at, updated_at`

// Get fetches a quote with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, notFound(id)
	}
	if err != nil {
		return Quote{}, err
	}
	q.Lines, err = queryLines(ctx, r.pool, id)
	return q, err
}

// List returns quotes matching the filter, newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Quote, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.ClientID > 0 {
		argCount++
		where += ` AND client_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ClientID)
	}
	if !filter.From.IsZero() {
		argCount++
		where += ` AND issued_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		where += ` AND issued_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + quoteColumns + ` FROM quotes` + where + ` ORDER BY issued_at DESC, id DESC`
	if filter.PerPage > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.PerPage)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filter.Page - 1) * filter.PerPage
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, q)
	}
	return result, total, rows.Err()
}

// Delete removes a quote and its lines. The row lock re-checks the converted
// flag inside the transaction, so a conversion that lands after the service's
// read cannot have its quote deleted out from under it.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var converted *int64
		err := tx.QueryRow(ctx, `SELECT converted_invoice_id FROM quotes WHERE id = $1 FOR UPDATE`, id).Scan(&converted)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		if converted != nil {
			return fmt.Errorf("quote %d already converted: %w", id, shared.ErrConflict)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM quote_lines WHERE quote_id = $1`, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
		return err
	})
}

// MarkConverted claims the quote for an invoice. The WHERE clause is the
// serialization point: only one invoice can ever win.
func (r *Repository) MarkConverted(ctx context.Context, quoteID, invoiceID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE quotes SET converted_invoice_id = $1, updated_at = NOW()
		WHERE id = $2 AND converted_invoice_id IS NULL`,
		invoiceID, quoteID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Counters() sequence.CounterStore {
	return sequence.NewPgCounterStore(r.tx)
}

func (r *txRepository) GetClient(ctx context.Context, id int64) (clients.Client, error) {
	var c clients.Client
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, price_category, credit_limit, is_active
		FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.PriceCategory, &c.CreditLimit, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return clients.Client{}, fmt.Errorf("client %d: %w", id, shared.ErrNotFound)
	}
	return c, err
}

func (r *txRepository) GetItem(ctx context.Context, id int64) (inventory.StockItem, error) {
	var it inventory.StockItem
	err := r.tx.QueryRow(ctx, `
		SELECT id, code, name, qty_on_hand, cost_price, selling_price, price_a, price_b, price_d, price_e, vat_rate, is_active
		FROM stock_items WHERE id = $1`, id).
		Scan(&it.ID, &it.Code, &it.Name, &it.QtyOnHand, &it.CostPrice, &it.SellingPrice,
			&it.PriceA, &it.PriceB, &it.PriceD, &it.PriceE, &it.VATRate, &it.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockItem{}, inventory.NotFoundItem(id)
	}
	return it, err
}

func (r *txRepository) Insert(ctx context.Context, q Quote) (Quote, error) {
	now := time.Now()
	err := r.tx.QueryRow(ctx, `
		INSERT INTO quotes (number, client_id, vat, issued_at, description, subtotal, vat_amount, total_due, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
		q.Number, q.ClientID, q.VAT, q.IssuedAt, q.Description,
		q.Subtotal, q.VATAmount, q.TotalDue, q.CreatedBy, now,
	).Scan(&q.ID)
	if err != nil {
		return Quote{}, err
	}
	q.CreatedAt = now
	q.UpdatedAt = now

	for i := range q.Lines {
		q.Lines[i].QuoteID = q.ID
		if err := r.insertLine(ctx, &q.Lines[i]); err != nil {
			return Quote{}, err
		}
	}
	return q, nil
}

func (r *txRepository) insertLine(ctx context.Context, line *Line) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO quote_lines (quote_id, stock_item_id, qty, unit_price, vat_rate, line_total)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.QuoteID, line.StockItemID, line.Qty, line.UnitPrice, line.VATRate, line.LineTotal,
	).Scan(&line.ID)
}

// UpdateBody rewrites the header totals and lines of an unconverted quote.
func (r *txRepository) UpdateBody(ctx context.Context, q Quote) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE quotes SET client_id = $1, vat = $2, issued_at = $3, description = $4,
			subtotal = $5, vat_amount = $6, total_due = $7, updated_at = NOW()
		WHERE id = $8 AND converted_invoice_id IS NULL`,
		q.ClientID, q.VAT, q.IssuedAt, q.Description, q.Subtotal, q.VATAmount, q.TotalDue, q.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quote %d missing or converted: %w", q.ID, shared.ErrConflict)
	}

	if _, err := r.tx.Exec(ctx, `DELETE FROM quote_lines WHERE quote_id = $1`, q.ID); err != nil {
		return err
	}
	for i := range q.Lines {
		q.Lines[i].QuoteID = q.ID
		if err := r.insertLine(ctx, &q.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

type queryer interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, quoteID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, quote_id, stock_item_id, qty, unit_price, vat_rate, line_total
		FROM quote_lines WHERE quote_id = $1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.StockItemID, &l.Qty, &l.UnitPrice, &l.VATRate, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.Number, &q.ClientID, &q.VAT, &q.IssuedAt, &q.Description,
		&q.Subtotal, &q.VATAmount, &q.TotalDue, &q.ConvertedInvoiceID, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func notFound(id int64) error {
	return fmt.Errorf("quote %d: %w", id, shared.ErrNotFound)
}
