package invoicing

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

// Repository persists invoices in PostgreSQL.
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

const invoiceColumns = `id, number, client_id, type, issued_at, description, subtotal, vat_amount, total_due, created_by, created_at, updated_at`

// Get fetches an invoice with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, notFound(id)
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = queryLines(ctx, r.pool, id)
	return inv, err
}

// List returns invoices matching the filter, newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.ClientID > 0 {
		argCount++
		where += ` AND client_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ClientID)
	}
	if filter.Type != "" {
		argCount++
		where += ` AND type = $` + strconv.Itoa(argCount)
		args = append(args, filter.Type)
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where + ` ORDER BY issued_at DESC, id DESC`
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

	var result []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, inv)
	}
	return result, total, rows.Err()
}

// UpdateDetails rewrites the mutable header fields only.
func (r *Repository) UpdateDetails(ctx context.Context, id int64, issuedAt time.Time, description string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET issued_at = $1, description = $2, updated_at = NOW() WHERE id = $3`,
		issuedAt, description, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// ListPayments returns receipts recorded against an invoice.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, amount, method, paid_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Stock() inventory.TxPort {
	return inventory.NewTxPort(r.tx)
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

// ClientOutstanding is the sum of the client's invoice totals less everything
// paid against them.
func (r *txRepository) ClientOutstanding(ctx context.Context, clientID int64) (float64, error) {
	var outstanding float64
	err := r.tx.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(total_due) FROM invoices WHERE client_id = $1), 0) -
			COALESCE((SELECT SUM(p.amount) FROM payments p JOIN invoices i ON i.id = p.invoice_id WHERE i.client_id = $1), 0)
	`, clientID).Scan(&outstanding)
	return outstanding, err
}

func (r *txRepository) Insert(ctx context.Context, inv Invoice) (Invoice, error) {
	now := time.Now()
	err := r.tx.QueryRow(ctx, `
		INSERT INTO invoices (number, client_id, type, issued_at, description, subtotal, vat_amount, total_due, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
		inv.Number, inv.ClientID, inv.Type, inv.IssuedAt, inv.Description,
		inv.Subtotal, inv.VATAmount, inv.TotalDue, inv.CreatedBy, now,
	).Scan(&inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	inv.CreatedAt = now
	inv.UpdatedAt = now

	for i := range inv.Lines {
		inv.Lines[i].InvoiceID = inv.ID
		err := r.tx.QueryRow(ctx, `
			INSERT INTO invoice_lines (invoice_id, stock_item_id, qty, unit_price, vat_rate, line_total)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			inv.ID, inv.Lines[i].StockItemID, inv.Lines[i].Qty, inv.Lines[i].UnitPrice, inv.Lines[i].VATRate, inv.Lines[i].LineTotal,
		).Scan(&inv.Lines[i].ID)
		if err != nil {
			return Invoice{}, err
		}
	}
	return inv, nil
}

func (r *txRepository) GetLines(ctx context.Context, invoiceID int64) ([]Line, error) {
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, invoiceID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound(invoiceID)
	}
	return queryLines(ctx, r.tx, invoiceID)
}

func (r *txRepository) PaymentCount(ctx context.Context, invoiceID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&count)
	return count, err
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

type queryer interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, invoiceID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, stock_item_id, qty, unit_price, vat_rate, line_total
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.StockItemID, &l.Qty, &l.UnitPrice, &l.VATRate, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.Type, &inv.IssuedAt, &inv.Description,
		&inv.Subtotal, &inv.VATAmount, &inv.TotalDue, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func notFound(id int64) error {
	return fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
}
