package grv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists GRVs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction, exposing the
// transaction-bound repository view.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const grvColumns = `id, reference, supplier_id, received_at, description, total_qty, total_cost, total_value, created_by, created_at, updated_at`

// Get fetches a GRV with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (GRV, error) {
	g, err := scanGRV(r.pool.QueryRow(ctx, `SELECT `+grvColumns+` FROM grvs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return GRV{}, notFound(id)
	}
	if err != nil {
		return GRV{}, err
	}
	g.Lines, err = queryLines(ctx, r.pool, id)
	return g, err
}

// List returns GRVs matching the filter, newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]GRV, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.SupplierID > 0 {
		argCount++
		where += ` AND supplier_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.SupplierID)
	}
	if !filter.From.IsZero() {
		argCount++
		where += ` AND received_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		where += ` AND received_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM grvs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + grvColumns + ` FROM grvs` + where + ` ORDER BY received_at DESC, id DESC`
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

	var result []GRV
	for rows.Next() {
		g, err := scanGRV(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, g)
	}
	return result, total, rows.Err()
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

func (r *txRepository) SupplierActive(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.tx.QueryRow(ctx, `SELECT is_active FROM suppliers WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("supplier %d: %w", id, shared.ErrNotFound)
	}
	return active, err
}

func (r *txRepository) Insert(ctx context.Context, g GRV) (GRV, error) {
	now := time.Now()
	err := r.tx.QueryRow(ctx, `
		INSERT INTO grvs (reference, supplier_id, received_at, description, total_qty, total_cost, total_value, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9) RETURNING id`,
		g.Reference, g.SupplierID, g.ReceivedAt, g.Description, g.TotalQty, g.TotalCost, g.TotalValue, g.CreatedBy, now,
	).Scan(&g.ID)
	if err != nil {
		return GRV{}, err
	}
	g.CreatedAt = now
	g.UpdatedAt = now

	for i := range g.Lines {
		g.Lines[i].GRVID = g.ID
		if err := r.insertLine(ctx, &g.Lines[i]); err != nil {
			return GRV{}, err
		}
	}
	return g, nil
}

func (r *txRepository) insertLine(ctx context.Context, line *Line) error {
	return r.tx.QueryRow(ctx, `
		INSERT INTO grv_lines (grv_id, stock_item_id, qty, cost_price, sell_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.GRVID, line.StockItemID, line.Qty, line.CostPrice, line.SellPrice, line.LineTotal,
	).Scan(&line.ID)
}

func (r *txRepository) GetLines(ctx context.Context, grvID int64) ([]Line, error) {
	var exists bool
	if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM grvs WHERE id = $1)`, grvID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound(grvID)
	}
	return queryLines(ctx, r.tx, grvID)
}

func (r *txRepository) UpdateHeader(ctx context.Context, g GRV) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE grvs SET supplier_id = $1, received_at = $2, description = $3,
			total_qty = $4, total_cost = $5, total_value = $6, updated_at = NOW()
		WHERE id = $7`,
		g.SupplierID, g.ReceivedAt, g.Description, g.TotalQty, g.TotalCost, g.TotalValue, g.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(g.ID)
	}
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, grvID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM grv_lines WHERE grv_id = $1`, grvID); err != nil {
		return err
	}
	for i := range lines {
		lines[i].GRVID = grvID
		if err := r.insertLine(ctx, &lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM grv_lines WHERE grv_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM grvs WHERE id = $1`, id)
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

func queryLines(ctx context.Context, q queryer, grvID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, grv_id, stock_item_id, qty, cost_price, sell_price, line_total
		FROM grv_lines WHERE grv_id = $1 ORDER BY id`, grvID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.GRVID, &l.StockItemID, &l.Qty, &l.CostPrice, &l.SellPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanGRV(row pgx.Row) (GRV, error) {
	var g GRV
	err := row.Scan(&g.ID, &g.Reference, &g.SupplierID, &g.ReceivedAt, &g.Description,
		&g.TotalQty, &g.TotalCost, &g.TotalValue, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func notFound(id int64) error {
	return fmt.Errorf("grv %d: %w", id, shared.ErrNotFound)
}
