// Package sequence issues document numbers for invoice, quote and GRV
// families. Numbers are minted from a per-family counter row incremented
// with a single atomic upsert, so two concurrent allocations can never
// observe the same value. Gaps are tolerated; duplicates are not.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Document families.
const (
	FamilyInvoice = "INV"
	FamilyQuote   = "QUO"
	FamilyGRV     = "GRV"
)

// CounterStore increments and returns the counter for a family/period pair.
// Implementations must be atomic: read-then-recompute across separate
// statements is not acceptable.
type CounterStore interface {
	Next(ctx context.Context, family, period string) (int64, error)
}

// Allocator formats document numbers on top of a CounterStore.
type Allocator struct {
	counters CounterStore
}

// NewAllocator builds an Allocator.
func NewAllocator(counters CounterStore) *Allocator {
	return &Allocator{counters: counters}
}

// InvoiceNumber returns the next invoice number, formatted INV-{seq:6}.
// Invoice numbering is global (not period-scoped).
func (a *Allocator) InvoiceNumber(ctx context.Context) (string, error) {
	seq, err := a.counters.Next(ctx, FamilyInvoice, "")
	if err != nil {
		return "", fmt.Errorf("sequence: invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%06d", seq), nil
}

// QuoteNumber returns the next quote number, formatted QUO-{seq:6}.
func (a *Allocator) QuoteNumber(ctx context.Context) (string, error) {
	seq, err := a.counters.Next(ctx, FamilyQuote, "")
	if err != nil {
		return "", fmt.Errorf("sequence: quote number: %w", err)
	}
	return fmt.Sprintf("QUO-%06d", seq), nil
}

// GRVReference returns the next GRV reference for the month of date,
// formatted GRV{YY}{MM}{seq:3}. The counter is keyed by the YYMM period,
// so the sequence restarts at 1 each calendar month.
func (a *Allocator) GRVReference(ctx context.Context, date time.Time) (string, error) {
	period := date.Format("0601")
	seq, err := a.counters.Next(ctx, FamilyGRV, period)
	if err != nil {
		return "", fmt.Errorf("sequence: grv reference: %w", err)
	}
	return fmt.Sprintf("GRV%s%03d", period, seq), nil
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type pgCounterStore struct {
	db dbtx
}

// NewPgCounterStore returns a CounterStore backed by the document_sequences
// table. It may be constructed over a pool or an open transaction; callers
// allocating numbers for a document write must use the same transaction.
func NewPgCounterStore(db dbtx) CounterStore {
	return &pgCounterStore{db: db}
}

func (s *pgCounterStore) Next(ctx context.Context, family, period string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, family, period).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}
