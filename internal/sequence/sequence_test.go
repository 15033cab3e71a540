package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryCounters struct {
	seqs map[string]int64
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{seqs: make(map[string]int64)}
}

func (m *memoryCounters) Next(ctx context.Context, family, period string) (int64, error) {
	key := family + ":" + period
	m.seqs[key]++
	return m.seqs[key], nil
}

func TestInvoiceNumberFormat(t *testing.T) {
	alloc := NewAllocator(newMemoryCounters())
	ctx := context.Background()

	num, err := alloc.InvoiceNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-000001", num)

	num, err = alloc.InvoiceNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-000002", num)
}

func TestQuoteNumberIndependentOfInvoices(t *testing.T) {
	alloc := NewAllocator(newMemoryCounters())
	ctx := context.Background()

	_, err := alloc.InvoiceNumber(ctx)
	require.NoError(t, err)

	num, err := alloc.QuoteNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "QUO-000001", num)
}

func TestGRVReferenceMonthlyReset(t *testing.T) {
	alloc := NewAllocator(newMemoryCounters())
	ctx := context.Background()
	jan := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	ref, err := alloc.GRVReference(ctx, jan)
	require.NoError(t, err)
	require.Equal(t, "GRV2501001", ref)

	ref, err = alloc.GRVReference(ctx, jan)
	require.NoError(t, err)
	require.Equal(t, "GRV2501002", ref)

	feb := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	ref, err = alloc.GRVReference(ctx, feb)
	require.NoError(t, err)
	require.Equal(t, "GRV2502001", ref)
}
