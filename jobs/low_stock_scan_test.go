package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

type staticLister struct {
	items []inventory.StockItem
}

func (l *staticLister) ListBelowMinimum(ctx context.Context) ([]inventory.StockItem, error) {
	return l.items, nil
}

type captureMail struct {
	mu   sync.Mutex
	sent []SendEmailPayload
}

func (m *captureMail) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	return &asynq.TaskInfo{}, nil
}

func scanTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewLowStockScanTask(LowStockScanPayload{AlertTo: "purchasing@example.com"})
	require.NoError(t, err)
	return task
}

func TestLowStockScanAlertsOncePerWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lister := &staticLister{items: []inventory.StockItem{
		{ID: 1, Code: "WID-10", Name: "Widget", QtyOnHand: 2, MinStock: 5},
		{ID: 2, Code: "WID-20", Name: "Gadget", QtyOnHand: 0, MinStock: 3},
	}}
	mail := &captureMail{}
	job := NewLowStockScanJob(lister, rdb, mail, slog.Default())

	require.NoError(t, job.Handle(context.Background(), scanTask(t)))
	require.Len(t, mail.sent, 2)

	var subjects []string
	for _, p := range mail.sent {
		require.Equal(t, "purchasing@example.com", p.To)
		subjects = append(subjects, p.Subject)
	}
	sort.Strings(subjects)
	require.Equal(t, []string{"Low stock: WID-10", "Low stock: WID-20"}, subjects)

	// Second sweep inside the window stays quiet.
	require.NoError(t, job.Handle(context.Background(), scanTask(t)))
	require.Len(t, mail.sent, 2)

	// Past the window the suppression keys expire and alerts fire again.
	mr.FastForward(alertWindow + time.Minute)
	require.NoError(t, job.Handle(context.Background(), scanTask(t)))
	require.Len(t, mail.sent, 4)
}

func TestLowStockScanWithoutRecipientOnlyLogs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lister := &staticLister{items: []inventory.StockItem{{ID: 1, Code: "WID-10", QtyOnHand: 1, MinStock: 5}}}
	mail := &captureMail{}
	job := NewLowStockScanJob(lister, rdb, mail, slog.Default())

	task, err := NewLowStockScanTask(LowStockScanPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Empty(t, mail.sent)
}

func TestLowStockScanNothingBelowMinimum(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mail := &captureMail{}
	job := NewLowStockScanJob(&staticLister{}, rdb, mail, slog.Default())

	require.NoError(t, job.Handle(context.Background(), scanTask(t)))
	require.Empty(t, mail.sent)
}
