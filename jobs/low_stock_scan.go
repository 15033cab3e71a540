package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// alertWindow is how long a raised alert suppresses repeats for the same item.
const alertWindow = 24 * time.Hour

// ItemLister returns the items currently at or below their minimum stock.
type ItemLister interface {
	ListBelowMinimum(ctx context.Context) ([]inventory.StockItem, error)
}

// MailEnqueuer submits reorder emails to the queue.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// LowStockScanJob sweeps the stock master for items under their minimum and
// raises one alert per item per alertWindow, deduplicated through redis.
type LowStockScanJob struct {
	Items  ItemLister
	Redis  *redis.Client
	Mail   MailEnqueuer
	Logger *slog.Logger
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(items ItemLister, rdb *redis.Client, mail MailEnqueuer, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{Items: items, Redis: rdb, Mail: mail, Logger: logger}
}

// Handle executes the sweep.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Items == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	items, err := j.Items.ListBelowMinimum(ctx)
	if err != nil {
		j.Logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}

	var alerted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	alerts := make(chan inventory.StockItem, len(items))
	for _, item := range items {
		item := item
		g.Go(func() error {
			fresh, err := j.claimAlert(gctx, item.Code)
			if err != nil {
				return err
			}
			if fresh {
				alerts <- item
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.Logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	close(alerts)

	for item := range alerts {
		alerted++
		j.Logger.Warn("stock below minimum",
			slog.String("code", item.Code),
			slog.Float64("qty_on_hand", item.QtyOnHand),
			slog.Float64("min_stock", item.MinStock),
		)
		if payload.AlertTo == "" || j.Mail == nil {
			continue
		}
		_, err := j.Mail.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      payload.AlertTo,
			Subject: fmt.Sprintf("Low stock: %s", item.Code),
			Body:    fmt.Sprintf("%s (%s) is at %.2f, minimum %.2f. Reorder required.", item.Name, item.Code, item.QtyOnHand, item.MinStock),
		})
		if err != nil {
			j.Logger.Error("enqueue low stock mail", slog.String("code", item.Code), slog.Any("error", err))
		}
	}

	j.Logger.Info("completed low stock scan",
		slog.Int("below_minimum", len(items)),
		slog.Int64("alerted", alerted),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// claimAlert reports whether this item has not been alerted inside the
// window. With no redis configured every hit alerts.
func (j *LowStockScanJob) claimAlert(ctx context.Context, code string) (bool, error) {
	if j.Redis == nil {
		return true, nil
	}
	return j.Redis.SetNX(ctx, "alerts:lowstock:"+code, time.Now().UTC().Format(time.RFC3339), alertWindow).Result()
}
