package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/smmsb/pkg/event"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/messaging"
)

// serviceName はドキュメント系パスとログに使うサービス名。
const serviceName = "notification-service"

// consumerQueue は通知サービスがイベントを購読するキューグループ名。
const consumerQueue = "notification-group"

// Consumer はイベントを受け取って通知を保存する。
type Consumer struct {
	store  *Store
	logger *slog.Logger
}

// NewConsumer は新しいConsumerを生成する。
func NewConsumer(store *Store, logger *slog.Logger) *Consumer {
	return &Consumer{store: store, logger: logging.WithComponent(logger, "consumer")}
}

// Register はNotificationRequestedとLowStockAlertの購読を登録する。
func (c *Consumer) Register(sub messaging.Subscriber) error {
	handlers := map[event.Type]messaging.Handler{
		event.TypeNotificationRequested: c.HandleNotificationRequested,
		event.TypeLowStockAlert:         c.HandleLowStockAlert,
	}
	for t, h := range handlers {
		if err := sub.Subscribe(t, consumerQueue, h); err != nil {
			return fmt.Errorf("%sイベントの購読に失敗: %w", t, err)
		}
	}
	return nil
}

// HandleNotificationRequested は要求された内容で通知を保存する。
func (c *Consumer) HandleNotificationRequested(ctx context.Context, e *event.Event) error {
	data, err := event.DecodeData[event.NotificationRequestedData](e)
	if err != nil {
		return err
	}
	typ := data.Type
	if typ == "" {
		typ = event.NotificationTypeSystem
	}
	return c.save(ctx, e, CreateParams{
		UserID:  data.UserID,
		Type:    string(typ),
		Message: data.Message,
		EventID: e.ID,
	})
}

// HandleLowStockAlert は在庫不足を管理者全員への通知として保存する。
func (c *Consumer) HandleLowStockAlert(ctx context.Context, e *event.Event) error {
	data, err := event.DecodeData[event.LowStockAlertData](e)
	if err != nil {
		return err
	}
	return c.save(ctx, e, CreateParams{
		Type: string(event.NotificationTypeLowStock),
		Message: fmt.Sprintf("在庫不足: %s の在庫が %d 個になりました (しきい値 %d)",
			data.ProductName, data.Quantity, data.Threshold),
		EventID: e.ID,
	})
}

func (c *Consumer) save(ctx context.Context, e *event.Event, p CreateParams) error {
	created, err := c.store.Create(ctx, p)
	if err != nil {
		return err
	}
	log := logging.FromContext(ctx, c.logger).With("event_id", e.ID, "type", p.Type)
	if !created {
		log.Info("同じイベントの通知は作成済み")
		return nil
	}
	log.Info("通知を作成", "broadcast", p.UserID == nil)
	return nil
}
