package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nao1215/smmsb/pkg/event"
	"github.com/nao1215/smmsb/pkg/logging"
)

// NATSBus はNATSを使ったPublisherとSubscriberの実装。
type NATSBus struct {
	conn          *nats.Conn
	logger        *slog.Logger
	mu            sync.Mutex
	subscriptions []*nats.Subscription
	drainTimeout  time.Duration
}

// Connect はNATSサーバーに接続してNATSBusを生成する。
func Connect(url, name string, logger *slog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSから切断", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATSに再接続", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗: %w", err)
	}
	return NewNATSBus(conn, logger), nil
}

// NewNATSBus は接続済みのNATSコネクションからNATSBusを生成する。
func NewNATSBus(conn *nats.Conn, logger *slog.Logger) *NATSBus {
	return &NATSBus{
		conn:         conn,
		logger:       logging.WithComponent(logger, "nats"),
		drainTimeout: 10 * time.Second,
	}
}

// Publish はイベントをJSONにシリアライズしてイベント種類のサブジェクトに発行する。
func (b *NATSBus) Publish(ctx context.Context, e *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	if err := b.conn.Publish(e.EventType.Subject(), data); err != nil {
		return fmt.Errorf("イベントの発行に失敗: subject=%s: %w", e.EventType.Subject(), err)
	}
	logging.FromContext(ctx, b.logger).Info("イベントを発行",
		"event_id", e.ID,
		"event_type", e.EventType,
		"aggregate_id", e.AggregateID,
	)
	return nil
}

// Subscribe はキューグループでイベントを購読する。
func (b *NATSBus) Subscribe(eventType event.Type, queue string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, err := b.conn.QueueSubscribe(eventType.Subject(), queue, func(msg *nats.Msg) {
		dispatch(b.logger, msg.Data, h)
	})
	if err != nil {
		return fmt.Errorf("イベントの購読に失敗: subject=%s: %w", eventType.Subject(), err)
	}
	b.subscriptions = append(b.subscriptions, sub)
	b.logger.Info("イベントの購読を開始", "subject", eventType.Subject(), "queue", queue)
	return nil
}

// dispatch はメッセージ本文をデコードしてハンドラーを呼び出す。
// ハンドラーのエラーはログに出力し、再配信は行わない。
func dispatch(logger *slog.Logger, payload []byte, h Handler) {
	e, err := event.Decode(payload)
	if err != nil {
		logging.LogError(logger, "イベントのデコードに失敗", err, "size", len(payload))
		return
	}

	ctx, reqLogger := logging.WithRequestID(context.Background(), logger, e.ID)
	reqLogger.Info("イベントを受信", "event_type", e.EventType, "source", e.Source)
	if err := h(ctx, e); err != nil {
		logging.LogError(reqLogger, "イベント処理に失敗", err, "event_type", e.EventType)
	}
}

// Close は購読を解除してコネクションをドレインする。
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subscriptions = nil
	b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	done := make(chan struct{})
	b.conn.SetClosedHandler(func(_ *nats.Conn) { close(done) })
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("NATSのドレインに失敗: %w", err)
	}
	select {
	case <-done:
	case <-time.After(b.drainTimeout):
		b.conn.Close()
		b.logger.Warn("NATSのドレインがタイムアウト", "timeout", b.drainTimeout)
	}
	return nil
}
