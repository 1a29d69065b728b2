package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nao1215/smmsb/pkg/event"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/messaging"
)

// serviceName はイベントの発行元とドキュメント系パスに使うサービス名。
const serviceName = "inventory-service"

// defaultLowStockThreshold は在庫不足と判定するデフォルトの在庫数。
const defaultLowStockThreshold = 5

// consumerQueue はStockUpdatedイベントを購読するキューグループ名。
const consumerQueue = "inventory-group"

// Stock は在庫数の変更と、それに伴うイベントの発行を行う。
type Stock struct {
	products  *Store
	publisher messaging.Publisher
	threshold int
	logger    *slog.Logger
}

// NewStock は新しいStockを生成する。
func NewStock(products *Store, publisher messaging.Publisher, threshold int, logger *slog.Logger) *Stock {
	return &Stock{
		products:  products,
		publisher: publisher,
		threshold: threshold,
		logger:    logging.WithComponent(logger, "stock"),
	}
}

// Threshold は在庫不足と判定する在庫数を返す。
func (s *Stock) Threshold() int {
	return s.threshold
}

// Register はStockUpdatedイベントの購読を登録する。
func (s *Stock) Register(sub messaging.Subscriber) error {
	if err := sub.Subscribe(event.TypeStockUpdated, consumerQueue, s.HandleStockUpdated); err != nil {
		return fmt.Errorf("StockUpdatedイベントの購読に失敗: %w", err)
	}
	return nil
}

// HandleStockUpdated はStockUpdatedイベントを受け取り在庫数を減らす。
// 商品が存在しない場合と在庫が足りない場合は再配信しても結果が変わらないため、ログに残して破棄する。
func (s *Stock) HandleStockUpdated(ctx context.Context, e *event.Event) error {
	data, err := event.DecodeData[event.StockUpdatedData](e)
	if err != nil {
		return err
	}

	log := logging.FromContext(ctx, s.logger).With(
		"event_id", e.ID,
		"product_id", data.ProductID,
		"transaction_id", data.TransactionID,
	)

	change, err := s.products.DecrementStock(ctx, data.ProductID, data.Quantity, s.threshold)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInsufficientStock) {
		log.Warn("在庫を減らせないためイベントを破棄", "error", err.Error())
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("在庫数を更新", "quantity", change.Product.Quantity)
	return s.notifyIfLow(ctx, change)
}

// UpdateProduct は商品を更新し、在庫不足になった場合はアラートを発行する。
func (s *Stock) UpdateProduct(ctx context.Context, id int64, p UpdateParams) (*Product, error) {
	change, err := s.products.Update(ctx, id, p, s.threshold)
	if err != nil {
		return nil, err
	}
	if err := s.notifyIfLow(ctx, change); err != nil {
		logging.LogError(logging.FromContext(ctx, s.logger), "在庫不足アラートの発行に失敗", err, "product_id", id)
	}
	return change.Product, nil
}

// notifyIfLow は在庫不足になった場合にLowStockAlertを発行する。
// 管理者への通知は通知サービスがこのイベントから作成する。
func (s *Stock) notifyIfLow(ctx context.Context, change *StockChange) error {
	if !change.BecameLow {
		return nil
	}

	p := change.Product
	aggregateID := strconv.FormatInt(p.ID, 10)

	alert, err := event.New(serviceName, aggregateID, event.AggregateTypeProduct, event.TypeLowStockAlert,
		event.LowStockAlertData{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    p.Quantity,
			Threshold:   s.threshold,
		})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, alert); err != nil {
		return fmt.Errorf("LowStockAlertイベントの発行に失敗: %w", err)
	}

	logging.FromContext(ctx, s.logger).Warn("在庫不足を検知",
		"product_id", p.ID,
		"quantity", p.Quantity,
		"threshold", s.threshold,
	)
	return nil
}
