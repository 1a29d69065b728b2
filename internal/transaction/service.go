package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/event"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/messaging"
)

// serviceName はイベントの発行元とドキュメント系パスに使うサービス名。
const serviceName = "transaction-service"

var (
	// ErrInsufficientStock は在庫数が取引数量に満たない場合のエラー。
	ErrInsufficientStock = errors.New("在庫が不足しています")
	// ErrAmountOverflow は合計金額が表現できる範囲を超えた場合のエラー。
	ErrAmountOverflow = errors.New("合計金額が大きすぎます")
)

// Service は取引の作成と参照を行う。
type Service struct {
	store     *Store
	catalog   Catalog
	publisher messaging.Publisher
	logger    *slog.Logger
}

// NewService は新しいServiceを生成する。
func NewService(store *Store, catalog Catalog, publisher messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		logger:    logging.WithComponent(logger, "transaction"),
	}
}

// Create は取引を作成する。
// 商品の単価は在庫サービスから取得した時点の値を使い、取引に記録する。
// イベントの発行に失敗した場合は保存した取引を取り消してエラーを返す。
func (s *Service) Create(ctx context.Context, p *authn.Principal, productID int64, quantity int) (*Transaction, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Quantity < quantity {
		return nil, fmt.Errorf("%w: stock=%d, requested=%d", ErrInsufficientStock, product.Quantity, quantity)
	}
	if product.Price > 0 && int64(quantity) > math.MaxInt64/product.Price {
		return nil, ErrAmountOverflow
	}

	t := &Transaction{
		UserID:      p.UserID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Price:       product.Price,
		Quantity:    quantity,
		TotalAmount: product.Price * int64(quantity),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx, s.logger)
	if err := s.publish(ctx, t); err != nil {
		if delErr := s.store.Delete(ctx, t.ID); delErr != nil {
			logging.LogError(log, "取引の取り消しに失敗", delErr, "transaction_id", t.ID)
		}
		return nil, err
	}

	log.Info("取引を作成",
		"transaction_id", t.ID,
		"product_id", t.ProductID,
		"quantity", t.Quantity,
		"user", p.Username,
	)
	return t, nil
}

// publish は在庫を減らすStockUpdatedイベントと、取引を行ったユーザーへの通知要求を発行する。
func (s *Service) publish(ctx context.Context, t *Transaction) error {
	aggregateID := strconv.FormatInt(t.ID, 10)

	stock, err := event.New(serviceName, aggregateID, event.AggregateTypeTransaction, event.TypeStockUpdated,
		event.StockUpdatedData{
			ProductID:     t.ProductID,
			Quantity:      t.Quantity,
			TransactionID: t.ID,
			UserID:        t.UserID,
		})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, stock); err != nil {
		return fmt.Errorf("StockUpdatedイベントの発行に失敗: %w", err)
	}

	userID := t.UserID
	notification, err := event.New(serviceName, aggregateID, event.AggregateTypeTransaction, event.TypeNotificationRequested,
		event.NotificationRequestedData{
			UserID:  &userID,
			Message: fmt.Sprintf("取引が完了しました: %s を %d 個", t.ProductName, t.Quantity),
			Type:    event.NotificationTypeTransaction,
		})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, notification); err != nil {
		// 在庫の更新は発行済みのため、通知の失敗では取引を取り消さない。
		logging.LogError(logging.FromContext(ctx, s.logger), "通知要求の発行に失敗", err, "transaction_id", t.ID)
	}
	return nil
}

// Get は取引を取得する。SUPERADMIN以外は自分の取引のみ参照できる。
func (s *Service) Get(ctx context.Context, p *authn.Principal, id int64) (*Transaction, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != p.UserID && !p.HasAnyRole(authn.RoleSuperAdmin) {
		return nil, ErrNotFound
	}
	return t, nil
}

// List は取引の一覧を返す。SUPERADMIN以外は自分の取引のみ参照できる。
func (s *Service) List(ctx context.Context, p *authn.Principal, f ListFilter) ([]Transaction, int, error) {
	if !p.HasAnyRole(authn.RoleSuperAdmin) {
		f.UserID = p.UserID
	}
	return s.store.List(ctx, f)
}
