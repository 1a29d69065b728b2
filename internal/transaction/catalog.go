package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nao1215/smmsb/pkg/httpclient"
)

var (
	// ErrProductNotFound は在庫サービスに商品が存在しない場合のエラー。
	ErrProductNotFound = errors.New("商品が見つかりません")
	// ErrCatalogDenied はGatewayが商品情報の取得を拒否した場合のエラー。
	ErrCatalogDenied = errors.New("商品情報へのアクセスが拒否されました")
)

// Product は在庫サービスから取得した商品情報。
type Product struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// Catalog は商品情報を取得する。
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
}

// GatewayCatalog はGateway経由で在庫サービスから商品情報を取得する。
// 呼び出し元のセッションIDはhttpclient.WithSessionIDでコンテキストに設定しておく。
type GatewayCatalog struct {
	client *httpclient.Client
}

// NewGatewayCatalog は新しいGatewayCatalogを生成する。
func NewGatewayCatalog(gatewayURL string, timeout time.Duration) *GatewayCatalog {
	return &GatewayCatalog{client: httpclient.New(gatewayURL, timeout)}
}

// GetProduct は商品情報を取得する。
func (g *GatewayCatalog) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := g.client.GetJSON(ctx, "/api/v1/inventory/"+strconv.FormatInt(id, 10), &p)

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: product_id=%d", ErrProductNotFound, id)
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w: %w", ErrCatalogDenied, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("商品情報の取得に失敗: %w", err)
	}
	return &p, nil
}
