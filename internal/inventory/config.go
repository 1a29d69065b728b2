package inventory

import (
	"fmt"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/config"
)

// Config は在庫サービスの設定値。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースのファイルパス。
	DatabasePath string
	// NATSURL はイベントバスの接続先。
	NATSURL string
	// LowStockThreshold は在庫不足と判定する在庫数。この値以下で在庫不足になる。
	LowStockThreshold int
	// Trust はGatewayが付与する信頼マーカー。
	Trust authn.TrustMarker
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() (Config, error) {
	trust, err := config.LoadTrustMarker()
	if err != nil {
		return Config{}, err
	}
	threshold, err := config.Int("LOW_STOCK_THRESHOLD", defaultLowStockThreshold)
	if err != nil {
		return Config{}, err
	}
	if threshold < 0 {
		return Config{}, fmt.Errorf("LOW_STOCK_THRESHOLDは0以上である必要があります: %d", threshold)
	}

	return Config{
		Port:              config.String("PORT", "8082"),
		DatabasePath:      config.String("DATABASE_PATH", "/data/inventory.db"),
		NATSURL:           config.String("NATS_URL", "nats://localhost:4222"),
		LowStockThreshold: threshold,
		Trust:             trust,
	}, nil
}
