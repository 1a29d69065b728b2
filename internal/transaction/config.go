package transaction

import (
	"time"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/config"
)

// Config は取引サービスの設定値。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースのファイルパス。
	DatabasePath string
	// NATSURL はイベントバスの接続先。
	NATSURL string
	// GatewayURL は在庫サービスを呼び出す際に経由するGatewayのURL。
	GatewayURL string
	// GatewayTimeout はGateway経由の呼び出しのタイムアウト。
	GatewayTimeout time.Duration
	// Trust はGatewayが付与する信頼マーカー。
	Trust authn.TrustMarker
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() (Config, error) {
	trust, err := config.LoadTrustMarker()
	if err != nil {
		return Config{}, err
	}
	timeout, err := config.Duration("GATEWAY_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:           config.String("PORT", "8083"),
		DatabasePath:   config.String("DATABASE_PATH", "/data/transaction.db"),
		NATSURL:        config.String("NATS_URL", "nats://localhost:4222"),
		GatewayURL:     config.String("GATEWAY_URL", "http://localhost:8080"),
		GatewayTimeout: timeout,
		Trust:          trust,
	}, nil
}
