package notification

import (
	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/config"
)

// Config は通知サービスの設定値。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースのファイルパス。
	DatabasePath string
	// NATSURL はイベントバスの接続先。
	NATSURL string
	// Trust はGatewayが付与する信頼マーカー。
	Trust authn.TrustMarker
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() (Config, error) {
	trust, err := config.LoadTrustMarker()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Port:         config.String("PORT", "8084"),
		DatabasePath: config.String("DATABASE_PATH", "/data/notification.db"),
		NATSURL:      config.String("NATS_URL", "nats://localhost:4222"),
		Trust:        trust,
	}, nil
}
