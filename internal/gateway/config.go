package gateway

import (
	"fmt"
	"time"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/config"
)

// Upstreams は転送先の内部サービスのURL。
type Upstreams struct {
	User         string
	Inventory    string
	Transaction  string
	Notification string
}

// Config はGatewayサービスの設定値。
type Config struct {
	// Port はリッスンポート。
	Port string
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string
	// JWTKey はトークン検証用の署名鍵。
	JWTKey []byte
	// TokenLeeway はトークンの有効期限判定で許容する時刻のずれ。
	TokenLeeway time.Duration
	// Trust は内部サービスに付与する信頼マーカー。
	Trust authn.TrustMarker
	// Redis はセッションストアの接続設定。
	Redis config.Redis
	// LookupTimeout はセッションストア参照のタイムアウト。
	LookupTimeout time.Duration
	// Policy はロール制御テーブル。
	Policy *authn.Policy
	// Upstreams は転送先のURL。
	Upstreams Upstreams
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() (Config, error) {
	key, err := config.LoadJWTKey()
	if err != nil {
		return Config{}, err
	}
	trust, err := config.LoadTrustMarker()
	if err != nil {
		return Config{}, err
	}
	redisCfg, err := config.LoadRedis()
	if err != nil {
		return Config{}, err
	}
	leeway, err := config.Duration("TOKEN_LEEWAY", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	lookupTimeout, err := config.Duration("SESSION_LOOKUP_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}

	policy := authn.DefaultPolicy()
	if filename := config.String("ROUTE_POLICY_FILE", ""); filename != "" {
		policy, err = authn.LoadPolicyFile(filename)
		if err != nil {
			return Config{}, fmt.Errorf("ロール制御テーブルの読み込みに失敗: %w", err)
		}
	}

	return Config{
		Port:          config.String("PORT", "8080"),
		FrontendURL:   config.String("FRONTEND_URL", "http://localhost:3000"),
		JWTKey:        key,
		TokenLeeway:   leeway,
		Trust:         trust,
		Redis:         redisCfg,
		LookupTimeout: lookupTimeout,
		Policy:        policy,
		Upstreams: Upstreams{
			User:         config.String("USER_SERVICE_URL", "http://localhost:8081"),
			Inventory:    config.String("INVENTORY_SERVICE_URL", "http://localhost:8082"),
			Transaction:  config.String("TRANSACTION_SERVICE_URL", "http://localhost:8083"),
			Notification: config.String("NOTIFICATION_SERVICE_URL", "http://localhost:8084"),
		},
	}, nil
}
