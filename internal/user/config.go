package user

import (
	"time"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/config"
	"github.com/nao1215/smmsb/pkg/session"
)

// Config はユーザーサービスの設定値。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースのファイルパス。
	DatabasePath string
	// JWTKey はトークン署名用の鍵。
	JWTKey []byte
	// TokenTTL はトークンの有効期間。
	TokenTTL time.Duration
	// SessionTTL はセッションの有効期間。
	SessionTTL time.Duration
	// SessionPolicy は同一ユーザーの複数セッションの扱い。
	SessionPolicy session.Policy
	// Trust はGatewayが付与する信頼マーカー。
	Trust authn.TrustMarker
	// Redis はセッションストアの接続設定。
	Redis config.Redis
	// BootstrapUsername は初回起動時に作成する特権管理者のユーザー名。空なら作成しない。
	BootstrapUsername string
	// BootstrapPassword は初回起動時に作成する特権管理者のパスワード。
	BootstrapPassword string
	// BootstrapEmail は初回起動時に作成する特権管理者のメールアドレス。
	BootstrapEmail string
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
	sessionTTL, err := config.Duration("SESSION_TTL", 60*time.Minute)
	if err != nil {
		return Config{}, err
	}
	tokenTTL, err := config.Duration("TOKEN_TTL", sessionTTL)
	if err != nil {
		return Config{}, err
	}
	policy, err := session.ParsePolicy(config.String("SESSION_POLICY", string(session.PolicySingle)))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:              config.String("PORT", "8081"),
		DatabasePath:      config.String("DATABASE_PATH", "/data/user.db"),
		JWTKey:            key,
		TokenTTL:          tokenTTL,
		SessionTTL:        sessionTTL,
		SessionPolicy:     policy,
		Trust:             trust,
		Redis:             redisCfg,
		BootstrapUsername: config.String("BOOTSTRAP_SUPERADMIN_USERNAME", ""),
		BootstrapPassword: config.String("BOOTSTRAP_SUPERADMIN_PASSWORD", ""),
		BootstrapEmail:    config.String("BOOTSTRAP_SUPERADMIN_EMAIL", "superadmin@localhost"),
	}, nil
}
