package config

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/token"
)

// Redis はセッションストアの接続設定。
type Redis struct {
	// Addr は "host:port" 形式のアドレス。
	Addr string
	// Password は認証パスワード。
	Password string
	// DB はデータベース番号。
	DB int
}

// LoadRedis はREDIS_ADDR, REDIS_PASSWORD, REDIS_DBを読み込む。
func LoadRedis() (Redis, error) {
	db, err := Int("REDIS_DB", 0)
	if err != nil {
		return Redis{}, err
	}
	return Redis{
		Addr:     String("REDIS_ADDR", "localhost:6379"),
		Password: String("REDIS_PASSWORD", ""),
		DB:       db,
	}, nil
}

// NewClient はgo-redisのクライアントを生成する。
func (r Redis) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// LoadTrustMarker はGATEWAY_HEADER_NAMEとGATEWAY_HEADER_VALUEから信頼マーカーを読み込む。
// Gatewayと全内部サービスで同じ値を設定する必要がある。
func LoadTrustMarker() (authn.TrustMarker, error) {
	m := authn.TrustMarker{
		Name:  String("GATEWAY_HEADER_NAME", authn.DefaultTrustHeaderName),
		Value: String("GATEWAY_HEADER_VALUE", authn.DefaultTrustHeaderValue),
	}
	if err := m.Validate(); err != nil {
		return authn.TrustMarker{}, err
	}
	return m, nil
}

// LoadJWTKey はJWT_SECRET（base64）から署名鍵を読み込む。
// 署名鍵を持つのはGatewayとユーザーサービスのみ。
func LoadJWTKey() ([]byte, error) {
	raw, err := Required("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	key, err := token.DecodeKey(raw)
	if err != nil {
		return nil, errors.Join(errors.New("JWT_SECRETが不正です"), err)
	}
	return key, nil
}
