package token

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer はログイン成功時にセッショントークンを発行する。
type Issuer struct {
	key []byte
	ttl time.Duration
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewIssuer は署名鍵と有効期間からIssuerを生成する。
func NewIssuer(key []byte, ttl time.Duration) (*Issuer, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("署名鍵が短すぎます: %dバイト (最小%dバイト)", len(key), MinKeyLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("トークンの有効期間は正の値である必要があります: %s", ttl)
	}
	return &Issuer{key: append([]byte(nil), key...), ttl: ttl, now: time.Now}, nil
}

// Issue はユーザー名・ユーザーID・ロールを含むトークンを署名して返す。
func (i *Issuer) Issue(username string, userID int64, role string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: json.RawMessage(strconv.FormatInt(userID, 10)),
		Role:   role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, expiresAt, nil
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
