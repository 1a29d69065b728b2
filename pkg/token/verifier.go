package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed はトークンの形式が不正な場合のエラー。
	ErrMalformed = errors.New("トークンの形式が不正です")
	// ErrInvalidSignature は署名の検証に失敗した場合のエラー。許可されていないアルゴリズムも含む。
	ErrInvalidSignature = errors.New("トークンの署名が不正です")
	// ErrExpired はトークンの有効期限が切れている場合のエラー。
	ErrExpired = errors.New("トークンの有効期限が切れています")
	// ErrInvalidClaims はクレームが不足または不正な場合のエラー。
	ErrInvalidClaims = errors.New("トークンのクレームが不正です")
)

// Verifier はHS256で署名されたトークンを検証する。
// 生成後は不変であり、複数のgoroutineから同時に使用できる。
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifier は署名鍵と時刻のずれの許容幅からVerifierを生成する。
func NewVerifier(key []byte, leeway time.Duration) (*Verifier, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("署名鍵が短すぎます: %dバイト (最小%dバイト)", len(key), MinKeyLength)
	}
	return &Verifier{
		key: append([]byte(nil), key...),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Verify はトークンを検証し、クレームを返す。
// 返すエラーは ErrMalformed, ErrInvalidSignature, ErrExpired, ErrInvalidClaims のいずれかをラップする。
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: トークンが空です", ErrMalformed)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// classify はjwtライブラリのエラーを本パッケージのエラーに変換する。
// 期限切れはクレームエラーとしてもラップされているため先に判定する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}
}

// Reason はログ出力用に検証エラーの理由を短い文字列で返す。
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidClaims):
		return "claims"
	default:
		return "unknown"
	}
}
