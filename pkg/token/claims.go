package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims はセッショントークンのクレーム。
// subにユーザー名、userIdに数値のユーザーID、roleにログイン時のロールを持つ。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はユーザーIDのJSON表現。数値でも文字列でも受け取り、NumericUserIDで変換する。
	UserID json.RawMessage `json:"userId,omitempty"`
	// Role はログイン時点のロール。
	Role string `json:"role,omitempty"`
}

// Validate はjwt.ClaimsValidatorを実装する。登録済みクレームの検証後に呼ばれる。
func (c *Claims) Validate() error {
	if c.Subject == "" {
		return errors.New("subjectが空です")
	}
	return nil
}

// NumericUserID はUserIDを int64 として返す。
// 署名の検証とは別に判定するため、変換できない値はここで初めてエラーになる。
func (c *Claims) NumericUserID() (int64, error) {
	raw := strings.TrimSpace(string(c.UserID))
	if raw == "" || raw == "null" {
		return 0, errors.New("userIdクレームがありません")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(c.UserID, &s); err != nil {
			return 0, fmt.Errorf("userIdクレームを読み取れません: %w", err)
		}
		raw = s
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("userIdクレームが整数ではありません: %w", err)
	}
	return id, nil
}
