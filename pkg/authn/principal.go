package authn

import (
	"context"
	"strconv"
)

// Principal はリクエストスコープで「誰が呼び出しているか」を表す。
// Gatewayが検証したヘッダーからのみ構築され、リクエスト終了後は破棄される。
type Principal struct {
	// Username は認証済みユーザー名。
	Username string
	// UserID は認証済みユーザーの数値ID。
	UserID int64
	// Role はログイン時点のロール。権限（authority）として1つだけ持つ。
	Role string
}

// Authorities は権限の一覧を返す。
func (p *Principal) Authorities() []string {
	if p == nil || p.Role == "" {
		return nil
	}
	return []string{p.Role}
}

// HasAnyRole はPrincipalのロールが指定ロールのいずれかと一致するかを返す。
func (p *Principal) HasAnyRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// UserIDString はユーザーIDを10進数文字列で返す。
func (p *Principal) UserIDString() string {
	return strconv.FormatInt(p.UserID, 10)
}

type principalContextKey struct{}

// WithPrincipal はコンテキストにPrincipalを設定する。
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom はコンテキストからPrincipalを取得する。
// 匿名リクエストの場合はfalseを返す。
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}
