package authn

import (
	"errors"
	"net/http"
	"strings"
)

const (
	// HeaderSessionID はクライアントがGatewayに送るセッションIDのヘッダー名。
	HeaderSessionID = "X-Session-Id"
	// HeaderAuthenticatedUser はGatewayが検証済みユーザー名を伝播するヘッダー名。
	HeaderAuthenticatedUser = "X-Authenticated-User"
	// HeaderUserID はGatewayが検証済みユーザーID（10進数文字列）を伝播するヘッダー名。
	HeaderUserID = "X-User-Id"
	// HeaderUserRole はGatewayが検証済みロールを伝播するヘッダー名。
	HeaderUserRole = "X-User-Role"
)

const (
	// DefaultTrustHeaderName は信頼マーカーのデフォルトヘッダー名。
	DefaultTrustHeaderName = "X-Gateway-Access"
	// DefaultTrustHeaderValue は信頼マーカーのデフォルト値。
	DefaultTrustHeaderValue = "enabled"
)

// IdentityHeaders はGatewayだけが設定してよいIDヘッダーの一覧。
var IdentityHeaders = []string{HeaderAuthenticatedUser, HeaderUserID, HeaderUserRole}

// TrustMarker はGateway経由であることを示すヘッダーの名前と期待値。
// 暗号学的な保証ではなく、信頼されたネットワーク内での誤った直接アクセスを防ぐためのもの。
type TrustMarker struct {
	// Name はヘッダー名。
	Name string
	// Value はヘッダーの期待値。完全一致で比較する。
	Value string
}

// DefaultTrustMarker はデフォルト設定の信頼マーカーを返す。
func DefaultTrustMarker() TrustMarker {
	return TrustMarker{Name: DefaultTrustHeaderName, Value: DefaultTrustHeaderValue}
}

// Validate は信頼マーカーの設定値を検証する。
func (m TrustMarker) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("信頼マーカーのヘッダー名が空です")
	}
	if m.Value == "" {
		return errors.New("信頼マーカーの値が空です")
	}
	if isIdentityHeader(m.Name) || http.CanonicalHeaderKey(m.Name) == http.CanonicalHeaderKey(HeaderSessionID) {
		return errors.New("信頼マーカーのヘッダー名が予約済みヘッダーと衝突しています")
	}
	return nil
}

// Stamp はヘッダーに信頼マーカーを設定する。既存の値は上書きする。
func (m TrustMarker) Stamp(h http.Header) {
	h.Set(m.Name, m.Value)
}

// Present はヘッダーが期待値どおりの信頼マーカーを持つかを返す。
// 同名ヘッダーが複数ある場合は不一致として扱う。
func (m TrustMarker) Present(h http.Header) bool {
	values := h.Values(m.Name)
	return len(values) == 1 && values[0] == m.Value
}

// StripInbound はクライアントが送ってきたIDヘッダーと信頼マーカーを削除する。
// これらはGatewayが検証後に設定するものであり、クライアントの値を転送してはならない。
func (m TrustMarker) StripInbound(h http.Header) {
	for _, name := range IdentityHeaders {
		h.Del(name)
	}
	h.Del(m.Name)
}

func isIdentityHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, h := range IdentityHeaders {
		if http.CanonicalHeaderKey(h) == canonical {
			return true
		}
	}
	return false
}
