package authn

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind は認証・認可エラーの種類を表す。
// 運用者向けのログにはKindを出力し、クライアントには汎用メッセージのみを返す。
type Kind int

const (
	// KindUnknown は分類されていないエラー。
	KindUnknown Kind = iota
	// KindMissingSession はX-Session-Idヘッダーが無いことを表す。
	KindMissingSession
	// KindInvalidSession はセッションが存在しない、または不完全であることを表す。
	KindInvalidSession
	// KindInvalidToken はトークンの署名不正・形式不正・期限切れを表す。
	KindInvalidToken
	// KindIdentityMismatch はトークンのsubjectとセッションのユーザー名が一致しないことを表す。
	KindIdentityMismatch
	// KindInsufficientPrivilege はロールがルートの許可リストに含まれないことを表す。
	KindInsufficientPrivilege
	// KindTrustViolation は信頼マーカー無しで内部サービスに到達したことを表す。
	KindTrustViolation
	// KindStoreUnavailable はセッションストアとの通信に失敗したことを表す。
	KindStoreUnavailable
	// KindInternal は検証済みトークンのクレーム変換失敗などの内部エラーを表す。
	KindInternal
)

// String はログ出力用の種類名を返す。
func (k Kind) String() string {
	switch k {
	case KindMissingSession:
		return "MissingSession"
	case KindInvalidSession:
		return "InvalidSession"
	case KindInvalidToken:
		return "InvalidToken"
	case KindIdentityMismatch:
		return "IdentityMismatch"
	case KindInsufficientPrivilege:
		return "InsufficientPrivilege"
	case KindTrustViolation:
		return "TrustViolation"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Status はエラー種類に対応するHTTPステータスコードを返す。
func (k Kind) Status() int {
	switch k {
	case KindMissingSession, KindInvalidSession, KindInvalidToken, KindIdentityMismatch:
		return http.StatusUnauthorized
	case KindInsufficientPrivilege, KindTrustViolation:
		return http.StatusForbidden
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message はクライアントに返す汎用メッセージを返す。内部の詳細は含めない。
func (k Kind) Message() string {
	switch k {
	case KindMissingSession:
		return "missing session header"
	case KindInvalidSession:
		return "invalid session"
	case KindInvalidToken:
		return "invalid token"
	case KindIdentityMismatch:
		return "token/session identity mismatch"
	case KindInsufficientPrivilege:
		return "insufficient privilege"
	case KindTrustViolation:
		return "must go through gateway"
	case KindStoreUnavailable:
		return "session store unavailable"
	default:
		return "internal error"
	}
}

// Error は種類と原因を持つ認証エラー。
type Error struct {
	// Kind はエラーの種類。
	Kind Kind
	// Err は原因となったエラー。ログにのみ出力する。
	Err error
}

// NewError は新しい認証エラーを生成する。
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Status はHTTPステータスコードを返す。
func (e *Error) Status() int {
	return e.Kind.Status()
}

// KindOf はエラーチェーンから認証エラーの種類を取り出す。
// 認証エラーを含まない場合はKindUnknownを返す。
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}
