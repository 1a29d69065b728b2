package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound はセッションが存在しない（失効済みを含む）場合のエラー。
	ErrNotFound = errors.New("セッションが見つかりません")
	// ErrUnavailable はセッションストアとの通信に失敗した場合のエラー。
	ErrUnavailable = errors.New("セッションストアに接続できません")
)

// Reader はセッションの参照のみを行う。Gatewayはこのインターフェースだけに依存する。
type Reader interface {
	// Get はセッションIDからセッションを取得する。
	// 存在しない場合は ErrNotFound、通信に失敗した場合は ErrUnavailable をラップしたエラーを返す。
	Get(ctx context.Context, id string) (*Session, error)
}

// Store はセッションの作成と削除も行う。
type Store interface {
	Reader
	// Save はセッションをTTL付きで保存する。
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	// Delete はセッションを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id string) error
	// IDsForUser はユーザーに紐づくセッションIDの一覧を返す。
	IDsForUser(ctx context.Context, username string) ([]string, error)
}
