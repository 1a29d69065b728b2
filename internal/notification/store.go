package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound は通知が存在しない場合のエラー。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他のユーザー宛ての通知を操作しようとした場合のエラー。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
)

// Notification は閲覧者から見た通知。IsReadは閲覧者ごとの既読状態。
type Notification struct {
	ID int64
	// UserID は通知先のユーザーID。nilの場合は管理者全員への通知。
	UserID    *int64
	Type      string
	Message   string
	EventID   string
	IsRead    bool
	CreatedAt time.Time
}

// CreateParams は通知作成時のパラメータ。
type CreateParams struct {
	UserID  *int64
	Type    string
	Message string
	// EventID は元になったイベントのID。同じイベントから通知を重複して作成しない。
	EventID string
}

// ListFilter は一覧取得時の絞り込み条件。
type ListFilter struct {
	Type       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store はnotificationsテーブルへのクエリを実行する。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// visibleTo は閲覧者に見える通知の条件。引数に閲覧者のユーザーIDを1つ取る。
const visibleTo = "(n.user_id = ? OR n.user_id IS NULL)"

// selectNotification は既読状態を含めて通知を取得するSELECT句。
// 1つ目の引数に閲覧者のユーザーIDを取る。
const selectNotification = `SELECT n.id, n.user_id, n.type, n.message, n.event_id, r.user_id IS NOT NULL, n.created_at
	FROM notifications n
	LEFT JOIN notification_reads r ON r.notification_id = n.id AND r.user_id = ?`

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*Notification, error) {
	var (
		n       Notification
		userID  sql.NullInt64
		created int64
	)
	if err := row.Scan(&n.ID, &userID, &n.Type, &n.Message, &n.EventID, &n.IsRead, &created); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.Int64
		n.UserID = &id
	}
	n.CreatedAt = time.Unix(created, 0).UTC()
	return &n, nil
}

// Create は通知を保存する。同じイベントIDの通知が既にある場合は何もせずfalseを返す。
func (s *Store) Create(ctx context.Context, p CreateParams) (bool, error) {
	var userID sql.NullInt64
	if p.UserID != nil {
		userID = sql.NullInt64{Int64: *p.UserID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, type, message, event_id, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		userID, p.Type, p.Message, p.EventID, s.now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("保存件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

// Get は閲覧者から見た通知を取得する。他のユーザー宛ての通知はErrForbiddenを返す。
func (s *Store) Get(ctx context.Context, id, viewer int64) (*Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, selectNotification+" WHERE n.id = ?", viewer, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if n.UserID != nil && *n.UserID != viewer {
		return nil, ErrForbidden
	}
	return n, nil
}

// List は閲覧者宛ての通知と全員宛ての通知を新しい順で返す。2つ目の戻り値は条件に一致する総件数。
func (s *Store) List(ctx context.Context, viewer int64, f ListFilter) ([]Notification, int, error) {
	where := []string{visibleTo}
	args := []any{viewer}
	if f.Type != "" {
		where = append(where, "n.type = ?")
		args = append(args, f.Type)
	}
	if f.UnreadOnly {
		where = append(where, "r.user_id IS NULL")
	}
	cond := " WHERE " + strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM notifications n
		LEFT JOIN notification_reads r ON r.notification_id = n.id AND r.user_id = ?` + cond
	if err := s.db.QueryRowContext(ctx, countQuery, append([]any{viewer}, args...)...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("通知数の取得に失敗: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	queryArgs := append([]any{viewer}, args...)
	queryArgs = append(queryArgs, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, selectNotification+cond+" ORDER BY n.id DESC LIMIT ? OFFSET ?", queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("通知の読み取りに失敗: %w", err)
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return notifications, total, nil
}

// MarkRead は閲覧者について通知を既読にする。既に既読の場合も成功として扱う。
func (s *Store) MarkRead(ctx context.Context, id, viewer int64) error {
	if _, err := s.Get(ctx, id, viewer); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO notification_reads (notification_id, user_id, read_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		id, viewer, s.now().Unix(),
	); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// MarkAllRead は閲覧者に見える全通知を既読にし、新たに既読にした件数を返す。
func (s *Store) MarkAllRead(ctx context.Context, viewer int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_reads (notification_id, user_id, read_at)
		 SELECT n.id, ?, ? FROM notifications n WHERE `+visibleTo+`
		 ON CONFLICT DO NOTHING`,
		viewer, s.now().Unix(), viewer,
	)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("既読件数の取得に失敗: %w", err)
	}
	return n, nil
}
