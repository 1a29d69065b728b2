package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound はユーザーが存在しない場合のエラー。
	ErrNotFound = errors.New("ユーザーが見つかりません")
	// ErrUsernameTaken はユーザー名が既に使われている場合のエラー。
	ErrUsernameTaken = errors.New("ユーザー名は既に使用されています")
	// ErrEmailTaken はメールアドレスが既に使われている場合のエラー。
	ErrEmailTaken = errors.New("メールアドレスは既に使用されています")
)

// User はusersテーブルの1行。
type User struct {
	// ID はユーザーの一意識別子。
	ID int64
	// Username はログインに使用するユーザー名。
	Username string
	// Email はメールアドレス。
	Email string
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string
	// Role はユーザーのロール。
	Role string
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は更新日時。
	UpdatedAt time.Time
}

// CreateParams はユーザー作成時のパラメータ。
type CreateParams struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

// UpdateParams はユーザー更新時のパラメータ。nilのフィールドは変更しない。
type UpdateParams struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *string
}

// ListFilter は一覧取得時の絞り込み条件。空のフィールドは条件に含めない。
type ListFilter struct {
	Username string
	Email    string
	Role     string
	Limit    int
	Offset   int
}

// Store はusersテーブルへのクエリを実行する。
type Store struct {
	db *sql.DB
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const userColumns = "id, username, email, password_hash, role, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		u                User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
	return &u, nil
}

// Create はユーザーを作成する。
func (s *Store) Create(ctx context.Context, p CreateParams) (*User, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.Username, p.Email, p.PasswordHash, p.Role, now, now,
	)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ユーザーIDの取得に失敗: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID はIDでユーザーを取得する。
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return u, nil
}

// GetByUsername はユーザー名でユーザーを取得する。
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return u, nil
}

// ExistsByUsername はユーザー名が登録済みかを返す。
func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&n); err != nil {
		return false, fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	return n > 0, nil
}

// Count は登録済みユーザー数を返す。
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("ユーザー数の取得に失敗: %w", err)
	}
	return n, nil
}

// List は条件に一致するユーザーをID順で返す。2つ目の戻り値は条件に一致する総件数。
func (s *Store) List(ctx context.Context, f ListFilter) ([]User, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Username != "" {
		where = append(where, "username LIKE ?")
		args = append(args, "%"+f.Username+"%")
	}
	if f.Email != "" {
		where = append(where, "email LIKE ?")
		args = append(args, "%"+f.Email+"%")
	}
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ユーザー数の取得に失敗: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users"+cond+" ORDER BY id LIMIT ? OFFSET ?",
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ユーザーの読み取りに失敗: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	return users, total, nil
}

// Update はユーザーを更新して更新後の値を返す。
func (s *Store) Update(ctx context.Context, id int64, p UpdateParams) (*User, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().Unix()}
	if p.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *p.Username)
	}
	if p.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *p.Email)
	}
	if p.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *p.PasswordHash)
	}
	if p.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *p.Role)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("更新件数の取得に失敗: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// Delete はユーザーを削除する。
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// uniqueViolation は一意制約違反のエラーを対応するエラーに変換する。
func uniqueViolation(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: users.username"):
		return ErrUsernameTaken
	case strings.Contains(msg, "UNIQUE constraint failed: users.email"):
		return ErrEmailTaken
	default:
		return fmt.Errorf("ユーザーの保存に失敗: %w", err)
	}
}
