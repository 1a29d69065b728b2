package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound は取引が存在しない場合のエラー。
var ErrNotFound = errors.New("取引が見つかりません")

// Transaction はtransactionsテーブルの1行。
type Transaction struct {
	ID          int64
	UserID      int64
	ProductID   int64
	ProductName string
	// Price は取引時点の単価（最小通貨単位）。
	Price       int64
	Quantity    int
	TotalAmount int64
	CreatedAt   time.Time
}

// ListFilter は一覧取得時の絞り込み条件。
type ListFilter struct {
	// UserID が0以外の場合はそのユーザーの取引のみを返す。
	UserID int64
	// ProductName は商品名の部分一致条件。
	ProductName string
	Limit       int
	Offset      int
}

// Store はtransactionsテーブルへのクエリを実行する。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const transactionColumns = "id, user_id, product_id, product_name, price, quantity, total_amount, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var (
		t       Transaction
		created int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.ProductID, &t.ProductName, &t.Price,
		&t.Quantity, &t.TotalAmount, &created); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	return &t, nil
}

// Create は取引を保存する。IDと作成日時は保存時に設定する。
func (s *Store) Create(ctx context.Context, t *Transaction) error {
	t.CreatedAt = s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, product_id, product_name, price, quantity, total_amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.ProductID, t.ProductName, t.Price, t.Quantity, t.TotalAmount, t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("取引の保存に失敗: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("取引IDの取得に失敗: %w", err)
	}
	t.ID = id
	return nil
}

// GetByID はIDで取引を取得する。
func (s *Store) GetByID(ctx context.Context, id int64) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("取引の取得に失敗: %w", err)
	}
	return t, nil
}

// List は条件に一致する取引を新しい順で返す。2つ目の戻り値は条件に一致する総件数。
func (s *Store) List(ctx context.Context, f ListFilter) ([]Transaction, int, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ProductName != "" {
		where = append(where, "product_name LIKE ?")
		args = append(args, "%"+f.ProductName+"%")
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("取引数の取得に失敗: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions"+cond+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("取引一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("取引の読み取りに失敗: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("取引一覧の取得に失敗: %w", err)
	}
	return txs, total, nil
}

// Delete は取引を削除する。イベントの発行に失敗した取引を取り消すために使う。
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id); err != nil {
		return fmt.Errorf("取引の削除に失敗: %w", err)
	}
	return nil
}
