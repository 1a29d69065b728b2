package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound は商品が存在しない場合のエラー。
	ErrNotFound = errors.New("商品が見つかりません")
	// ErrInsufficientStock は在庫数が足りない場合のエラー。
	ErrInsufficientStock = errors.New("在庫が不足しています")
)

// Product はproductsテーブルの1行。
type Product struct {
	ID          int64
	Name        string
	Description string
	Quantity    int
	// Price は最小通貨単位での単価。
	Price      int64
	CreatedBy  int64
	IsLowStock bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams は商品作成時のパラメータ。
type CreateParams struct {
	Name        string
	Description string
	Quantity    int
	Price       int64
	CreatedBy   int64
}

// UpdateParams は商品更新時のパラメータ。nilのフィールドは変更しない。
type UpdateParams struct {
	Name        *string
	Description *string
	Quantity    *int
	Price       *int64
}

// ListFilter は一覧取得時の絞り込み条件。
type ListFilter struct {
	// Name は商品名の部分一致条件。
	Name string
	// LowStockOnly がtrueの場合は在庫不足の商品のみを返す。
	LowStockOnly bool
	Limit        int
	Offset       int
}

// StockChange は在庫数の変更結果。
type StockChange struct {
	// Product は変更後の商品。
	Product *Product
	// BecameLow は今回の変更で在庫不足になった場合にtrue。
	BecameLow bool
}

// Store はproductsテーブルへのクエリを実行する。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const productColumns = "id, name, description, quantity, price, created_by, is_low_stock, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*Product, error) {
	var (
		p                Product
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Quantity, &p.Price,
		&p.CreatedBy, &p.IsLowStock, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	return &p, nil
}

// Create は商品を作成する。在庫不足フラグはthresholdで判定する。
func (s *Store) Create(ctx context.Context, p CreateParams, threshold int) (*Product, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, description, quantity, price, created_by, is_low_stock, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Quantity, p.Price, p.CreatedBy, p.Quantity <= threshold, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("商品の作成に失敗: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("商品IDの取得に失敗: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID はIDで商品を取得する。
func (s *Store) GetByID(ctx context.Context, id int64) (*Product, error) {
	return getProduct(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProduct(ctx context.Context, q queryRower, id int64) (*Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗: %w", err)
	}
	return p, nil
}

// List は条件に一致する商品をID順で返す。2つ目の戻り値は条件に一致する総件数。
func (s *Store) List(ctx context.Context, f ListFilter) ([]Product, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+f.Name+"%")
	}
	if f.LowStockOnly {
		where = append(where, "is_low_stock = 1")
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("商品数の取得に失敗: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products"+cond+" ORDER BY id LIMIT ? OFFSET ?",
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("商品一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("商品の読み取りに失敗: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("商品一覧の取得に失敗: %w", err)
	}
	return products, total, nil
}

// Update は商品を更新する。在庫数を変更した場合は在庫不足フラグをthresholdで判定し直す。
func (s *Store) Update(ctx context.Context, id int64, p UpdateParams, threshold int) (*StockChange, error) {
	return s.withTx(ctx, id, func(tx *sql.Tx, before *Product) error {
		sets := []string{"updated_at = ?"}
		args := []any{s.now().Unix()}
		if p.Name != nil {
			sets = append(sets, "name = ?")
			args = append(args, *p.Name)
		}
		if p.Description != nil {
			sets = append(sets, "description = ?")
			args = append(args, *p.Description)
		}
		if p.Quantity != nil {
			sets = append(sets, "quantity = ?", "is_low_stock = ?")
			args = append(args, *p.Quantity, *p.Quantity <= threshold)
		}
		if p.Price != nil {
			sets = append(sets, "price = ?")
			args = append(args, *p.Price)
		}
		args = append(args, id)

		if _, err := tx.ExecContext(ctx, "UPDATE products SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return fmt.Errorf("商品の更新に失敗: %w", err)
		}
		return nil
	})
}

// DecrementStock は在庫数をquantityだけ減らす。在庫が足りない場合はErrInsufficientStockを返す。
func (s *Store) DecrementStock(ctx context.Context, id int64, quantity, threshold int) (*StockChange, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("減らす数量は正の値である必要があります: %d", quantity)
	}
	return s.withTx(ctx, id, func(tx *sql.Tx, before *Product) error {
		if before.Quantity < quantity {
			return fmt.Errorf("%w: product_id=%d, stock=%d, requested=%d", ErrInsufficientStock, id, before.Quantity, quantity)
		}
		remaining := before.Quantity - quantity
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET quantity = ?, is_low_stock = ?, updated_at = ? WHERE id = ?",
			remaining, remaining <= threshold, s.now().Unix(), id,
		); err != nil {
			return fmt.Errorf("在庫数の更新に失敗: %w", err)
		}
		return nil
	})
}

// withTx は商品を読み込んでからfnを実行し、変更後の商品を返す。
func (s *Store) withTx(ctx context.Context, id int64, fn func(tx *sql.Tx, before *Product) error) (*StockChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	before, err := getProduct(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(tx, before); err != nil {
		return nil, err
	}
	after, err := getProduct(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return &StockChange{Product: after, BecameLow: after.IsLowStock && !before.IsLowStock}, nil
}

// Delete は商品を削除する。
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("商品の削除に失敗: %w", err)
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
