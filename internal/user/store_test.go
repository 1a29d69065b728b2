package user

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
)

// setupTestStore はインメモリSQLiteを使ったStoreを生成する。
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := OpenDB(context.Background(), ":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("データベースの初期化に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func mustCreate(t *testing.T, s *Store, username, email, role string) *User {
	t.Helper()

	u, err := s.Create(context.Background(), CreateParams{
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("Create()でエラーが発生: %v", err)
	}
	return u
}

// TestStoreCreate はユーザーの作成と一意制約を検証する。
func TestStoreCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestStore(t)

	u := mustCreate(t, s, "alice", "alice@example.com", authn.RoleAdmin)
	if u.ID <= 0 || u.Username != "alice" || u.Role != authn.RoleAdmin {
		t.Errorf("User = %+v", u)
	}

	_, err := s.Create(ctx, CreateParams{Username: "alice", Email: "other@example.com", PasswordHash: "h", Role: authn.RoleAdmin})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("ユーザー名重複のエラー = %v, want ErrUsernameTaken", err)
	}
	_, err = s.Create(ctx, CreateParams{Username: "bob", Email: "alice@example.com", PasswordHash: "h", Role: authn.RoleAdmin})
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("メール重複のエラー = %v, want ErrEmailTaken", err)
	}

	got, err := s.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername()でエラーが発生: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %d, want %d", got.ID, u.ID)
	}
	if _, err := s.GetByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID()のエラー = %v, want ErrNotFound", err)
	}
	if exists, err := s.ExistsByUsername(ctx, "carol"); err != nil || exists {
		t.Errorf("ExistsByUsername() = (%v, %v), want (false, nil)", exists, err)
	}
}

// TestStoreList は絞り込みとページングを検証する。
func TestStoreList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "alice", "alice@example.com", authn.RoleAdmin)
	mustCreate(t, s, "alicia", "alicia@corp.example", authn.RoleSuperAdmin)
	mustCreate(t, s, "bob", "bob@example.com", authn.RoleAdmin)

	tests := []struct {
		name      string
		filter    ListFilter
		wantNames []string
		wantTotal int
	}{
		{name: "条件なし", filter: ListFilter{}, wantNames: []string{"alice", "alicia", "bob"}, wantTotal: 3},
		{name: "ユーザー名の部分一致", filter: ListFilter{Username: "ali"}, wantNames: []string{"alice", "alicia"}, wantTotal: 2},
		{name: "ロールの完全一致", filter: ListFilter{Role: authn.RoleAdmin}, wantNames: []string{"alice", "bob"}, wantTotal: 2},
		{name: "メールの部分一致", filter: ListFilter{Email: "corp"}, wantNames: []string{"alicia"}, wantTotal: 1},
		{name: "ページング", filter: ListFilter{Limit: 1, Offset: 1}, wantNames: []string{"alicia"}, wantTotal: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, total, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List()でエラーが発生: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(users) != len(tt.wantNames) {
				t.Fatalf("件数 = %d, want %d", len(users), len(tt.wantNames))
			}
			for i, u := range users {
				if u.Username != tt.wantNames[i] {
					t.Errorf("users[%d] = %q, want %q", i, u.Username, tt.wantNames[i])
				}
			}
		})
	}
}

// TestStoreUpdateDelete は更新と削除を検証する。
func TestStoreUpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestStore(t)
	alice := mustCreate(t, s, "alice", "alice@example.com", authn.RoleAdmin)
	mustCreate(t, s, "bob", "bob@example.com", authn.RoleAdmin)

	role := authn.RoleSuperAdmin
	u, err := s.Update(ctx, alice.ID, UpdateParams{Role: &role})
	if err != nil {
		t.Fatalf("Update()でエラーが発生: %v", err)
	}
	if u.Role != authn.RoleSuperAdmin || u.Email != "alice@example.com" {
		t.Errorf("User = %+v", u)
	}

	taken := "bob"
	if _, err := s.Update(ctx, alice.ID, UpdateParams{Username: &taken}); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("Update()のエラー = %v, want ErrUsernameTaken", err)
	}
	if _, err := s.Update(ctx, 999, UpdateParams{Role: &role}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update()のエラー = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, alice.ID); err != nil {
		t.Fatalf("Delete()でエラーが発生: %v", err)
	}
	if err := s.Delete(ctx, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("2回目のDelete()のエラー = %v, want ErrNotFound", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count() = (%d, %v), want (1, nil)", n, err)
	}
}
