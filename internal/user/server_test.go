package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/session"
	"github.com/nao1215/smmsb/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testKey はテスト用の署名鍵。
var testKey = []byte("0123456789abcdef0123456789abcdef")

// testEnv はテスト用のユーザーサーバーとその依存関係。
type testEnv struct {
	server *Server
	auth   *Auth
	users  *Store
	mr     *miniredis.Miniredis
}

// setupTestServer はインメモリSQLiteとminiredisでユーザーサーバーを構築する。
func setupTestServer(t *testing.T, policy session.Policy) *testEnv {
	t.Helper()

	db, err := OpenDB(context.Background(), ":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("データベースの初期化に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	manager, err := session.NewManager(session.NewRedisStore(client), time.Hour, policy)
	if err != nil {
		t.Fatalf("NewManager()でエラーが発生: %v", err)
	}
	issuer, err := token.NewIssuer(testKey, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer()でエラーが発生: %v", err)
	}
	users := NewStore(db)
	auth, err := NewAuth(users, issuer, manager, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewAuth()でエラーが発生: %v", err)
	}

	s := NewServer("0", db, auth, authn.DefaultTrustMarker(), logging.Discard())
	return &testEnv{server: s, auth: auth, users: users, mr: mr}
}

// seedUser はパスワード付きのユーザーを登録する。
func (e *testEnv) seedUser(t *testing.T, username, password, role string) *User {
	t.Helper()

	hash, err := e.auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword()でエラーが発生: %v", err)
	}
	u, err := e.users.Create(context.Background(), CreateParams{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		t.Fatalf("テスト用ユーザーの作成に失敗: %v", err)
	}
	return u
}

// principalOf はユーザーのPrincipalを返す。
func principalOf(u *User) *authn.Principal {
	return &authn.Principal{Username: u.Username, UserID: u.ID, Role: u.Role}
}

// doRequest はGateway経由を模したリクエストを実行する。
// pがnilでない場合はGatewayが付与するIDヘッダーを設定する。
func doRequest(h http.Handler, method, path string, p *authn.Principal, body any, headers ...string) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	authn.DefaultTrustMarker().Stamp(req.Header)
	if p != nil {
		req.Header.Set(authn.HeaderAuthenticatedUser, p.Username)
		req.Header.Set(authn.HeaderUserID, p.UserIDString())
		req.Header.Set(authn.HeaderUserRole, p.Role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// login はログインAPIを呼び出してセッションIDを返す。
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()

	w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/login", nil,
		map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("ログインのステータスコード = %d, body=%s", w.Code, w.Body.String())
	}
	return parseJSON(t, w)["session_id"].(string)
}

// TestLogin はログインを検証する。
func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("ログインに成功するとセッションが作成されること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		alice := e.seedUser(t, "alice", "password123", authn.RoleAdmin)

		w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/login", nil,
			map[string]string{"username": "alice", "password": "password123"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		body := parseJSON(t, w)
		sid, _ := body["session_id"].(string)
		if sid == "" {
			t.Fatal("session_idが空")
		}
		if body["username"] != "alice" || body["role"] != authn.RoleAdmin {
			t.Errorf("レスポンス = %v", body)
		}
		if _, err := time.Parse(time.RFC3339, body["expires_at"].(string)); err != nil {
			t.Errorf("expires_atの形式が不正: %v", err)
		}
		if _, ok := body["token"]; ok {
			t.Error("トークンをクライアントに返してはならない")
		}

		key := session.Key(sid)
		if got := e.mr.HGet(key, "username"); got != "alice" {
			t.Errorf("セッションのusername = %q", got)
		}
		if ttl := e.mr.TTL(key); ttl != time.Hour {
			t.Errorf("セッションのTTL = %v, want %v", ttl, time.Hour)
		}

		verifier, err := token.NewVerifier(testKey, 0)
		if err != nil {
			t.Fatalf("NewVerifier()でエラーが発生: %v", err)
		}
		claims, err := verifier.Verify(e.mr.HGet(key, "token"))
		if err != nil {
			t.Fatalf("保存されたトークンの検証に失敗: %v", err)
		}
		if id, _ := claims.NumericUserID(); claims.Subject != "alice" || id != alice.ID {
			t.Errorf("クレーム = %+v", claims)
		}
	})

	t.Run("認証に失敗する場合は401になること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		e.seedUser(t, "alice", "password123", authn.RoleAdmin)

		for _, req := range []map[string]string{
			{"username": "alice", "password": "wrong-password"},
			{"username": "nobody", "password": "password123"},
		} {
			w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/login", nil, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		}
		if keys := e.mr.Keys(); len(keys) != 0 {
			t.Errorf("セッションが作成された: %v", keys)
		}
	})

	t.Run("必須項目が無い場合は400になること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/login", nil, map[string]string{"username": "alice"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("セッションストアの障害時は503になること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		e.seedUser(t, "alice", "password123", authn.RoleAdmin)
		e.mr.SetError("ERR server unavailable")

		w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/login", nil,
			map[string]string{"username": "alice", "password": "password123"})
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// TestLoginSessionPolicy は同一ユーザーの再ログイン時のセッションの扱いを検証する。
func TestLoginSessionPolicy(t *testing.T) {
	t.Parallel()

	t.Run("single: 再ログインで以前のセッションが無効になること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		e.seedUser(t, "alice", "password123", authn.RoleAdmin)

		first := e.login(t, "alice", "password123")
		second := e.login(t, "alice", "password123")
		if first == second {
			t.Fatal("セッションIDが再利用された")
		}
		if e.mr.Exists(session.Key(first)) {
			t.Error("以前のセッションが残っている")
		}
		if !e.mr.Exists(session.Key(second)) {
			t.Error("新しいセッションが存在しない")
		}
	})

	t.Run("concurrent: 以前のセッションも有効なままであること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicyConcurrent)
		e.seedUser(t, "alice", "password123", authn.RoleAdmin)

		first := e.login(t, "alice", "password123")
		second := e.login(t, "alice", "password123")
		if !e.mr.Exists(session.Key(first)) || !e.mr.Exists(session.Key(second)) {
			t.Error("両方のセッションが存在するべき")
		}
	})
}

// TestLogout はログアウトを検証する。
func TestLogout(t *testing.T) {
	t.Parallel()

	t.Run("自分のセッションが削除されること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		alice := e.seedUser(t, "alice", "password123", authn.RoleAdmin)
		sid := e.login(t, "alice", "password123")

		w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/logout", principalOf(alice), nil,
			authn.HeaderSessionID, sid)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if e.mr.Exists(session.Key(sid)) {
			t.Error("セッションが削除されていない")
		}
	})

	t.Run("他のユーザーのセッションは削除できないこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		e.seedUser(t, "alice", "password123", authn.RoleAdmin)
		bob := e.seedUser(t, "bob", "password123", authn.RoleAdmin)
		aliceSID := e.login(t, "alice", "password123")

		w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/logout", principalOf(bob), nil,
			authn.HeaderSessionID, aliceSID)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		if !e.mr.Exists(session.Key(aliceSID)) {
			t.Error("他のユーザーのセッションが削除された")
		}
	})

	t.Run("IDヘッダーが無い場合は401になること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t, session.PolicySingle)
		w := doRequest(e.server.Handler(), http.MethodPost, "/api/v1/auth/logout", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestUserExists はユーザー名の存在確認を検証する。
func TestUserExists(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t, session.PolicySingle)
	e.seedUser(t, "alice", "password123", authn.RoleAdmin)

	w := doRequest(e.server.Handler(), http.MethodGet, "/api/v1/users/exist?username=alice", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if parseJSON(t, w)["exists"] != true {
		t.Error("exists = false, want true")
	}

	w = doRequest(e.server.Handler(), http.MethodGet, "/api/v1/users/exist?username=nobody", nil, nil)
	if parseJSON(t, w)["exists"] != false {
		t.Error("exists = true, want false")
	}

	w = doRequest(e.server.Handler(), http.MethodGet, "/api/v1/users/exist", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// TestUserManagement はロールごとのユーザー管理APIの認可を検証する。
func TestUserManagement(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t, session.PolicySingle)
	root := e.seedUser(t, "root", "password123", authn.RoleSuperAdmin)
	admin := e.seedUser(t, "alice", "password123", authn.RoleAdmin)
	h := e.server.Handler()

	newUser := map[string]string{
		"username": "carol",
		"password": "password123",
		"email":    "carol@example.com",
		"role":     authn.RoleAdmin,
	}

	t.Run("ADMINは一覧を参照できること", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/users?size=1", principalOf(admin), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		body := parseJSON(t, w)
		if body["total"].(float64) != 2 || len(body["data"].([]any)) != 1 {
			t.Errorf("レスポンス = %v", body)
		}
	})

	t.Run("ADMINはユーザーを作成できないこと", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, "/api/v1/users", principalOf(admin), newUser)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("IDヘッダーが無い場合は401になること", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/users", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	var carolID int64
	t.Run("SUPERADMINはユーザーを作成できること", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, "/api/v1/users", principalOf(root), newUser)
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		body := parseJSON(t, w)
		if _, ok := body["password_hash"]; ok {
			t.Error("パスワードハッシュを返してはならない")
		}
		carolID = int64(body["id"].(float64))
	})

	t.Run("重複したユーザー名は409になること", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, "/api/v1/users", principalOf(root), newUser)
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("不明なロールは400になること", func(t *testing.T) {
		req := map[string]string{"username": "dave", "password": "password123", "email": "dave@example.com", "role": "ROLE_ROOT"}
		w := doRequest(h, http.MethodPost, "/api/v1/users", principalOf(root), req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("ロールを変更すると既存のセッションが削除されること", func(t *testing.T) {
		sid := e.login(t, "carol", "password123")
		path := "/api/v1/users/" + strconv.FormatInt(carolID, 10)
		w := doRequest(h, http.MethodPut, path, principalOf(root), map[string]string{"role": authn.RoleSuperAdmin})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if parseJSON(t, w)["role"] != authn.RoleSuperAdmin {
			t.Error("ロールが更新されていない")
		}
		if e.mr.Exists(session.Key(sid)) {
			t.Error("ロール変更後もセッションが残っている")
		}
	})

	t.Run("存在しないユーザーは404になること", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/users/999", principalOf(admin), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("自分自身は削除できないこと", func(t *testing.T) {
		path := "/api/v1/users/" + strconv.FormatInt(root.ID, 10)
		w := doRequest(h, http.MethodDelete, path, principalOf(root), nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("削除するとセッションも削除されること", func(t *testing.T) {
		sid := e.login(t, "carol", "password123")
		path := "/api/v1/users/" + strconv.FormatInt(carolID, 10)
		w := doRequest(h, http.MethodDelete, path, principalOf(root), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if e.mr.Exists(session.Key(sid)) {
			t.Error("削除したユーザーのセッションが残っている")
		}
		if w := doRequest(h, http.MethodGet, path, principalOf(admin), nil); w.Code != http.StatusNotFound {
			t.Errorf("削除後のステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestGatewayTrustRequired はGatewayを経由しないリクエストが拒否されることを検証する。
func TestGatewayTrustRequired(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t, session.PolicySingle)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set(authn.HeaderAuthenticatedUser, "mallory")
	req.Header.Set(authn.HeaderUserID, "1")
	req.Header.Set(authn.HeaderUserRole, authn.RoleSuperAdmin)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("ヘルスチェックのステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestEnsureSuperAdmin は初回起動時の特権管理者作成を検証する。
func TestEnsureSuperAdmin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setupTestServer(t, session.PolicySingle)

	created, err := e.auth.EnsureSuperAdmin(ctx, "root", "root@example.com", "password123")
	if err != nil || !created {
		t.Fatalf("EnsureSuperAdmin() = (%v, %v), want (true, nil)", created, err)
	}
	u, err := e.users.GetByUsername(ctx, "root")
	if err != nil {
		t.Fatalf("GetByUsername()でエラーが発生: %v", err)
	}
	if u.Role != authn.RoleSuperAdmin {
		t.Errorf("Role = %q, want %q", u.Role, authn.RoleSuperAdmin)
	}

	created, err = e.auth.EnsureSuperAdmin(ctx, "root2", "root2@example.com", "password123")
	if err != nil || created {
		t.Errorf("2回目のEnsureSuperAdmin() = (%v, %v), want (false, nil)", created, err)
	}
	if created, err := e.auth.EnsureSuperAdmin(ctx, "", "", ""); err != nil || created {
		t.Errorf("ユーザー名が空のEnsureSuperAdmin() = (%v, %v), want (false, nil)", created, err)
	}
	if _, err := e.auth.EnsureSuperAdmin(ctx, "root3", "", ""); err == nil {
		t.Error("パスワードが空の場合はエラーになるべき")
	}
}
