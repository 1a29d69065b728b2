package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/session"
	"github.com/nao1215/smmsb/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// received はバックエンドが受け取ったリクエストの内容。
type received struct {
	Path    string `json:"path"`
	User    string `json:"user"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Marker  string `json:"marker"`
	Session string `json:"session"`
}

// echoBackend は受け取ったヘッダーをJSONで返すバックエンドを起動する。
func echoBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(received{
			Path:    r.URL.Path,
			User:    r.Header.Get(authn.HeaderAuthenticatedUser),
			UserID:  r.Header.Get(authn.HeaderUserID),
			Role:    r.Header.Get(authn.HeaderUserRole),
			Marker:  r.Header.Get(authn.DefaultTrustHeaderName),
			Session: r.Header.Get(authn.HeaderSessionID),
		})
	}))
	t.Cleanup(backend.Close)
	return backend, &calls
}

// testServer はテスト用のGatewayサーバーとその依存関係。
type testServer struct {
	*Server
	mr     *miniredis.Miniredis
	store  *session.RedisStore
	issuer *token.Issuer
}

// newTestServer はminiredisと指定したバックエンドを使うGatewayサーバーを生成する。
func newTestServer(t *testing.T, backendURL string) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := session.NewRedisStore(client)

	cfg := Config{
		Port:          "0",
		FrontendURL:   "http://localhost:3000",
		JWTKey:        testKey,
		Trust:         authn.DefaultTrustMarker(),
		LookupTimeout: time.Second,
		Policy:        authn.DefaultPolicy(),
		Upstreams: Upstreams{
			User:         backendURL,
			Inventory:    backendURL,
			Transaction:  backendURL,
			Notification: backendURL,
		},
	}
	s, err := NewServer(cfg, store, logging.Discard())
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}

	issuer, err := token.NewIssuer(testKey, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer()でエラーが発生: %v", err)
	}
	return &testServer{Server: s, mr: mr, store: store, issuer: issuer}
}

// login はセッションを作成してセッションIDを返す。
func (ts *testServer) login(t *testing.T, username string, userID int64, role string) string {
	t.Helper()

	f := &fixture{store: ts.store, issuer: ts.issuer}
	return f.login(t, username, userID, role)
}

// serve はハンドラーを起動したテストサーバーにGETリクエストを送り、レスポンスを返す。
// ReverseProxyはhttptest.ResponseRecorderを扱えないため、実際のHTTP接続を使う。
func serve(t *testing.T, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	srv := httptest.NewServer(h)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("リクエストの作成に失敗: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("リクエストの送信に失敗: %v", err)
	}
	defer resp.Body.Close()

	w := httptest.NewRecorder()
	w.Code = resp.StatusCode
	if _, err := io.Copy(w.Body, resp.Body); err != nil {
		t.Fatalf("レスポンスの読み取りに失敗: %v", err)
	}
	return w
}

// newAuthRouter は認証フィルターだけを適用したルーターを生成する。
func newAuthRouter(auth *Authenticator) *gin.Engine {
	router := gin.New()
	router.NoRoute(auth.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"path": c.Request.URL.Path})
	})
	return router
}

func decodeReceived(t *testing.T, w *httptest.ResponseRecorder) received {
	t.Helper()

	var got received
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v (body=%s)", err, w.Body.String())
	}
	return got
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v (body=%s)", err, w.Body.String())
	}
	return body["error"]
}

// TestGatewayScenario はセッションを使った一連のリクエストを検証する。
func TestGatewayScenario(t *testing.T) {
	t.Parallel()

	backend, calls := echoBackend(t)
	ts := newTestServer(t, backend.URL)
	sid := ts.login(t, "alice", 7, authn.RoleAdmin)

	t.Run("ADMINの在庫アクセスは検証済みのIDヘッダー付きで転送されること", func(t *testing.T) {
		w := serve(t, ts.Handler(), "/api/v1/inventory/42", map[string]string{
			authn.HeaderSessionID:         sid,
			authn.HeaderAuthenticatedUser: "mallory",
			authn.HeaderUserID:            "1",
			authn.HeaderUserRole:          authn.RoleSuperAdmin,
			authn.DefaultTrustHeaderName:  "enabled",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
		}

		got := decodeReceived(t, w)
		want := received{
			Path:    "/api/v1/inventory/42",
			User:    "alice",
			UserID:  "7",
			Role:    authn.RoleAdmin,
			Marker:  "enabled",
			Session: sid,
		}
		if got != want {
			t.Errorf("転送されたリクエスト = %+v, want %+v", got, want)
		}
	})

	t.Run("同じセッションでユーザー管理にアクセスすると403になること", func(t *testing.T) {
		before := calls.Load()
		w := serve(t, ts.Handler(), "/api/v1/users/1", map[string]string{authn.HeaderSessionID: sid})
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		if msg := errorMessage(t, w); msg != authn.KindInsufficientPrivilege.Message() {
			t.Errorf("エラーメッセージ = %q", msg)
		}
		if calls.Load() != before {
			t.Error("拒否したリクエストが転送された")
		}
	})

	t.Run("存在しないセッションIDは401になること", func(t *testing.T) {
		before := calls.Load()
		w := serve(t, ts.Handler(), "/api/v1/inventory", map[string]string{authn.HeaderSessionID: "missing-id"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if calls.Load() != before {
			t.Error("拒否したリクエストが転送された")
		}
	})

	t.Run("セッションIDが無い場合は401になること", func(t *testing.T) {
		before := calls.Load()
		w := serve(t, ts.Handler(), "/api/v1/transactions", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if msg := errorMessage(t, w); msg != authn.KindMissingSession.Message() {
			t.Errorf("エラーメッセージ = %q", msg)
		}
		if calls.Load() != before {
			t.Error("拒否したリクエストが転送された")
		}
	})

	t.Run("公開パスは信頼マーカー付きでIDヘッダー無しに転送されること", func(t *testing.T) {
		w := serve(t, ts.Handler(), "/api/v1/auth/login", map[string]string{
			authn.HeaderAuthenticatedUser: "mallory",
			authn.HeaderUserRole:          authn.RoleSuperAdmin,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		got := decodeReceived(t, w)
		if got.Marker != "enabled" {
			t.Errorf("信頼マーカー = %q, want %q", got.Marker, "enabled")
		}
		if got.User != "" || got.Role != "" || got.UserID != "" {
			t.Errorf("クライアントのIDヘッダーが転送された: %+v", got)
		}
	})

	t.Run("正規化したパスで転送されること", func(t *testing.T) {
		w := serve(t, ts.Handler(), "/api/v1/inventory/1/../2", map[string]string{authn.HeaderSessionID: sid})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := decodeReceived(t, w); got.Path != "/api/v1/inventory/2" {
			t.Errorf("転送されたパス = %q, want %q", got.Path, "/api/v1/inventory/2")
		}
	})

	t.Run("転送先の無いパスは404になること", func(t *testing.T) {
		w := serve(t, ts.Handler(), "/api/v2/unknown", map[string]string{authn.HeaderSessionID: sid})
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestGatewaySessionExpiry はTTLで失効したセッションが拒否されることを検証する。
func TestGatewaySessionExpiry(t *testing.T) {
	t.Parallel()

	backend, _ := echoBackend(t)
	ts := newTestServer(t, backend.URL)
	sid := ts.login(t, "alice", 7, authn.RoleAdmin)

	if w := serve(t, ts.Handler(), "/api/v1/inventory", map[string]string{authn.HeaderSessionID: sid}); w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	ts.mr.FastForward(2 * time.Hour)

	if w := serve(t, ts.Handler(), "/api/v1/inventory", map[string]string{authn.HeaderSessionID: sid}); w.Code != http.StatusUnauthorized {
		t.Errorf("失効後のステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestGatewayUpstreamDown は転送先が停止している場合に502を返すことを検証する。
func TestGatewayUpstreamDown(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	ts := newTestServer(t, url)
	w := serve(t, ts.Handler(), "/api/v1/auth/login", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

// TestGatewayHealth はヘルスチェックを検証する。
func TestGatewayHealth(t *testing.T) {
	t.Parallel()

	backend, calls := echoBackend(t)
	ts := newTestServer(t, backend.URL)

	w := serve(t, ts.Handler(), "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}

	ts.mr.SetError("ERR server unavailable")
	w = serve(t, ts.Handler(), "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("障害時のステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	w = serve(t, ts.Handler(), "/api/v1/inventory", map[string]string{authn.HeaderSessionID: "sid"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ストア障害時のステータスコード = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if calls.Load() != 0 {
		t.Error("ヘルスチェックが転送された")
	}
}

// TestGatewayMetricsEndpoint は/metricsで認証メトリクスが公開されることを検証する。
func TestGatewayMetricsEndpoint(t *testing.T) {
	t.Parallel()

	backend, _ := echoBackend(t)
	ts := newTestServer(t, backend.URL)

	serve(t, ts.Handler(), "/api/v1/inventory", nil)

	w := serve(t, ts.Handler(), "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("レスポンスの読み取りに失敗: %v", err)
	}
	want := `gateway_auth_decisions_total{kind="MissingSession",outcome="reject"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("メトリクスに %q が含まれていない", want)
	}
}
