package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nao1215/smmsb/pkg/authn"
)

// 環境変数を変更するためt.Setenvを使う。t.Setenvを使うテストは並行実行できない。

// TestTypedGetters は型付きの取得関数を検証する。
func TestTypedGetters(t *testing.T) {
	t.Setenv("CFG_INT", "42")
	t.Setenv("CFG_BAD_INT", "x")
	t.Setenv("CFG_DUR", "90s")
	t.Setenv("CFG_BAD_DUR", "forever")
	t.Setenv("CFG_NEG_DUR", "-1s")
	t.Setenv("CFG_LIST", " a, ,b ,c")

	if n, err := Int("CFG_INT", 1); err != nil || n != 42 {
		t.Errorf("Int() = (%d, %v), want (42, nil)", n, err)
	}
	if n, err := Int("CFG_UNSET_INT", 7); err != nil || n != 7 {
		t.Errorf("Int() = (%d, %v), want (7, nil)", n, err)
	}
	if _, err := Int("CFG_BAD_INT", 1); err == nil {
		t.Error("整数でない値はエラーになるべき")
	}
	if d, err := Duration("CFG_DUR", time.Second); err != nil || d != 90*time.Second {
		t.Errorf("Duration() = (%v, %v), want (90s, nil)", d, err)
	}
	if _, err := Duration("CFG_BAD_DUR", time.Second); err == nil {
		t.Error("期間でない値はエラーになるべき")
	}
	if _, err := Duration("CFG_NEG_DUR", time.Second); err == nil {
		t.Error("負の期間はエラーになるべき")
	}
	if got := List("CFG_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("List() = %v", got)
	}
	if got := String("CFG_UNSET_STR", "def"); got != "def" {
		t.Errorf("String() = %q, want %q", got, "def")
	}
	if _, err := Required("CFG_UNSET_STR"); err == nil {
		t.Error("未設定の必須値はエラーになるべき")
	}
}

// TestLoadTrustMarker は信頼マーカーの読み込みを検証する。
func TestLoadTrustMarker(t *testing.T) {
	m, err := LoadTrustMarker()
	if err != nil {
		t.Fatalf("LoadTrustMarker()でエラーが発生: %v", err)
	}
	if m != authn.DefaultTrustMarker() {
		t.Errorf("TrustMarker = %+v, want default", m)
	}

	t.Setenv("GATEWAY_HEADER_NAME", "X-User-Role")
	if _, err := LoadTrustMarker(); err == nil {
		t.Error("予約済みヘッダー名はエラーになるべき")
	}
}

// TestLoadJWTKey は署名鍵の読み込みを検証する。
func TestLoadJWTKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadJWTKey(); err == nil {
		t.Error("未設定の場合はエラーになるべき")
	}

	t.Setenv("JWT_SECRET", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := LoadJWTKey(); err == nil {
		t.Error("短い鍵はエラーになるべき")
	}

	key := []byte("0123456789abcdef0123456789abcdef")
	t.Setenv("JWT_SECRET", base64.StdEncoding.EncodeToString(key))
	got, err := LoadJWTKey()
	if err != nil {
		t.Fatalf("LoadJWTKey()でエラーが発生: %v", err)
	}
	if string(got) != string(key) {
		t.Errorf("key = %q", got)
	}
}

// TestLoadDotEnv は.envファイルの読み込みを検証する。
func TestLoadDotEnv(t *testing.T) {
	t.Setenv("CFG_FROM_DOTENV", "")
	os.Unsetenv("CFG_FROM_DOTENV")

	filename := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(filename, []byte("CFG_FROM_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("ファイル書き込みに失敗: %v", err)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), filename); err != nil {
		t.Fatalf("LoadDotEnv()でエラーが発生: %v", err)
	}
	if got := os.Getenv("CFG_FROM_DOTENV"); got != "loaded" {
		t.Errorf("CFG_FROM_DOTENV = %q, want %q", got, "loaded")
	}
}
