package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/session"
	"github.com/nao1215/smmsb/pkg/token"
)

// ErrInvalidCredentials はユーザー名またはパスワードが一致しない場合のエラー。
var ErrInvalidCredentials = errors.New("ユーザー名またはパスワードが正しくありません")

// validRoles は登録できるロール。
var validRoles = map[string]struct{}{
	authn.RoleAdmin:      {},
	authn.RoleSuperAdmin: {},
}

// ValidRole はロールが登録可能かを返す。
func ValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	// Session は作成したセッション。
	Session *session.Session
	// ExpiresAt はセッションの有効期限。
	ExpiresAt time.Time
}

// Auth はログインとログアウトを行う。
type Auth struct {
	users    *Store
	issuer   *token.Issuer
	sessions *session.Manager
	// hashCost はbcryptのコスト。テストでは最小値を使う。
	hashCost int
	// dummyHash は存在しないユーザーでも比較にかかる時間を揃えるためのハッシュ。
	dummyHash []byte
}

// NewAuth は新しいAuthを生成する。
func NewAuth(users *Store, issuer *token.Issuer, sessions *session.Manager, hashCost int) (*Auth, error) {
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), hashCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードハッシュの生成に失敗: %w", err)
	}
	return &Auth{users: users, issuer: issuer, sessions: sessions, hashCost: hashCost, dummyHash: dummy}, nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func (a *Auth) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.hashCost)
	if err != nil {
		return "", fmt.Errorf("パスワードハッシュの生成に失敗: %w", err)
	}
	return string(hash), nil
}

// Login はユーザー名とパスワードを検証し、トークンを発行してセッションを作成する。
func (a *Auth) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := a.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	signed, _, err := a.issuer.Issue(u.Username, u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	sess, err := a.sessions.Create(ctx, u.Username, signed, u.Role)
	if err != nil {
		return nil, fmt.Errorf("セッションの作成に失敗: %w", err)
	}
	return &LoginResult{Session: sess, ExpiresAt: sess.CreatedAt.Add(a.sessions.TTL())}, nil
}

// Logout はセッションを削除する。sessionIDが空の場合はユーザーの全セッションを削除する。
// 他のユーザーのセッションIDを指定した場合は何もせずエラーを返す。
func (a *Auth) Logout(ctx context.Context, p *authn.Principal, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		_, err := a.sessions.RevokeUser(ctx, p.Username)
		return err
	}

	sess, err := a.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Username != p.Username {
		return authn.NewError(authn.KindIdentityMismatch, errors.New("他のユーザーのセッションは削除できません"))
	}
	return a.sessions.Revoke(ctx, sessionID)
}

// RevokeUser はユーザーの全セッションを削除する。ロール変更や削除の際に使う。
func (a *Auth) RevokeUser(ctx context.Context, username string) error {
	_, err := a.sessions.RevokeUser(ctx, username)
	return err
}

// EnsureSuperAdmin はユーザーが1人もいない場合に特権管理者を作成する。
// 作成した場合はtrueを返す。
func (a *Auth) EnsureSuperAdmin(ctx context.Context, username, email, password string) (bool, error) {
	if username == "" {
		return false, nil
	}
	if password == "" {
		return false, errors.New("特権管理者のパスワードが設定されていません")
	}
	n, err := a.users.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	hash, err := a.HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := a.users.Create(ctx, CreateParams{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         authn.RoleSuperAdmin,
	}); err != nil {
		return false, fmt.Errorf("特権管理者の作成に失敗: %w", err)
	}
	return true, nil
}
