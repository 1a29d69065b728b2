package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/smmsb/pkg/authn"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/middleware"
	"github.com/nao1215/smmsb/pkg/session"
	"github.com/nao1215/smmsb/pkg/token"
)

// TokenVerifier はセッションに保存されたトークンを検証する。
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Decision は認証の結果。転送してよいリクエストに対してのみ生成される。
type Decision struct {
	// Bypass は公開パスなどでセッション検証を省略したことを表す。
	Bypass bool
	// Path は正規化済みのパス。ポリシー判定と転送の両方でこのパスを使う。
	Path string
	// Principal は検証済みのユーザー。Bypassの場合はnil。
	Principal *authn.Principal
}

// Apply は転送するリクエストのヘッダーを書き換える。
// クライアントが送ってきたIDヘッダーを削除し、検証済みの値と信頼マーカーを設定する。
func (d *Decision) Apply(h http.Header, marker authn.TrustMarker) {
	marker.StripInbound(h)
	if d.Principal != nil {
		h.Set(authn.HeaderAuthenticatedUser, d.Principal.Username)
		h.Set(authn.HeaderUserID, d.Principal.UserIDString())
		h.Set(authn.HeaderUserRole, d.Principal.Role)
	}
	marker.Stamp(h)
}

// Authenticator はGatewayの認証フィルター。
// 生成後は不変であり、全リクエストで共有する。セッションストアへの書き込みは行わない。
type Authenticator struct {
	store         session.Reader
	verifier      TokenVerifier
	policy        *authn.Policy
	marker        authn.TrustMarker
	lookupTimeout time.Duration
	metrics       *Metrics
	logger        *slog.Logger
}

// AuthenticatorConfig はAuthenticatorの依存関係。
type AuthenticatorConfig struct {
	Store         session.Reader
	Verifier      TokenVerifier
	Policy        *authn.Policy
	Marker        authn.TrustMarker
	LookupTimeout time.Duration
	// Metrics はnilでもよい。
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewAuthenticator は新しいAuthenticatorを生成する。
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.Store == nil {
		return nil, errors.New("セッションストアが指定されていません")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("トークン検証器が指定されていません")
	}
	if cfg.Policy == nil {
		return nil, errors.New("ロール制御テーブルが指定されていません")
	}
	if err := cfg.Marker.Validate(); err != nil {
		return nil, err
	}
	if cfg.LookupTimeout <= 0 {
		return nil, fmt.Errorf("セッション参照のタイムアウトは正の値である必要があります: %s", cfg.LookupTimeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		store:         cfg.Store,
		verifier:      cfg.Verifier,
		policy:        cfg.Policy,
		marker:        cfg.Marker,
		lookupTimeout: cfg.LookupTimeout,
		metrics:       cfg.Metrics,
		logger:        logging.WithComponent(logger, "authenticator"),
	}, nil
}

// Authenticate はパスとリクエストヘッダーから転送してよいかを判定する。
// 拒否する場合はauthn.Errorを返す。同じ入力に対しては何度呼んでも同じ結果になる。
func (a *Authenticator) Authenticate(ctx context.Context, rawPath string, h http.Header) (*Decision, error) {
	p := authn.CleanPath(rawPath)
	if a.policy.IsBypass(p) {
		return &Decision{Bypass: true, Path: p}, nil
	}

	sessionID := strings.TrimSpace(h.Get(authn.HeaderSessionID))
	if sessionID == "" {
		return nil, authn.NewError(authn.KindMissingSession, errors.New("セッションIDヘッダーがありません"))
	}

	sess, err := a.lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, authn.NewError(authn.KindInvalidSession, err)
		}
		return nil, authn.NewError(authn.KindStoreUnavailable, err)
	}
	if !sess.Complete() {
		return nil, authn.NewError(authn.KindInvalidSession, errors.New("セッションにユーザー名またはトークンがありません"))
	}

	claims, err := a.verifier.Verify(sess.Token)
	if err != nil {
		return nil, authn.NewError(authn.KindInvalidToken, err)
	}
	if claims.Subject != sess.Username {
		return nil, authn.NewError(authn.KindIdentityMismatch,
			fmt.Errorf("トークンのsubjectとセッションのユーザー名が一致しません: subject=%q username=%q", claims.Subject, sess.Username))
	}
	if !a.policy.Authorize(p, sess.Role) {
		return nil, authn.NewError(authn.KindInsufficientPrivilege,
			fmt.Errorf("ロールが許可されていません: role=%q prefix=%q", sess.Role, a.policy.Lookup(p).Prefix()))
	}

	userID, err := claims.NumericUserID()
	if err != nil {
		return nil, authn.NewError(authn.KindInternal, err)
	}

	return &Decision{
		Path:      p,
		Principal: &authn.Principal{Username: sess.Username, UserID: userID, Role: sess.Role},
	}, nil
}

// lookup はタイムアウト付きでセッションを取得する。
// クライアントの切断でリクエストのコンテキストがキャンセルされた場合も中断する。
func (a *Authenticator) lookup(ctx context.Context, id string) (*session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	start := time.Now()
	sess, err := a.store.Get(ctx, id)
	a.metrics.observeLookup(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Middleware はAuthenticateをGinミドルウェアとして適用する。
// 拒否した場合は後続のハンドラー（プロキシ）を呼ばない。
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logging.FromContext(c.Request.Context(), a.logger)
		a.marker.StripInbound(c.Request.Header)

		d, err := a.Authenticate(c.Request.Context(), c.Request.URL.Path, c.Request.Header)
		if err != nil {
			kind := authn.KindOf(err)
			attrs := []any{
				"kind", kind.String(),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err.Error(),
			}
			if kind == authn.KindInvalidToken {
				attrs = append(attrs, "reason", token.Reason(err))
			}
			if kind.Status() >= http.StatusInternalServerError {
				log.Error("リクエストを拒否", attrs...)
			} else {
				log.Warn("リクエストを拒否", attrs...)
			}
			a.metrics.observeDecision(outcomeReject, kind.String())
			middleware.AbortAuth(c, kind)
			return
		}

		d.Apply(c.Request.Header, a.marker)
		c.Request.URL.Path = d.Path
		c.Request.URL.RawPath = ""

		if d.Bypass {
			a.metrics.observeDecision(outcomeBypass, "")
		} else {
			a.metrics.observeDecision(outcomeForward, "")
			c.Request = c.Request.WithContext(authn.WithPrincipal(c.Request.Context(), d.Principal))
			log.Debug("認証済みリクエストを転送",
				"path", d.Path,
				"user", d.Principal.Username,
				"role", d.Principal.Role,
			)
		}
		c.Next()
	}
}
