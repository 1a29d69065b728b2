// ユーザーサービスのエントリポイント。
// ログインとログアウト、ユーザー管理を提供する。
// ログイン時にトークンを発行し、Redisにセッションとして保存する。
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nao1215/smmsb/internal/user"
	"github.com/nao1215/smmsb/pkg/config"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/session"
	"github.com/nao1215/smmsb/pkg/token"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error(".envファイルの読み込みに失敗", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("user-service")
	ctx := context.Background()

	cfg, err := user.LoadConfig()
	if err != nil {
		logging.LogError(logger, "設定の読み込みに失敗", err)
		os.Exit(1)
	}

	db, err := user.OpenDB(ctx, cfg.DatabasePath, logger)
	if err != nil {
		logging.LogError(logger, "データベースの初期化に失敗", err)
		os.Exit(1)
	}
	defer db.Close()

	client := cfg.Redis.NewClient()
	defer client.Close()

	sessions, err := session.NewManager(session.NewRedisStore(client), cfg.SessionTTL, cfg.SessionPolicy)
	if err != nil {
		logging.LogError(logger, "セッションマネージャーの初期化に失敗", err)
		os.Exit(1)
	}
	issuer, err := token.NewIssuer(cfg.JWTKey, cfg.TokenTTL)
	if err != nil {
		logging.LogError(logger, "トークン発行者の初期化に失敗", err)
		os.Exit(1)
	}
	auth, err := user.NewAuth(user.NewStore(db), issuer, sessions, 0)
	if err != nil {
		logging.LogError(logger, "認証処理の初期化に失敗", err)
		os.Exit(1)
	}

	created, err := auth.EnsureSuperAdmin(ctx, cfg.BootstrapUsername, cfg.BootstrapEmail, cfg.BootstrapPassword)
	if err != nil {
		logging.LogError(logger, "特権管理者の作成に失敗", err)
		os.Exit(1)
	}
	if created {
		logger.Info("特権管理者を作成しました", "username", cfg.BootstrapUsername)
	}

	server := user.NewServer(cfg.Port, db, auth, cfg.Trust, logger)
	logger.Info("ユーザーサービスを起動します", "port", cfg.Port, "session_policy", cfg.SessionPolicy)
	if err := server.Run(); err != nil {
		logging.LogError(logger, "ユーザーサービスの起動に失敗", err)
		os.Exit(1)
	}
}
