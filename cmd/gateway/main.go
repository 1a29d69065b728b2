// API Gatewayサービスのエントリポイント。
// セッションとトークンを検証し、検証済みのIDヘッダーを付与して内部サービスに転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"log/slog"
	"os"

	"github.com/nao1215/smmsb/internal/gateway"
	"github.com/nao1215/smmsb/pkg/config"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/session"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error(".envファイルの読み込みに失敗", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("gateway")

	cfg, err := gateway.LoadConfig()
	if err != nil {
		logging.LogError(logger, "設定の読み込みに失敗", err)
		os.Exit(1)
	}

	client := cfg.Redis.NewClient()
	defer client.Close()

	server, err := gateway.NewServer(cfg, session.NewRedisStore(client), logger)
	if err != nil {
		logging.LogError(logger, "Gatewayサーバーの初期化に失敗", err)
		os.Exit(1)
	}

	logger.Info("Gatewayサービスを起動します", "port", cfg.Port, "redis", cfg.Redis.Addr)
	if err := server.Run(); err != nil {
		logging.LogError(logger, "Gatewayサービスの起動に失敗", err)
		os.Exit(1)
	}
}
