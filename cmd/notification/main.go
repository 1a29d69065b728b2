// 通知サービスのエントリポイント。
// 取引完了の通知要求と在庫不足アラートを購読して通知を保存し、管理者向けに提供する。
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nao1215/smmsb/internal/notification"
	"github.com/nao1215/smmsb/pkg/config"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/messaging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error(".envファイルの読み込みに失敗", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("notification-service")

	cfg, err := notification.LoadConfig()
	if err != nil {
		logging.LogError(logger, "設定の読み込みに失敗", err)
		os.Exit(1)
	}

	db, err := notification.OpenDB(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		logging.LogError(logger, "データベースの初期化に失敗", err)
		os.Exit(1)
	}
	defer db.Close()

	bus, err := messaging.Connect(cfg.NATSURL, "notification-service", logger)
	if err != nil {
		logging.LogError(logger, "イベントバスへの接続に失敗", err)
		os.Exit(1)
	}
	defer bus.Close()

	store := notification.NewStore(db)
	if err := notification.NewConsumer(store, logger).Register(bus); err != nil {
		logging.LogError(logger, "イベントの購読に失敗", err)
		os.Exit(1)
	}

	server := notification.NewServer(cfg.Port, db, store, cfg.Trust, logger)
	logger.Info("通知サービスを起動します", "port", cfg.Port)
	if err := server.Run(); err != nil {
		logging.LogError(logger, "通知サービスの起動に失敗", err)
		os.Exit(1)
	}
}
