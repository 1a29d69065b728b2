// 取引サービスのエントリポイント。
// 取引を記録し、Gateway経由で在庫サービスから商品情報を取得する。
// 取引の作成後は在庫更新と通知のイベントを発行する。
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nao1215/smmsb/internal/transaction"
	"github.com/nao1215/smmsb/pkg/config"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/messaging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error(".envファイルの読み込みに失敗", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("transaction-service")

	cfg, err := transaction.LoadConfig()
	if err != nil {
		logging.LogError(logger, "設定の読み込みに失敗", err)
		os.Exit(1)
	}

	db, err := transaction.OpenDB(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		logging.LogError(logger, "データベースの初期化に失敗", err)
		os.Exit(1)
	}
	defer db.Close()

	bus, err := messaging.Connect(cfg.NATSURL, "transaction-service", logger)
	if err != nil {
		logging.LogError(logger, "イベントバスへの接続に失敗", err)
		os.Exit(1)
	}
	defer bus.Close()

	catalog := transaction.NewGatewayCatalog(cfg.GatewayURL, cfg.GatewayTimeout)
	service := transaction.NewService(transaction.NewStore(db), catalog, bus, logger)
	server := transaction.NewServer(cfg.Port, db, service, cfg.Trust, logger)

	logger.Info("取引サービスを起動します", "port", cfg.Port, "gateway", cfg.GatewayURL)
	if err := server.Run(); err != nil {
		logging.LogError(logger, "取引サービスの起動に失敗", err)
		os.Exit(1)
	}
}
