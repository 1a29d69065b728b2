// 在庫サービスのエントリポイント。
// 商品在庫を管理し、取引サービスが発行するStockUpdatedイベントを購読して在庫数を減らす。
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nao1215/smmsb/internal/inventory"
	"github.com/nao1215/smmsb/pkg/config"
	"github.com/nao1215/smmsb/pkg/logging"
	"github.com/nao1215/smmsb/pkg/messaging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error(".envファイルの読み込みに失敗", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("inventory-service")

	cfg, err := inventory.LoadConfig()
	if err != nil {
		logging.LogError(logger, "設定の読み込みに失敗", err)
		os.Exit(1)
	}

	db, err := inventory.OpenDB(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		logging.LogError(logger, "データベースの初期化に失敗", err)
		os.Exit(1)
	}
	defer db.Close()

	bus, err := messaging.Connect(cfg.NATSURL, "inventory-service", logger)
	if err != nil {
		logging.LogError(logger, "イベントバスへの接続に失敗", err)
		os.Exit(1)
	}
	defer bus.Close()

	stock := inventory.NewStock(inventory.NewStore(db), bus, cfg.LowStockThreshold, logger)
	if err := stock.Register(bus); err != nil {
		logging.LogError(logger, "イベントの購読に失敗", err)
		os.Exit(1)
	}

	server := inventory.NewServer(cfg.Port, db, stock, cfg.Trust, logger)
	logger.Info("在庫サービスを起動します", "port", cfg.Port, "low_stock_threshold", cfg.LowStockThreshold)
	if err := server.Run(); err != nil {
		logging.LogError(logger, "在庫サービスの起動に失敗", err)
		os.Exit(1)
	}
}
