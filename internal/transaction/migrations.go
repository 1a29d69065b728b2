package transaction

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"

	"github.com/nao1215/smmsb/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OpenDB は取引サービスのデータベースを開き、マイグレーションを適用する。
func OpenDB(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	return migration.Open(ctx, migration.FileDSN(path), migrations, "migrations", logger)
}
