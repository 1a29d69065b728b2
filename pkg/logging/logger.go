// Package logging はslogによる構造化ログの共通設定を提供する。
//
// LOG_FORMAT（json/text）とLOG_LEVEL（debug/info/warn/error）を環境変数から読み込む。
// リクエストIDを付与したロガーはコンテキスト経由で各ハンドラーに渡す。
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestLoggerKey contextKey = "request_logger"
	requestIDKey     contextKey = "request_id"
)

// NewLogger は環境変数の設定に従ってロガーを生成し、デフォルトロガーにも設定する。
func NewLogger(service string) *slog.Logger {
	logger := New(os.Stdout, getEnvOr("LOG_FORMAT", "json"), getEnvOr("LOG_LEVEL", "info")).
		With("service", service)
	slog.SetDefault(logger)
	return logger
}

// New は出力先・形式・レベルを指定してロガーを生成する。
func New(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard は何も出力しないロガーを返す。テストで使用する。
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel は文字列をslog.Levelに変換する。不明な値はinfoとして扱う。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// NewRequestID は新しいリクエストIDを生成する。
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID はリクエストIDを付与したロガーをコンテキストに設定する。
// requestIDが空の場合は新しく生成する。
func WithRequestID(ctx context.Context, base *slog.Logger, requestID string) (context.Context, *slog.Logger) {
	if requestID == "" {
		requestID = NewRequestID()
	}
	logger := base.With("request_id", requestID)

	ctx = context.WithValue(ctx, requestIDKey, requestID)
	ctx = context.WithValue(ctx, requestLoggerKey, logger)
	return ctx, logger
}

// FromContext はコンテキストのロガーを返す。設定されていなければfallbackを返す。
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok {
		return logger
	}
	return fallback
}

// GetRequestID はコンテキストのリクエストIDを返す。
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithComponent はcomponentフィールドを付与する。
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// LogError はエラーを構造化して出力する。
func LogError(logger *slog.Logger, msg string, err error, fields ...any) {
	attrs := []any{"error", err.Error()}
	attrs = append(attrs, fields...)
	logger.Error(msg, attrs...)
}
