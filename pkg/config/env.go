// Package config は環境変数からの設定値の読み込みを提供する。
//
// 各サービスのLoadConfigはここの関数を使って型付きの値を取り出す。
// 不正な値はデフォルト値で黙って置き換えず、エラーとして返す。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
// 既に設定されている環境変数は上書きしない。
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, f := range filenames {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf(".envファイルの読み込みに失敗: %s: %w", f, err)
		}
	}
	return nil
}

// String は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func String(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// Required は必須の環境変数を取得する。
func Required(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("環境変数 %s が設定されていません", key)
	}
	return v, nil
}

// Int は環境変数を整数として取得する。
func Int(key string, defaultValue int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("環境変数 %s が整数ではありません: %q", key, v)
	}
	return n, nil
}

// Duration は環境変数をtime.Durationとして取得する。"30s"や"60m"の形式で指定する。
func Duration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("環境変数 %s が期間の形式ではありません: %q", key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("環境変数 %s は正の期間である必要があります: %q", key, v)
	}
	return d, nil
}

// List は環境変数をカンマ区切りのリストとして取得する。空の要素は除く。
func List(key string, defaultValue []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
