package token

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MinKeyLength はHS256の鍵として受け付ける最小バイト数。
const MinKeyLength = 32

// DecodeKey はbase64でエンコードされた署名鍵をデコードする。
func DecodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("署名鍵が設定されていません")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("署名鍵のbase64デコードに失敗: %w", err)
	}
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("署名鍵が短すぎます: %dバイト (最小%dバイト)", len(key), MinKeyLength)
	}
	return key, nil
}
