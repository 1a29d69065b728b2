package session

import "time"

// Session はログイン時に作成されるサーバー側のセッション。
type Session struct {
	// ID はセッションID。UUIDv4で、クライアントの入力からは決して導出しない。
	ID string
	// Username はログインしたユーザー名。トークンのsubjectと一致する必要がある。
	Username string
	// Token はログイン時に発行したJWT。
	Token string
	// Role はログイン時点のロール。
	Role string
	// CreatedAt は作成日時。参考情報であり、失効はTTLで判定する。
	CreatedAt time.Time
}

// Complete はユーザー名とトークンが揃っているかを返す。
// 揃っていないセッションは存在しないものとして扱う。
func (s *Session) Complete() bool {
	return s != nil && s.Username != "" && s.Token != ""
}
