package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Policy は同一ユーザーの複数セッションの扱いを表す。
type Policy string

const (
	// PolicySingle はログインのたびに同一ユーザーの既存セッションを削除する。
	PolicySingle Policy = "single"
	// PolicyConcurrent は既存セッションを残したまま新しいセッションを作る。
	PolicyConcurrent Policy = "concurrent"
)

// ParsePolicy は設定値からPolicyを返す。空文字列はPolicySingleとして扱う。
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicySingle:
		return PolicySingle, nil
	case PolicyConcurrent:
		return PolicyConcurrent, nil
	default:
		return "", fmt.Errorf("不明なセッションポリシーです: %q", s)
	}
}

// Manager はセッションの作成と削除を担う。ログイン処理から利用する。
type Manager struct {
	store  Store
	ttl    time.Duration
	policy Policy
	// newID はセッションIDを生成する。
	newID func() string
}

// NewManager は新しいManagerを生成する。
func NewManager(store Store, ttl time.Duration, policy Policy) (*Manager, error) {
	if store == nil {
		return nil, errors.New("セッションストアが指定されていません")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("セッションTTLは正の値である必要があります: %s", ttl)
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PolicySingle
	}
	return &Manager{store: store, ttl: ttl, policy: policy, newID: uuid.NewString}, nil
}

// Create は新しいセッションを作成して保存する。
// PolicySingleの場合は同一ユーザーの既存セッションを先に削除する。
func (m *Manager) Create(ctx context.Context, username, token, role string) (*Session, error) {
	if username == "" || token == "" {
		return nil, errors.New("ユーザー名とトークンは必須です")
	}

	if m.policy == PolicySingle {
		if _, err := m.RevokeUser(ctx, username); err != nil {
			return nil, fmt.Errorf("既存セッションの削除に失敗: %w", err)
		}
	}

	sess := &Session{
		ID:        m.newID(),
		Username:  username,
		Token:     token,
		Role:      role,
		CreatedAt: time.Now(),
	}
	if err := m.store.Save(ctx, sess, m.ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get はセッションを取得する。
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Revoke はセッションを削除する。
func (m *Manager) Revoke(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// RevokeUser はユーザーの全セッションを削除し、削除した件数を返す。
func (m *Manager) RevokeUser(ctx context.Context, username string) (int, error) {
	ids, err := m.store.IDsForUser(ctx, username)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// TTL はセッションの有効期間を返す。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Policy は同一ユーザーの複数セッションの扱いを返す。
func (m *Manager) Policy() Policy {
	return m.policy
}
