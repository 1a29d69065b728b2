package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix はセッションハッシュのキーのプレフィックス。
	KeyPrefix = "AuthSession:"
	// UserIndexKeyPrefix はユーザーごとのセッションID集合のキーのプレフィックス。
	UserIndexKeyPrefix = "AuthSessionUser:"
)

// ハッシュのフィールド名。
const (
	fieldUsername  = "username"
	fieldToken     = "token"
	fieldRole      = "role"
	fieldCreatedAt = "created_at"
)

// RedisStore はRedisをバックエンドとするStoreの実装。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Key はセッションIDからRedisのキーを返す。
func Key(id string) string {
	return KeyPrefix + id
}

// UserIndexKey はユーザー名からセッションID集合のキーを返す。
func UserIndexKey(username string) string {
	return UserIndexKeyPrefix + username
}

// Get はHGETALLでセッションを取得する。
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	fields, err := s.client.HGetAll(ctx, Key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess := &Session{
		ID:       id,
		Username: fields[fieldUsername],
		Token:    fields[fieldToken],
		Role:     fields[fieldRole],
	}
	if v, ok := fields[fieldCreatedAt]; ok {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			sess.CreatedAt = time.Unix(sec, 0)
		}
	}
	return sess, nil
}

// Save はセッションのハッシュとユーザー索引をトランザクションで書き込み、TTLを設定する。
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.ID == "" {
		return errors.New("セッションIDが空です")
	}
	if ttl <= 0 {
		return fmt.Errorf("TTLは正の値である必要があります: %s", ttl)
	}

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	key := Key(sess.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldUsername:  sess.Username,
		fieldToken:     sess.Token,
		fieldRole:      sess.Role,
		fieldCreatedAt: strconv.FormatInt(createdAt.Unix(), 10),
	})
	pipe.Expire(ctx, key, ttl)
	if sess.Username != "" {
		indexKey := UserIndexKey(sess.Username)
		pipe.SAdd(ctx, indexKey, sess.ID)
		pipe.Expire(ctx, indexKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: セッションの保存に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete はセッションとユーザー索引のエントリを削除する。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	key := Key(id)
	username, err := s.client.HGet(ctx, key, fieldUsername).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if username != "" {
		pipe.SRem(ctx, UserIndexKey(username), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: セッションの削除に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// IDsForUser はユーザー索引からセッションIDの一覧を返す。
// TTLで失効したセッションのIDが残っている場合は索引から取り除く。
func (s *RedisStore) IDsForUser(ctx context.Context, username string) ([]string, error) {
	indexKey := UserIndexKey(username)
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for _, id := range ids {
		n, err := s.client.Exists(ctx, Key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		live = append(live, id)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: ユーザー索引の整理に失敗: %w", ErrUnavailable, err)
		}
	}
	return live, nil
}

// Ping はRedisへの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
