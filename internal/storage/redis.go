package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis 以 Redis Hash 實現的房間儲存
//
// 資料布局：
//
//	roomsync:room:<name>  (HASH)
//	  room_state -> JSON
//
// 系統設計考量：
//   - 一個房間一個 Hash：DeleteAll 只需一次 DEL（原子、O(1) 指令數）
//   - 不設 TTL：房間清空時由 Actor 主動 DeleteAll
//   - 單一 Redis 節點對同一 key 的讀寫是強一致的，滿足 read-your-writes
type Redis struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedis 創建 Redis 儲存
//
// keyPrefix 為空時使用 "roomsync:room:"。
func NewRedis(client redis.Cmdable, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "roomsync:room:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

// Scope 返回房間命名空間
func (r *Redis) Scope(room string) Store {
	return &redisScope{client: r.client, key: r.keyPrefix + room}
}

type redisScope struct {
	client redis.Cmdable
	key    string
}

func (s *redisScope) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.HGet(ctx, s.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %s: %w", s.key, err)
	}
	return v, nil
}

func (s *redisScope) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.key, err)
	}
	return nil
}

func (s *redisScope) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", s.key, err)
	}
	return nil
}

func (s *redisScope) DeleteAll(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}
