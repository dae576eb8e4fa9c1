package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// WriteThrough 快取層實現（Postgres + Redis）
//
// 快取策略：
//
//  1. 讀取（Cache-Aside）：
//     → 先查快取
//     → Miss：查主存儲 + 回填快取
//
//  2. 寫入（先失效、再寫入）：
//     → 先刪除快取鍵（失敗即返回錯誤，兩層都未改變）
//     → 再寫主存儲（失敗即返回錯誤，快取已空，讀取回落到主存儲）
//     → 最後回填快取（失敗只記錄：鍵已不存在，不會讀到舊值）
//
//  3. 清空：
//     → 同樣先清快取、再清主存儲
//
// 一致性考量：
//   - 快取裡只可能有與主存儲一致的值，或沒有值
//   - 快取無法失效時事件失敗（UNAVAILABLE），整體重試即可
//   - 同一房間只有一個 Actor 讀寫，失效與回填之間沒有並發競爭
type WriteThrough struct {
	primary Backend
	cache   Backend
	logger  *slog.Logger
}

// NewWriteThrough 創建寫穿快取存儲
func NewWriteThrough(primary, cache Backend, logger *slog.Logger) *WriteThrough {
	return &WriteThrough{primary: primary, cache: cache, logger: logger}
}

// Scope 返回房間命名空間
func (w *WriteThrough) Scope(room string) Store {
	return &writeThroughScope{
		primary: w.primary.Scope(room),
		cache:   w.cache.Scope(room),
		room:    room,
		logger:  w.logger,
	}
}

type writeThroughScope struct {
	primary Store
	cache   Store
	room    string
	logger  *slog.Logger
}

func (s *writeThroughScope) Get(ctx context.Context, key string) ([]byte, error) {
	// 1. 查詢快取
	if v, err := s.cache.Get(ctx, key); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.Warn("cache get failed", "room", s.room, "key", key, "error", err)
	}

	// 2. Cache Miss：查詢主存儲
	v, err := s.primary.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// 3. 回填快取（失敗不影響主流程）
	if err := s.cache.Put(ctx, key, v); err != nil {
		s.logger.Warn("cache fill failed", "room", s.room, "key", key, "error", err)
	}
	return v, nil
}

func (s *writeThroughScope) Put(ctx context.Context, key string, value []byte) error {
	if err := s.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	if err := s.primary.Put(ctx, key, value); err != nil {
		return err
	}

	if err := s.cache.Put(ctx, key, value); err != nil {
		s.logger.Warn("cache put failed", "room", s.room, "key", key, "error", err)
	}
	return nil
}

func (s *writeThroughScope) Delete(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return s.primary.Delete(ctx, key)
}

func (s *writeThroughScope) DeleteAll(ctx context.Context) error {
	if err := s.cache.DeleteAll(ctx); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return s.primary.DeleteAll(ctx)
}
