package storage

import (
	"context"
	"sync"
)

// Memory 內存存儲實現
//
// 使用場景：
//   - 單元測試（隔離外部依賴）
//   - 單機開發
//
// 不持久化，進程重啟即丟失。
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]map[string][]byte
}

// NewMemory 創建內存存儲實例
func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]map[string][]byte),
	}
}

// Scope 返回房間命名空間
func (m *Memory) Scope(room string) Store {
	return &memoryScope{m: m, room: room}
}

// Keys 返回房間內所有鍵（測試與除錯用）
func (m *Memory) Keys(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.rooms[room]))
	for k := range m.rooms[room] {
		keys = append(keys, k)
	}
	return keys
}

type memoryScope struct {
	m    *Memory
	room string
}

func (s *memoryScope) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	v, ok := s.m.rooms[s.room][key]
	if !ok {
		return nil, ErrNotFound
	}
	// 返回副本，防止外部修改
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *memoryScope) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v := make([]byte, len(value))
	copy(v, value)

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	ns := s.m.rooms[s.room]
	if ns == nil {
		ns = make(map[string][]byte)
		s.m.rooms[s.room] = ns
	}
	ns[key] = v
	return nil
}

func (s *memoryScope) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if ns := s.m.rooms[s.room]; ns != nil {
		delete(ns, key)
		if len(ns) == 0 {
			delete(s.m.rooms, s.room)
		}
	}
	return nil
}

func (s *memoryScope) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.m.mu.Lock()
	delete(s.m.rooms, s.room)
	s.m.mu.Unlock()
	return nil
}
