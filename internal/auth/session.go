package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// SessionCookie 登入 session 的 cookie 名稱
const SessionCookie = "SESSION"

// ErrSessionNotFound session 不存在或已過期
var ErrSessionNotFound = apperrors.New(apperrors.ErrCodeNotFound, "session not found")

// User 授權方回傳的使用者資料
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar"`
}

// SessionStore 登入 session 儲存
type SessionStore interface {
	Save(ctx context.Context, id string, user User, ttl time.Duration) error
	Load(ctx context.Context, id string) (User, error)
	Destroy(ctx context.Context, id string) error
}

// MemorySessions 進程內 session，重啟後失效
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	user    User
	expires time.Time
}

// NewMemorySessions 創建內存 session 儲存
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]memorySession), now: time.Now}
}

func (m *MemorySessions) Save(_ context.Context, id string, user User, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = memorySession{user: user, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemorySessions) Load(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return User{}, ErrSessionNotFound
	}
	if !m.now().Before(s.expires) {
		delete(m.sessions, id)
		return User{}, ErrSessionNotFound
	}
	return s.user, nil
}

func (m *MemorySessions) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// RedisSessions 以 Redis 儲存 session，過期交給 key TTL
type RedisSessions struct {
	client redis.Cmdable
	prefix string
}

// NewRedisSessions 創建 Redis session 儲存
func NewRedisSessions(client redis.Cmdable, prefix string) *RedisSessions {
	return &RedisSessions{client: client, prefix: prefix}
}

func (s *RedisSessions) key(id string) string {
	return s.prefix + id
}

func (s *RedisSessions) Save(ctx context.Context, id string, user User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "save session")
	}
	return nil
}

func (s *RedisSessions) Load(ctx context.Context, id string) (User, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrSessionNotFound
	}
	if err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "load session")
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode session")
	}
	return user, nil
}

func (s *RedisSessions) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "destroy session")
	}
	return nil
}

// sessionID 從 cookie 取出 session id
func sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
