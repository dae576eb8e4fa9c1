package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/koopa0/roomsync/internal/storage"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
)

// Option 設定 Manager 的可選依賴
type Option func(*Manager)

// WithNotifier 設置房間事件發布器
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithObserver 設置指標收集器
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithPool 使用指定的連線池（預設新建）
func WithPool(p *Pool) Option {
	return func(m *Manager) {
		if p != nil {
			m.pool = p
		}
	}
}

// Manager 房間 Actor 的分派層
//
// 系統設計考量：
//
//  1. 單一實例：同一房間名稱同時只會有一個運行中的 Actor
//  2. 懶建立：第一次有事件時才創建 Actor
//  3. 閒置回收：沒有連線且超過 IdleTimeout 的 Actor 定期停止
//  4. 回收不影響連線：連線在 Pool 中，下一個 Actor 自動重建
type Manager struct {
	backend  storage.Backend
	pool     *Pool
	cfg      Config
	notifier Notifier
	observer Observer
	logger   *slog.Logger

	actors map[string]*Actor // room -> Actor
	mu     sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager 創建分派層並啟動清理 goroutine
func NewManager(backend storage.Backend, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		pool:     NewPool(),
		cfg:      cfg.withDefaults(),
		notifier: nopNotifier{},
		observer: nopObserver{},
		logger:   logger,
		actors:   make(map[string]*Actor),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// Pool 返回 Manager 使用的連線池
func (m *Manager) Pool() *Pool { return m.pool }

// Actor 取得房間的 Actor，不存在或已停止時創建新的
func (m *Manager) Actor(name string) (*Actor, error) {
	if name == "" {
		return nil, apperrors.ErrRoomNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.stopCh:
		return nil, apperrors.ErrRoomClosed
	default:
	}

	if a, ok := m.actors[name]; ok && !a.Stopped() {
		return a, nil
	}

	a := newActor(name, m.backend, m.pool, m.cfg, m.notifier, m.observer, m.logger)
	m.actors[name] = a
	m.logger.Debug("room actor started", "room", name)
	return a, nil
}

// withActor 在房間 Actor 上執行操作；Actor 剛好被回收時重試一次
func (m *Manager) withActor(name string, fn func(a *Actor) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var a *Actor
		a, err = m.Actor(name)
		if err != nil {
			return err
		}
		err = fn(a)
		if !errors.Is(err, apperrors.ErrRoomClosed) {
			return err
		}
	}
	return err
}

// Fetch 讀取房間狀態
func (m *Manager) Fetch(ctx context.Context, name string) (State, error) {
	var s State
	err := m.withActor(name, func(a *Actor) error {
		var err error
		s, err = a.Fetch(ctx)
		return err
	})
	return s, err
}

// Connect 登記連線
func (m *Manager) Connect(ctx context.Context, name string, conn Conn, att Attachment) error {
	return m.withActor(name, func(a *Actor) error {
		return a.Connect(ctx, conn, att)
	})
}

// Message 處理連線送來的訊息
func (m *Manager) Message(ctx context.Context, name string, conn Conn, payload []byte) error {
	return m.withActor(name, func(a *Actor) error {
		return a.Message(ctx, conn, payload)
	})
}

// Disconnect 處理連線關閉
func (m *Manager) Disconnect(ctx context.Context, name string, conn Conn) error {
	err := m.withActor(name, func(a *Actor) error {
		return a.Disconnect(ctx, conn)
	})
	if errors.Is(err, apperrors.ErrRoomClosed) {
		// Manager 已停止，至少把連線移出連線池
		m.pool.Release(name, conn)
	}
	return err
}

// Recycle 停止房間目前的 Actor，保留所有連線
//
// 下一個事件會建立新的 Actor，從儲存與連線池恢復。
func (m *Manager) Recycle(name string) bool {
	m.mu.Lock()
	a, ok := m.actors[name]
	if ok {
		delete(m.actors, name)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	a.Stop()
	m.logger.Info("room actor recycled", "room", name)
	return true
}

// cleanupLoop 定期回收閒置的 Actor
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 執行清理（公開方法供測試使用）
func (m *Manager) Cleanup() int {
	return m.cleanup()
}

// cleanup 停止閒置且沒有連線的 Actor
func (m *Manager) cleanup() int {
	now := time.Now()

	m.mu.Lock()
	var idle []*Actor
	for name, a := range m.actors {
		if a.SessionCount() > 0 || m.pool.Len(name) > 0 {
			continue
		}
		if now.Sub(a.LastActive()) < m.cfg.IdleTimeout {
			continue
		}
		idle = append(idle, a)
		delete(m.actors, name)
	}
	m.mu.Unlock()

	for _, a := range idle {
		a.Stop()
		m.logger.Info("idle room actor evicted", "room", a.Name())
	}
	return len(idle)
}

// RoomStats 單一房間的統計
type RoomStats struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Sessions   int       `json:"sessions"`
	Conns      int       `json:"conns"`
	LastActive time.Time `json:"last_active"`
}

// Stats 統計資訊
type Stats struct {
	TotalRooms    int         `json:"total_rooms"`
	TotalSessions int         `json:"total_sessions"`
	TotalConns    int         `json:"total_conns"`
	Rooms         []RoomStats `json:"rooms"`
}

// Stats 獲取統計資訊
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		TotalRooms: len(m.actors),
		TotalConns: m.pool.Total(),
		Rooms:      make([]RoomStats, 0, len(m.actors)),
	}
	for name, a := range m.actors {
		rs := RoomStats{
			Name:       name,
			Status:     a.Status().String(),
			Sessions:   a.SessionCount(),
			Conns:      m.pool.Len(name),
			LastActive: a.LastActive(),
		}
		st.TotalSessions += rs.Sessions
		st.Rooms = append(st.Rooms, rs)
	}
	sort.Slice(st.Rooms, func(i, j int) bool { return st.Rooms[i].Name < st.Rooms[j].Name })
	return st
}

// Stop 停止清理 goroutine 與所有 Actor
//
// 不關閉連線；呼叫端在此之前或之後以 Pool.CloseAll 關閉。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()

		m.mu.Lock()
		actors := m.actors
		m.actors = make(map[string]*Actor)
		m.mu.Unlock()

		for _, a := range actors {
			a.Stop()
		}
		m.logger.Info("room manager stopped", "rooms", len(actors))
	})
}
