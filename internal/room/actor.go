package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/roomsync/internal/storage"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Status Actor 狀態
//
//	cold → warm → stopped
//
//   - cold：本實例尚未初始化
//   - warm：已從連線池重建 Session Registry，可處理所有事件
//   - stopped：被 Manager 回收或關閉，不再接受事件
type Status int32

const (
	StatusCold Status = iota
	StatusWarm
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusCold:
		return "cold"
	case StatusWarm:
		return "warm"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// 事件種類
const (
	kindFetch      = "fetch"
	kindConnect    = "connect"
	kindMessage    = "message"
	kindDisconnect = "disconnect"
)

// envelope inbox 中的一個事件
type envelope struct {
	ctx   context.Context
	kind  string
	fn    func(ctx context.Context) error
	reply chan error
}

// Actor 單一房間的狀態擁有者
//
// 系統設計考量：
//
//  1. 串行化（inbox channel）：
//     問題：同一房間的連線、訊息、斷線可能同時到達
//     方案：所有事件經由 inbox 交給唯一的 goroutine 依序處理
//     優勢：
//     - State 與 Registry 不需要鎖
//     - 每個事件處理器相對其他事件是原子的
//
//  2. 先持久化、後廣播：
//     儲存失敗時事件失敗，狀態不變，不廣播
//     廣播並發且每個連線有發送期限，慢客戶端不拖住房間
//
//  3. 可回收：
//     Actor 隨時可以停止，新的實例從儲存與連線池恢復
type Actor struct {
	name     string
	store    storage.Store
	pool     *Pool
	cfg      Config
	notifier Notifier
	observer Observer
	logger   *slog.Logger

	inbox    chan envelope
	done     chan struct{} // 要求停止
	exited   chan struct{} // run 已返回
	stopOnce sync.Once

	// 以下只由 run goroutine 存取
	registry    *Registry
	state       State
	stateLoaded bool

	status     atomic.Int32
	sessions   atomic.Int32
	lastActive atomic.Int64
}

// newActor 創建並啟動 Actor
func newActor(name string, backend storage.Backend, pool *Pool, cfg Config, notifier Notifier, observer Observer, logger *slog.Logger) *Actor {
	a := &Actor{
		name:     name,
		store:    backend.Scope(name),
		pool:     pool,
		cfg:      cfg,
		notifier: notifier,
		observer: observer,
		logger:   logger.With("room", name),
		inbox:    make(chan envelope, cfg.InboxSize),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		registry: NewRegistry(),
		state:    EmptyState(),
	}
	a.touch()
	a.observer.ActorStarted()

	go a.run()
	return a
}

// Name 房間名稱
func (a *Actor) Name() string { return a.name }

// Status 目前狀態
func (a *Actor) Status() Status { return Status(a.status.Load()) }

// SessionCount 已登記的 Session 數量
func (a *Actor) SessionCount() int { return int(a.sessions.Load()) }

// LastActive 最後處理事件的時間
func (a *Actor) LastActive() time.Time { return time.Unix(0, a.lastActive.Load()) }

// Stopped 判斷 Actor 是否已停止
func (a *Actor) Stopped() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Stop 停止 Actor，等待進行中的事件完成
//
// 不關閉任何連線：連線留在連線池，下一個實例會重建 Registry。
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		<-a.exited
		a.status.Store(int32(StatusStopped))
		a.observer.SessionsChanged(-int(a.sessions.Swap(0)))
		a.observer.ActorStopped()
	})
}

func (a *Actor) touch() {
	a.lastActive.Store(time.Now().UnixNano())
}

// run 事件循環
func (a *Actor) run() {
	defer close(a.exited)

	for {
		select {
		case <-a.done:
			return
		case env := <-a.inbox:
			a.handle(env)
		}
	}
}

// handle 處理單一事件；panic 轉為事件錯誤，不影響 Actor
func (a *Actor) handle(env envelope) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("room event panicked", "kind", env.kind, "panic", r)
			err = apperrors.New(apperrors.ErrCodeInternal, fmt.Sprintf("room event panicked: %v", r))
		}
		a.touch()
		a.sessions.Store(int32(a.registry.Len()))
		a.observer.ObserveEvent(env.kind, time.Since(start), err)
		env.reply <- err
	}()

	if ctxErr := env.ctx.Err(); ctxErr != nil {
		err = timeoutError(ctxErr)
		return
	}
	err = env.fn(env.ctx)
}

// do 將事件送入 inbox 並等待結果
func (a *Actor) do(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	env := envelope{ctx: ctx, kind: kind, fn: fn, reply: make(chan error, 1)}

	select {
	case a.inbox <- env:
	case <-a.done:
		return apperrors.ErrRoomClosed
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}

	select {
	case err := <-env.reply:
		return err
	case <-a.exited:
		// 停止前可能已處理完畢
		select {
		case err := <-env.reply:
			return err
		default:
			return apperrors.ErrRoomClosed
		}
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "room event timed out")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "room event canceled")
}

// Fetch 讀取持久化的房間狀態（不存在時返回預設值）
//
// 只讀，不修改、不廣播。
func (a *Actor) Fetch(ctx context.Context) (State, error) {
	var out State
	err := a.do(ctx, kindFetch, func(ctx context.Context) error {
		a.ensureWarm()

		s, err := a.read(ctx)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// Connect 登記新的 Session
//
// 同一客戶端 ID 已有 Session 時覆蓋（最後連線者勝），舊連線以 superseded 關閉。
// 不存取儲存，不修改房間狀態。
func (a *Actor) Connect(ctx context.Context, conn Conn, att Attachment) error {
	if att.ClientID == "" {
		return apperrors.ErrMissingClientID
	}
	data, err := att.Marshal()
	if err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}

	return a.do(ctx, kindConnect, func(ctx context.Context) error {
		a.ensureWarm()

		if err := conn.SetAttachment(data); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "attachment already set")
		}

		prev := a.registry.Put(&Session{Conn: conn, Attachment: att, JoinedAt: time.Now()})
		a.pool.Retain(a.name, conn)

		switch {
		case prev == nil:
			a.observer.SessionsChanged(1)
		case prev.Conn != conn:
			a.pool.Release(a.name, prev.Conn)
			if err := prev.Conn.Close("superseded"); err != nil {
				a.logger.DebugContext(ctx, "close superseded conn failed", "client_id", att.ClientID, "error", err)
			}
			a.logger.InfoContext(ctx, "session superseded", "client_id", att.ClientID)
		}

		a.logger.InfoContext(ctx, "session joined",
			"client_id", att.ClientID,
			"sessions", a.registry.Len())
		a.notify(ctx, Event{Type: EventSessionJoined, ClientID: att.ClientID})
		return nil
	})
}

// Message 以客戶端送來的完整狀態取代房間狀態，持久化後廣播
//
// 全量覆蓋（last-write-wins）：沒有版本檢查，慢客戶端可能覆蓋較新的狀態。
func (a *Actor) Message(ctx context.Context, conn Conn, payload []byte) error {
	return a.do(ctx, kindMessage, func(ctx context.Context) error {
		a.ensureWarm()

		att, err := attachmentOf(conn)
		if err != nil || !a.registry.Registered(att.ClientID, conn) {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "connection is not a registered session")
		}

		next, err := DecodeState(payload)
		if err != nil {
			return apperrors.ErrInvalidState.WithDetails(err.Error())
		}

		return a.commit(ctx, next)
	})
}

// Disconnect 處理連線關閉或錯誤
//
// 最後一個 Session 離開時清空房間的所有持久化資料；
// 否則從狀態中移除該客戶端，持久化後廣播給其餘 Session。
func (a *Actor) Disconnect(ctx context.Context, conn Conn) error {
	return a.do(ctx, kindDisconnect, func(ctx context.Context) error {
		a.ensureWarm()

		att, err := attachmentOf(conn)
		if err != nil {
			// 從未完成連線的 conn
			a.pool.Release(a.name, conn)
			return nil
		}

		a.pool.Release(a.name, conn)
		if !a.registry.Remove(att.ClientID, conn) {
			// 已被新連線取代，或已被移除
			return nil
		}
		a.observer.SessionsChanged(-1)

		a.logger.InfoContext(ctx, "session left",
			"client_id", att.ClientID,
			"sessions", a.registry.Len())
		a.notify(ctx, Event{Type: EventSessionLeft, ClientID: att.ClientID})

		return a.afterLeave(ctx, []string{att.ClientID})
	})
}

// ensureWarm 第一個事件時從連線池重建 Session Registry
//
// 沒有可讀 Attachment 的連線不登記，也不關閉。
func (a *Actor) ensureWarm() {
	if a.Status() != StatusCold {
		return
	}

	conns := a.pool.Conns(a.name)
	restored := 0
	for _, c := range conns {
		att, err := attachmentOf(c)
		if err != nil {
			a.logger.Warn("skip conn without attachment", "conn_id", c.ID(), "error", err)
			continue
		}
		if prev := a.registry.Put(&Session{Conn: c, Attachment: att, JoinedAt: time.Now()}); prev == nil {
			restored++
		}
	}

	if restored > 0 {
		a.observer.SessionsChanged(restored)
		a.logger.Info("sessions restored", "sessions", restored, "conns", len(conns))
	}
	a.status.Store(int32(StatusWarm))
}

// read 從儲存讀取狀態；不存在或無法解析時使用預設值
func (a *Actor) read(ctx context.Context) (State, error) {
	data, err := a.store.Get(ctx, StateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return EmptyState(), nil
	}
	if err != nil {
		return State{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "load room state")
	}

	s, err := DecodeState(data)
	if err != nil {
		a.logger.WarnContext(ctx, "persisted room state is corrupt, using default", "error", err)
		return EmptyState(), nil
	}
	return s, nil
}

// loadState 需要時才把持久化狀態載入記憶體
func (a *Actor) loadState(ctx context.Context) error {
	if a.stateLoaded {
		return nil
	}
	s, err := a.read(ctx)
	if err != nil {
		return err
	}
	a.state = s
	a.stateLoaded = true
	return nil
}

// commit 持久化新狀態、更新記憶體、廣播
func (a *Actor) commit(ctx context.Context, next State) error {
	data, err := next.Encode()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode room state")
	}

	if err := a.store.Put(ctx, StateKey, data); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "persist room state")
	}
	a.state = next
	a.stateLoaded = true

	a.notify(ctx, Event{Type: EventStateUpdated, State: data})
	a.broadcast(ctx, data)
	return nil
}

// afterLeave Session 離開後的清理
func (a *Actor) afterLeave(ctx context.Context, departed []string) error {
	if a.registry.Empty() {
		if err := a.store.DeleteAll(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "delete room state")
		}
		a.state = EmptyState()
		a.stateLoaded = true

		a.logger.InfoContext(ctx, "room reset")
		a.notify(ctx, Event{Type: EventRoomReset})
		return nil
	}

	if err := a.loadState(ctx); err != nil {
		return err
	}
	next := a.state
	for _, id := range departed {
		next = next.Without(id)
	}
	return a.commit(ctx, next)
}

// broadcast 將已序列化的狀態發送給所有 Session
//
// 單一連線失敗不中止其他發送，也不讓事件失敗。
func (a *Actor) broadcast(ctx context.Context, data []byte) {
	sessions := a.registry.Sessions()
	if len(sessions) == 0 {
		return
	}
	start := time.Now()

	failed := make([]error, len(sessions))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(a.cfg.MaxConcurrentSends)

	for i, s := range sessions {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, a.cfg.SendTimeout)
			defer cancel()
			failed[i] = s.Conn.Send(sendCtx, data)
			return nil
		})
	}
	_ = g.Wait()

	var evict []*Session
	for i, err := range failed {
		if err == nil {
			continue
		}
		a.logger.WarnContext(ctx, "broadcast send failed",
			"client_id", sessions[i].ClientID(),
			"conn_id", sessions[i].Conn.ID(),
			"error", err)
		evict = append(evict, sessions[i])
	}
	a.observer.ObserveBroadcast(len(sessions), len(evict), time.Since(start))

	if len(evict) > 0 && a.cfg.EvictOnSendFailure {
		a.evict(ctx, evict)
	}
}

// evict 把發送失敗的 Session 當作斷線處理
func (a *Actor) evict(ctx context.Context, sessions []*Session) {
	departed := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if !a.registry.Remove(s.ClientID(), s.Conn) {
			continue
		}
		a.pool.Release(a.name, s.Conn)
		_ = s.Conn.Close("send failed")
		a.observer.SessionsChanged(-1)
		departed = append(departed, s.ClientID())
		a.notify(ctx, Event{Type: EventSessionLeft, ClientID: s.ClientID()})
	}
	if len(departed) == 0 {
		return
	}

	a.logger.InfoContext(ctx, "sessions evicted", "client_ids", departed, "sessions", a.registry.Len())
	if err := a.afterLeave(ctx, departed); err != nil {
		a.logger.ErrorContext(ctx, "cleanup after eviction failed", "error", err)
	}
}

// notify 發布房間事件；失敗只記錄
func (a *Actor) notify(ctx context.Context, ev Event) {
	ev.Room = a.name
	ev.Sessions = a.registry.Len()
	ev.At = time.Now()
	if err := a.notifier.Notify(ctx, ev); err != nil {
		a.logger.WarnContext(ctx, "notify failed", "type", ev.Type, "error", err)
	}
}
