package room

import (
	"context"
	"encoding/json"
	"time"
)

// Config Actor 與 Manager 的運行參數
type Config struct {
	// InboxSize 每個 Actor 的 inbox 緩衝大小
	InboxSize int
	// SendTimeout 廣播時單一連線的發送期限
	SendTimeout time.Duration
	// MaxConcurrentSends 廣播的並發發送上限
	MaxConcurrentSends int
	// EvictOnSendFailure 發送失敗的 Session 是否視同斷線處理
	EvictOnSendFailure bool
	// IdleTimeout 沒有 Session 的 Actor 閒置多久後回收
	IdleTimeout time.Duration
	// CleanupInterval 閒置掃描間隔
	CleanupInterval time.Duration
}

// DefaultConfig 返回預設參數
func DefaultConfig() Config {
	return Config{
		InboxSize:          64,
		SendTimeout:        5 * time.Second,
		MaxConcurrentSends: 16,
		EvictOnSendFailure: true,
		IdleTimeout:        5 * time.Minute,
		CleanupInterval:    1 * time.Minute,
	}
}

// withDefaults 用預設值補齊零值欄位
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.MaxConcurrentSends <= 0 {
		c.MaxConcurrentSends = d.MaxConcurrentSends
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}

// Observer 接收 Actor 的運行指標
type Observer interface {
	// ObserveEvent 一個事件處理完成（kind：fetch、connect、message、disconnect）
	ObserveEvent(kind string, d time.Duration, err error)
	// ObserveBroadcast 一次廣播完成
	ObserveBroadcast(recipients, failed int, d time.Duration)
	// SessionsChanged Session 數量變化
	SessionsChanged(delta int)
	// ActorStarted Actor 啟動
	ActorStarted()
	// ActorStopped Actor 停止
	ActorStopped()
}

type nopObserver struct{}

func (nopObserver) ObserveEvent(string, time.Duration, error) {}
func (nopObserver) ObserveBroadcast(int, int, time.Duration) {}
func (nopObserver) SessionsChanged(int) {}
func (nopObserver) ActorStarted() {}
func (nopObserver) ActorStopped() {}

// EventType 房間生命週期事件類型
type EventType string

const (
	EventStateUpdated  EventType = "state_updated"
	EventRoomReset     EventType = "room_reset"
	EventSessionJoined EventType = "session_joined"
	EventSessionLeft   EventType = "session_left"
)

// Event 房間生命週期事件（對外通知用）
type Event struct {
	Type     EventType       `json:"type"`
	Room     string          `json:"room"`
	ClientID string          `json:"client_id,omitempty"`
	Sessions int             `json:"sessions"`
	State    json.RawMessage `json:"state,omitempty"`
	At       time.Time       `json:"at"`
}

// Notifier 發布房間事件
//
// 通知失敗只記錄日誌，不影響事件處理。
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
