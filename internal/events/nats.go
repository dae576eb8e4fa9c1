// Package events 將房間生命週期事件發布到 NATS
//
// 主題：
//
//	<prefix>.<room>.updated   狀態已持久化（payload 含完整狀態）
//	<prefix>.<room>.reset     最後一個 Session 離開，房間已清空
//	<prefix>.<room>.joined    Session 加入
//	<prefix>.<room>.left      Session 離開
//
// 發布是 fire-and-forget（core NATS，非 JetStream）：
// 通知只給外部觀察者使用，房間狀態的權威來源仍是持久化儲存。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/koopa0/roomsync/internal/room"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix 預設主題前綴
const DefaultSubjectPrefix = "roomsync.room"

// Conn 發布所需的 NATS 連線能力
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher 實現 room.Notifier
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher 以既有連線建立發布器
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Connect 連接 NATS
//
// 選項：
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("roomsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// Subject 返回房間事件的主題
func (p *Publisher) Subject(roomName string, t room.EventType) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, sanitize(roomName), suffix(t))
}

// Notify 實現 room.Notifier
func (p *Publisher) Notify(ctx context.Context, ev room.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := p.Subject(ev.Room, ev.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func suffix(t room.EventType) string {
	switch t {
	case room.EventStateUpdated:
		return "updated"
	case room.EventRoomReset:
		return "reset"
	case room.EventSessionJoined:
		return "joined"
	case room.EventSessionLeft:
		return "left"
	default:
		return string(t)
	}
}

// sanitize 房間名稱中的 NATS 保留字元（. * > 空白）替換為 _
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		default:
			return r
		}
	}, name)
}
