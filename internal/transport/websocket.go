// Package transport 將 gorilla/websocket 連線接到房間 Actor
//
// 心跳設計沿用 54s Ping / 60s 讀取期限：
//
//	writer 每 54 秒送 Ping → 客戶端自動回 Pong → 讀取期限延長 60 秒
//	54 秒內沒收到 Pong → 60 秒後讀取失敗 → 視為斷線
//
// 與 Hub 模式不同，這裡沒有 Send channel：
// 廣播由 Actor 並發呼叫 Send，寫入以每條連線一把鎖串行化，
// 期限取自呼叫端的 context（Actor 的單次發送期限）。
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koopa0/roomsync/internal/room"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
)

// ErrConnClosed 連線已關閉
var ErrConnClosed = errors.New("transport: connection closed")

// ReasonShutdown 服務關閉時的關閉原因（送出 1001 going away）
const ReasonShutdown = "server shutdown"

// Options 連線參數
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	// EventTimeout 讀取循環中每個事件交給 Actor 的期限
	EventTimeout time.Duration
}

// DefaultOptions 返回預設參數
func DefaultOptions() Options {
	return Options{
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
		EventTimeout:   10 * time.Second,
	}
}

// Dispatcher 讀取循環需要的房間操作（由 room.Manager 實現）
type Dispatcher interface {
	Connect(ctx context.Context, name string, conn room.Conn, att room.Attachment) error
	Message(ctx context.Context, name string, conn room.Conn, payload []byte) error
	Disconnect(ctx context.Context, name string, conn room.Conn) error
}

// Conn gorilla/websocket 連線，實現 room.Conn
type Conn struct {
	id   string
	ws   *websocket.Conn
	opts Options

	mu         sync.Mutex // 串行化所有寫入
	attachment []byte
	closed     bool
	closeOnce  sync.Once
	done       chan struct{}
}

// NewConn 包裝已升級的 WebSocket 連線
func NewConn(ws *websocket.Conn, opts Options) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		opts: opts,
		done: make(chan struct{}),
	}
}

// ID 實現 room.Conn
func (c *Conn) ID() string { return c.id }

// SetAttachment 實現 room.Conn；只能寫入一次
func (c *Conn) SetAttachment(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attachment != nil {
		return room.ErrAttachmentImmutable
	}
	c.attachment = append([]byte(nil), data...)
	return nil
}

// Attachment 實現 room.Conn
func (c *Conn) Attachment() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

// Send 實現 room.Conn：寫入一則文字訊息
func (c *Conn) Send(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.TextMessage, data)
}

func (c *Conn) write(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close 實現 room.Conn：送出關閉幀後關閉底層連線
func (c *Conn) Close(reason string) error {
	code := websocket.CloseNormalClosure
	if reason == ReasonShutdown {
		code = websocket.CloseGoingAway
	}
	return c.CloseWithCode(code, reason)
}

// CloseWithCode 以指定的關閉碼關閉
func (c *Conn) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		// 嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Serve 在房間內運行連線直到斷線
//
// 先向 Actor 登記 Session，再啟動心跳與讀取循環；
// 讀取失敗（關閉、錯誤、心跳超時）都走同一條斷線路徑。
func Serve(ctx context.Context, d Dispatcher, name string, c *Conn, att room.Attachment, logger *slog.Logger) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.opts.EventTimeout)
	err := d.Connect(connectCtx, name, c, att)
	cancel()
	if err != nil {
		_ = c.CloseWithCode(closeCode(err), apperrors.From(err).Message)
		return err
	}

	go c.pingLoop(logger)
	c.readLoop(d, name, logger)

	// 連線已關閉，請求 context 可能已取消
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.EventTimeout)
	defer cancel()
	if err := d.Disconnect(dctx, name, c); err != nil {
		logger.WarnContext(dctx, "disconnect failed", "error", err)
	}
	_ = c.Close("")
	return nil
}

// readLoop 讀取客戶端訊息交給 Actor
func (c *Conn) readLoop(d Dispatcher, name string, logger *slog.Logger) {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Error("set read deadline failed", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		// 文字與二進位幀解碼方式相同
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.EventTimeout)
		err = d.Message(ctx, name, c, payload)
		if err != nil {
			c.reportError(ctx, err, logger)
		}
		cancel()
	}
}

// reportError 把事件錯誤回報給送出訊息的連線；連線保持開啟
func (c *Conn) reportError(ctx context.Context, err error, logger *slog.Logger) {
	appErr := apperrors.From(err)
	if apperrors.IsInvalidInput(err) {
		logger.DebugContext(ctx, "rejected message", "conn_id", c.id, "error", err)
	} else {
		logger.WarnContext(ctx, "message failed", "conn_id", c.id, "error", err)
	}

	frame, encErr := EncodeError(appErr)
	if encErr != nil {
		return
	}
	if err := c.Send(ctx, frame); err != nil {
		logger.DebugContext(ctx, "send error frame failed", "conn_id", c.id, "error", err)
	}
}

// pingLoop 定時發送 Ping
func (c *Conn) pingLoop(logger *slog.Logger) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteWait)
			err := c.write(ctx, websocket.PingMessage, nil)
			cancel()
			if err != nil {
				if !errors.Is(err, ErrConnClosed) {
					logger.Debug("ping failed", "conn_id", c.id, "error", err)
				}
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeCode 事件錯誤對應的 WebSocket 關閉碼
func closeCode(err error) int {
	switch {
	case apperrors.IsInvalidInput(err):
		return websocket.ClosePolicyViolation
	case apperrors.IsUnavailable(err), apperrors.IsRoomClosed(err):
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}

// Upgrader 預設的升級器
func Upgrader(checkOrigin func(r *http.Request) bool) websocket.Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return websocket.Upgrader{
		CheckOrigin:     checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}
