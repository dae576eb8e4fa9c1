package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrAttachmentImmutable Attachment 已設置，不能再次寫入
	ErrAttachmentImmutable = errors.New("room: attachment already set")

	// ErrNoAttachment 連線上沒有可讀的 Attachment
	ErrNoAttachment = errors.New("room: connection has no attachment")
)

// Conn Actor 所需的連線抽象
//
// Attachment 存在連線本身而不只在 Actor 記憶體中：
// Actor 被回收後，新的 Actor 從連線池讀取 Attachment 即可重建 Session Registry，
// 不需要客戶端重新握手。
type Conn interface {
	// ID 連線的唯一識別（與客戶端 ID 無關）
	ID() string
	// SetAttachment 寫入 Attachment；只能寫一次，再次寫入返回 ErrAttachmentImmutable
	SetAttachment(data []byte) error
	// Attachment 讀取 Attachment；未設置時返回 nil
	Attachment() []byte
	// Send 發送一則文字訊息，受 ctx 期限約束
	Send(ctx context.Context, data []byte) error
	// Close 關閉連線
	Close(reason string) error
}

// Attachment 連線上的 Session 元資料
type Attachment struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name,omitempty"`
}

// Marshal 序列化 Attachment
func (a Attachment) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// ParseAttachment 從連線上的位元組還原 Attachment
func ParseAttachment(data []byte) (Attachment, error) {
	if len(data) == 0 {
		return Attachment{}, ErrNoAttachment
	}

	var a Attachment
	if err := json.Unmarshal(data, &a); err != nil {
		return Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	if a.ClientID == "" {
		return Attachment{}, ErrNoAttachment
	}
	return a, nil
}

// attachmentOf 讀取連線的 Attachment
func attachmentOf(c Conn) (Attachment, error) {
	return ParseAttachment(c.Attachment())
}
