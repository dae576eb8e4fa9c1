package room

import (
	"sort"
	"time"
)

// Session 一個已連線的客戶端
type Session struct {
	Conn       Conn
	Attachment Attachment
	JoinedAt   time.Time
}

// ClientID 返回 Session 所屬的客戶端 ID
func (s *Session) ClientID() string { return s.Attachment.ClientID }

// Registry Session 索引（客戶端 ID → Session）
//
// 只由所屬 Actor 的 goroutine 存取，因此不加鎖。
// 每次 Actor 進入 warm 狀態時從連線池重建，不從儲存讀取。
//
// 不變量：同一客戶端 ID 同時最多一個 Session。
type Registry struct {
	sessions map[string]*Session
}

// NewRegistry 創建空的 Session 索引
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put 註冊 Session；同 ID 已存在時覆蓋（最後連線者勝），返回被取代的 Session
func (r *Registry) Put(s *Session) *Session {
	prev := r.sessions[s.ClientID()]
	r.sessions[s.ClientID()] = s
	return prev
}

// Remove 移除 Session
//
// conn 非 nil 時只有在登記的連線就是 conn 才移除，
// 避免被取代的舊連線關閉時把新連線一起移除。
func (r *Registry) Remove(clientID string, conn Conn) bool {
	s, ok := r.sessions[clientID]
	if !ok {
		return false
	}
	if conn != nil && s.Conn != conn {
		return false
	}
	delete(r.sessions, clientID)
	return true
}

// Get 依客戶端 ID 查詢
func (r *Registry) Get(clientID string) (*Session, bool) {
	s, ok := r.sessions[clientID]
	return s, ok
}

// Registered 判斷 conn 是否為目前登記的連線
func (r *Registry) Registered(clientID string, conn Conn) bool {
	s, ok := r.sessions[clientID]
	return ok && s.Conn == conn
}

// Len 返回 Session 數量
func (r *Registry) Len() int { return len(r.sessions) }

// Empty 判斷是否沒有任何 Session
func (r *Registry) Empty() bool { return len(r.sessions) == 0 }

// Sessions 返回所有 Session（依客戶端 ID 排序，廣播順序固定）
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID() < out[j].ClientID() })
	return out
}
