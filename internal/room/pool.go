package room

import (
	"sort"
	"sync"
)

// Pool 進程級的存活連線池（房間名稱 → 連線）
//
// 對應「連線由宿主保留、跨 Actor 生命週期存活」：
// Pool 不屬於任何單一 Actor，Actor 被回收後連線仍在這裡，
// 新的 Actor 進入 warm 狀態時從這裡讀取 Attachment 重建 Session Registry。
//
// 多個 Actor 與 HTTP handler 共用，使用 RWMutex 保護。
type Pool struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // room -> connID -> Conn
}

// NewPool 創建連線池
func NewPool() *Pool {
	return &Pool{rooms: make(map[string]map[string]Conn)}
}

// Retain 保留連線
func (p *Pool) Retain(room string, c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.rooms[room]
	if conns == nil {
		conns = make(map[string]Conn)
		p.rooms[room] = conns
	}
	conns[c.ID()] = c
}

// Release 釋放連線；房間沒有連線時移除房間
func (p *Pool) Release(room string, c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conns, ok := p.rooms[room]; ok {
		if cur, ok := conns[c.ID()]; ok && cur == c {
			delete(conns, c.ID())
		}
		if len(conns) == 0 {
			delete(p.rooms, room)
		}
	}
}

// Conns 返回房間內所有存活連線（依連線 ID 排序）
func (p *Pool) Conns(room string) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := p.rooms[room]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len 返回房間內的連線數
func (p *Pool) Len(room string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[room])
}

// Total 返回所有房間的連線總數
func (p *Pool) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, conns := range p.rooms {
		n += len(conns)
	}
	return n
}

// CloseAll 關閉並釋放所有連線（服務關閉時使用）
func (p *Pool) CloseAll(reason string) int {
	p.mu.Lock()
	rooms := p.rooms
	p.rooms = make(map[string]map[string]Conn)
	p.mu.Unlock()

	n := 0
	for _, conns := range rooms {
		for _, c := range conns {
			_ = c.Close(reason)
			n++
		}
	}
	return n
}
