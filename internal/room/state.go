// Package room 實現每個房間一個 Actor 的即時狀態同步
//
// 系統設計問題：
//
//	如何讓同一房間的多個 WebSocket 客戶端共享一份權威狀態，
//	並在任何客戶端更新後持久化並推送給其他人？
//
// 核心挑戰：
//  1. 串行化：同一房間的事件（連線、訊息、斷線、查詢）不能並發處理
//  2. 持久化：每次變更都要寫入儲存，Actor 重建後能恢復
//  3. 連線恢復：Actor 被回收時，仍存活的連線不需要重新握手
//  4. 清理：最後一個客戶端離開時清空房間
//
// 設計方案：
//
//	✅ Actor 模型：每個房間一個 goroutine + inbox channel，無需鎖
//	✅ 全量覆蓋（last-write-wins）：不做合併、不做版本檢查
//	✅ Attachment 寫在連線本身：新 Actor 從連線池重建 Session Registry
//	✅ 先持久化、後廣播：慢客戶端不影響持久化
package room

import (
	"encoding/json"
	"fmt"
)

// StateKey 房間狀態在儲存中的固定鍵
const StateKey = "room_state"

// State 房間狀態
//
// users 的值對核心是不透明的（位置、頭像等），
// 以 json.RawMessage 原樣保存與轉發。
type State struct {
	Users map[string]json.RawMessage `json:"users"`
}

// EmptyState 返回預設的空狀態 {"users":{}}
func EmptyState() State {
	return State{Users: make(map[string]json.RawMessage)}
}

// DecodeState 將訊息解析為完整的房間狀態
//
// 訊息是全量替換而非差量；"users" 缺失或為 null 時視為空。
func DecodeState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode room state: %w", err)
	}
	if s.Users == nil {
		s.Users = make(map[string]json.RawMessage)
	}
	return s, nil
}

// Encode 序列化房間狀態
func (s State) Encode() ([]byte, error) {
	if s.Users == nil {
		s.Users = make(map[string]json.RawMessage)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode room state: %w", err)
	}
	return data, nil
}

// Without 返回移除指定客戶端後的副本
func (s State) Without(clientID string) State {
	out := State{Users: make(map[string]json.RawMessage, len(s.Users))}
	for id, v := range s.Users {
		if id != clientID {
			out.Users[id] = v
		}
	}
	return out
}
