// Package storage 實現房間的持久化鍵值儲存
//
// 存儲架構：
//
//	Memory：單機、開發測試
//	Redis：每個房間一個 Hash（低延遲）
//	Postgres：room_kv 表（持久化）
//	WriteThrough：Postgres + Redis 快取
//
// 所有實作都以房間為命名空間（Backend.Scope），
// 並保證同一進程內 Put 之後的 Get 能讀到寫入的值（read-your-writes）。
package storage

import (
	"context"
	"errors"
)

// ErrNotFound 鍵不存在
//
// 呼叫端應將其視為「使用預設值」，而非錯誤。
var ErrNotFound = errors.New("storage: key not found")

// Store 單一房間命名空間內的鍵值儲存
type Store interface {
	// Get 讀取鍵值；不存在時返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Put 寫入（覆蓋）鍵值
	Put(ctx context.Context, key string, value []byte) error
	// Delete 刪除單一鍵；不存在不視為錯誤
	Delete(ctx context.Context, key string) error
	// DeleteAll 清空整個房間命名空間
	DeleteAll(ctx context.Context) error
}

// Backend 依房間名稱提供獨立命名空間
type Backend interface {
	Scope(room string) Store
}

// BackendFunc 讓普通函數實現 Backend
type BackendFunc func(room string) Store

// Scope 實現 Backend 介面
func (f BackendFunc) Scope(room string) Store { return f(room) }
