package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB pgx 查詢介面（*pgxpool.Pool 與 pgx.Tx 皆滿足）
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres 以 room_kv 表實現的房間儲存
//
// 表結構見 internal/migrations：
//
//	room_kv(room TEXT, key TEXT, value BYTEA, updated_at TIMESTAMPTZ)
//	PRIMARY KEY (room, key)
//
// Put 使用 UPSERT（ON CONFLICT DO UPDATE），
// 全量覆蓋寫入天然冪等，失敗後可整體重試。
type Postgres struct {
	db DB
}

// NewPostgres 創建 PostgreSQL 儲存
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Scope 返回房間命名空間
func (p *Postgres) Scope(room string) Store {
	return &postgresScope{db: p.db, room: room}
}

type postgresScope struct {
	db   DB
	room string
}

const (
	sqlGet       = `SELECT value FROM room_kv WHERE room = $1 AND key = $2`
	sqlPut       = `INSERT INTO room_kv (room, key, value, updated_at) VALUES ($1, $2, $3, now()) ON CONFLICT (room, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	sqlDelete    = `DELETE FROM room_kv WHERE room = $1 AND key = $2`
	sqlDeleteAll = `DELETE FROM room_kv WHERE room = $1`
)

func (s *postgresScope) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, sqlGet, s.room, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room_kv: %w", err)
	}
	return value, nil
}

func (s *postgresScope) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.Exec(ctx, sqlPut, s.room, key, value); err != nil {
		return fmt.Errorf("upsert room_kv: %w", err)
	}
	return nil
}

func (s *postgresScope) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, sqlDelete, s.room, key); err != nil {
		return fmt.Errorf("delete room_kv: %w", err)
	}
	return nil
}

func (s *postgresScope) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, sqlDeleteAll, s.room); err != nil {
		return fmt.Errorf("delete room_kv namespace: %w", err)
	}
	return nil
}
