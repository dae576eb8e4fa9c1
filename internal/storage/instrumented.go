package storage

import (
	"context"
	"errors"
	"time"
)

// Observer 接收每次儲存操作的耗時與結果
type Observer interface {
	ObserveStoreOp(op string, d time.Duration, err error)
}

// Instrumented 為 Backend 加上操作監控
//
// ErrNotFound 不算失敗（get-miss 是正常路徑）。
func Instrumented(b Backend, obs Observer) Backend {
	if obs == nil {
		return b
	}
	return BackendFunc(func(room string) Store {
		return &instrumentedStore{next: b.Scope(room), obs: obs}
	})
}

type instrumentedStore struct {
	next Store
	obs  Observer
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.obs.ObserveStoreOp(op, time.Since(start), err)
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (v []byte, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.Get(ctx, key)
}

func (s *instrumentedStore) Put(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.next.Put(ctx, key, value)
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, key)
}

func (s *instrumentedStore) DeleteAll(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("delete_all", start, err) }(time.Now())
	return s.next.DeleteAll(ctx)
}
