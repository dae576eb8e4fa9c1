package room_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/roomsync/internal/room"
	"github.com/koopa0/roomsync/internal/storage"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"github.com/koopa0/roomsync/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 記錄收到訊息的連線
type fakeConn struct {
	id string

	mu          sync.Mutex
	attachment  []byte
	sent        [][]byte
	closed      bool
	closeReason string
	sendErr     error
	stall       bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SetAttachment(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachment != nil {
		return room.ErrAttachmentImmutable
	}
	c.attachment = append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Attachment() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	if c.stall {
		c.mu.Unlock()
		// 對端不讀，只能等期限
		<-ctx.Done()
		return ctx.Err()
	}
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) stallSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stall = true
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) last(t *testing.T) string {
	t.Helper()
	msgs := c.messages()
	require.NotEmpty(t, msgs, "conn %s received nothing", c.id)
	return msgs[len(msgs)-1]
}

func (c *fakeConn) isClosed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

// flakyBackend 可切換為失敗的內存存儲
type flakyBackend struct {
	inner storage.Backend
	fail  atomic.Bool
}

func (f *flakyBackend) Scope(name string) storage.Store {
	return flakyStore{inner: f.inner.Scope(name), fail: &f.fail}
}

type flakyStore struct {
	inner storage.Store
	fail  *atomic.Bool
}

var errStoreDown = errors.New("store down")

func (s flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.fail.Load() {
		return nil, errStoreDown
	}
	return s.inner.Get(ctx, key)
}

func (s flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.fail.Load() {
		return errStoreDown
	}
	return s.inner.Put(ctx, key, value)
}

func (s flakyStore) Delete(ctx context.Context, key string) error {
	if s.fail.Load() {
		return errStoreDown
	}
	return s.inner.Delete(ctx, key)
}

func (s flakyStore) DeleteAll(ctx context.Context) error {
	if s.fail.Load() {
		return errStoreDown
	}
	return s.inner.DeleteAll(ctx)
}

func newManager(t *testing.T, backend storage.Backend, mutate ...func(*room.Config)) *room.Manager {
	t.Helper()
	cfg := room.DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := room.NewManager(backend, cfg, logger.Discard())
	t.Cleanup(m.Stop)
	return m
}

var connSeq atomic.Int64

func connect(t *testing.T, m *room.Manager, name, clientID string) *fakeConn {
	t.Helper()
	c := newFakeConn(fmt.Sprintf("%s-%s-%d", name, clientID, connSeq.Add(1)))
	require.NoError(t, m.Connect(context.Background(), name, c, room.Attachment{ClientID: clientID}))
	return c
}

func fetchJSON(t *testing.T, m *room.Manager, name string) string {
	t.Helper()
	s, err := m.Fetch(context.Background(), name)
	require.NoError(t, err)
	data, err := s.Encode()
	require.NoError(t, err)
	return string(data)
}

// TestLobbyScenario 完整的房間生命週期
func TestLobbyScenario(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())

	assert.JSONEq(t, `{"users":{}}`, fetchJSON(t, m, "lobby"))

	// A 連線並更新
	a := connect(t, m, "lobby", "a1")
	first := `{"users":{"a1":{"x":1,"y":2,"avatar":"cat"}}}`
	require.NoError(t, m.Message(ctx, "lobby", a, []byte(first)))
	assert.JSONEq(t, first, fetchJSON(t, m, "lobby"))
	assert.JSONEq(t, first, a.last(t))

	// B 連線並送出兩人狀態
	b := connect(t, m, "lobby", "b2")
	both := `{"users":{"a1":{"x":1,"y":2,"avatar":"cat"},"b2":{"x":5,"y":5,"avatar":"dog"}}}`
	require.NoError(t, m.Message(ctx, "lobby", b, []byte(both)))
	assert.JSONEq(t, both, a.last(t))
	assert.JSONEq(t, both, b.last(t))
	assert.Equal(t, a.last(t), b.last(t), "every session receives identical bytes")

	// A 離開：移除 a1，廣播給 B
	require.NoError(t, m.Disconnect(ctx, "lobby", a))
	trimmed := `{"users":{"b2":{"x":5,"y":5,"avatar":"dog"}}}`
	assert.JSONEq(t, trimmed, b.last(t))
	assert.JSONEq(t, trimmed, fetchJSON(t, m, "lobby"))

	// B 離開：清空房間
	require.NoError(t, m.Disconnect(ctx, "lobby", b))
	assert.JSONEq(t, `{"users":{}}`, fetchJSON(t, m, "lobby"))
}

// TestMessage_LastWriteWins 測試全量覆蓋
func TestMessage_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())
	a := connect(t, m, "r", "a1")
	b := connect(t, m, "r", "b2")

	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{"v":2},"b2":{"v":2}}}`)))
	// 過期的客戶端可以覆蓋較新的狀態，不做合併
	require.NoError(t, m.Message(ctx, "r", b, []byte(`{"users":{"b2":{"v":1}}}`)))

	assert.JSONEq(t, `{"users":{"b2":{"v":1}}}`, fetchJSON(t, m, "r"))
}

// TestMessage_Decoding 測試訊息解析
func TestMessage_Decoding(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "full state", payload: `{"users":{"a1":{"x":1}}}`, want: `{"users":{"a1":{"x":1}}}`},
		{name: "missing users", payload: `{}`, want: `{"users":{}}`},
		{name: "null users", payload: `{"users":null}`, want: `{"users":{}}`},
		{name: "not json", payload: `hello`, wantErr: true},
		{name: "users not an object", payload: `{"users":[1,2]}`, wantErr: true},
		{name: "array", payload: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t, storage.NewMemory())
			a := connect(t, m, "r", "a1")

			before := `{"users":{"a1":{"keep":true}}}`
			require.NoError(t, m.Message(ctx, "r", a, []byte(before)))

			err := m.Message(ctx, "r", a, []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsInvalidInput(err))
				assert.JSONEq(t, before, fetchJSON(t, m, "r"), "state unchanged on protocol error")
				assert.Len(t, a.messages(), 1, "nothing broadcast on protocol error")
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, fetchJSON(t, m, "r"))
		})
	}
}

// TestMessage_UnregisteredConn 未登記的連線不能更新狀態
func TestMessage_UnregisteredConn(t *testing.T) {
	m := newManager(t, storage.NewMemory())
	stranger := newFakeConn("stranger")

	err := m.Message(context.Background(), "r", stranger, []byte(`{"users":{}}`))
	assert.True(t, apperrors.IsInvalidInput(err))
}

// TestConnect_MissingClientID 缺少 client_id 時不登記任何 Session
func TestConnect_MissingClientID(t *testing.T) {
	m := newManager(t, storage.NewMemory())
	c := newFakeConn("c1")

	err := m.Connect(context.Background(), "r", c, room.Attachment{})
	require.ErrorIs(t, err, apperrors.ErrMissingClientID)
	assert.Nil(t, c.Attachment())
	assert.Equal(t, 0, m.Pool().Len("r"))
	assert.Equal(t, 0, m.Stats().TotalSessions)
}

// TestConnect_SameClientIDSupersedes 同 ID 重連覆蓋舊 Session
func TestConnect_SameClientIDSupersedes(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())

	old := connect(t, m, "r", "a1")
	other := connect(t, m, "r", "b2")
	state := `{"users":{"a1":{"x":1},"b2":{"x":2}}}`
	require.NoError(t, m.Message(ctx, "r", other, []byte(state)))

	fresh := connect(t, m, "r", "a1")

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalSessions, "registry size does not grow")
	assert.JSONEq(t, state, fetchJSON(t, m, "r"), "reconnect does not touch room state")

	closed, reason := old.isClosed()
	assert.True(t, closed)
	assert.Equal(t, "superseded", reason)

	// 舊連線的關閉事件不影響新連線
	require.NoError(t, m.Disconnect(ctx, "r", old))
	assert.Equal(t, 2, m.Stats().TotalSessions)
	assert.JSONEq(t, state, fetchJSON(t, m, "r"))

	// 新連線照常收到廣播
	require.NoError(t, m.Message(ctx, "r", fresh, []byte(`{"users":{"a1":{"x":9}}}`)))
	assert.JSONEq(t, `{"users":{"a1":{"x":9}}}`, fresh.last(t))
}

// TestConnect_AttachmentWrittenOnce Attachment 只能寫入一次
func TestConnect_AttachmentWrittenOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())
	c := connect(t, m, "r", "a1")

	att, err := room.ParseAttachment(c.Attachment())
	require.NoError(t, err)
	assert.Equal(t, "a1", att.ClientID)

	err = m.Connect(ctx, "r", c, room.Attachment{ClientID: "someone-else"})
	assert.True(t, apperrors.IsInvalidInput(err))
}

// TestDisconnect_NonLastTrimsOnlyThatClient 非最後一人離開只移除自己
func TestDisconnect_NonLastTrimsOnlyThatClient(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())

	a := connect(t, m, "r", "a1")
	b := connect(t, m, "r", "b2")
	c := connect(t, m, "r", "c3")
	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{"n":1},"b2":{"n":2},"c3":{"n":3}}}`)))

	require.NoError(t, m.Disconnect(ctx, "r", b))

	want := `{"users":{"a1":{"n":1},"c3":{"n":3}}}`
	assert.JSONEq(t, want, fetchJSON(t, m, "r"))
	assert.JSONEq(t, want, a.last(t))
	assert.JSONEq(t, want, c.last(t))
	assert.Len(t, b.messages(), 1, "departed client gets no trimmed broadcast")
}

// TestDisconnect_UnknownConn 沒有 Attachment 的連線斷線是 no-op
func TestDisconnect_UnknownConn(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())
	a := connect(t, m, "r", "a1")
	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{}}}`)))

	require.NoError(t, m.Disconnect(ctx, "r", newFakeConn("never-connected")))
	assert.JSONEq(t, `{"users":{"a1":{}}}`, fetchJSON(t, m, "r"))
}

// TestRooms_AreIsolated 不同房間互不影響
func TestRooms_AreIsolated(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())

	a := connect(t, m, "one", "a1")
	b := connect(t, m, "two", "a1")
	require.NoError(t, m.Message(ctx, "one", a, []byte(`{"users":{"a1":{"room":1}}}`)))
	require.NoError(t, m.Message(ctx, "two", b, []byte(`{"users":{"a1":{"room":2}}}`)))

	require.NoError(t, m.Disconnect(ctx, "one", a))
	assert.JSONEq(t, `{"users":{}}`, fetchJSON(t, m, "one"))
	assert.JSONEq(t, `{"users":{"a1":{"room":2}}}`, fetchJSON(t, m, "two"))
	assert.Len(t, b.messages(), 1)
}

// TestRecycle_RebuildsFromPool 回收後的新 Actor 從連線池重建 Session
func TestRecycle_RebuildsFromPool(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())

	a := connect(t, m, "r", "a1")
	b := connect(t, m, "r", "b2")
	state := `{"users":{"a1":{"x":1},"b2":{"x":2}}}`
	require.NoError(t, m.Message(ctx, "r", a, []byte(state)))

	require.True(t, m.Recycle("r"))
	assert.False(t, m.Recycle("r"), "already recycled")

	// 不需重新握手
	assert.JSONEq(t, state, fetchJSON(t, m, "r"))
	assert.Equal(t, 2, m.Stats().TotalSessions)

	require.NoError(t, m.Message(ctx, "r", b, []byte(`{"users":{"a1":{"x":1},"b2":{"x":3}}}`)))
	assert.JSONEq(t, `{"users":{"a1":{"x":1},"b2":{"x":3}}}`, a.last(t))

	// 回收後離開仍然是修剪而不是清空
	require.True(t, m.Recycle("r"))
	require.NoError(t, m.Disconnect(ctx, "r", a))
	assert.JSONEq(t, `{"users":{"b2":{"x":3}}}`, fetchJSON(t, m, "r"))
	assert.JSONEq(t, `{"users":{"b2":{"x":3}}}`, b.last(t))
}

// TestRecycle_SkipsConnsWithoutAttachment 沒有 Attachment 的連線不登記也不關閉
func TestRecycle_SkipsConnsWithoutAttachment(t *testing.T) {
	m := newManager(t, storage.NewMemory())
	connect(t, m, "r", "a1")

	bare := newFakeConn("bare")
	m.Pool().Retain("r", bare)
	m.Recycle("r")

	_, err := m.Fetch(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Stats().TotalSessions)

	closed, _ := bare.isClosed()
	assert.False(t, closed)
}

// TestBroadcast_SendFailure 發送失敗的處理策略
func TestBroadcast_SendFailure(t *testing.T) {
	tests := []struct {
		name         string
		evict        bool
		wantSessions int
		wantState    string
	}{
		{
			name:         "evicts failed session and trims it",
			evict:        true,
			wantSessions: 1,
			wantState:    `{"users":{"a1":{"x":1}}}`,
		},
		{
			name:         "log and continue",
			evict:        false,
			wantSessions: 2,
			wantState:    `{"users":{"a1":{"x":1},"b2":{"x":2}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t, storage.NewMemory(), func(c *room.Config) {
				c.EvictOnSendFailure = tt.evict
			})

			a := connect(t, m, "r", "a1")
			b := connect(t, m, "r", "b2")
			b.failSends(errors.New("broken pipe"))

			err := m.Message(ctx, "r", a, []byte(`{"users":{"a1":{"x":1},"b2":{"x":2}}}`))
			require.NoError(t, err, "a failed send never fails the event")

			assert.Equal(t, tt.wantSessions, m.Stats().TotalSessions)
			assert.JSONEq(t, tt.wantState, fetchJSON(t, m, "r"))
			assert.JSONEq(t, tt.wantState, a.last(t))

			closed, _ := b.isClosed()
			assert.Equal(t, tt.evict, closed)
		})
	}
}

// TestBroadcast_StalledRecipient 卡住的連線只拖到發送期限，不影響其他人
func TestBroadcast_StalledRecipient(t *testing.T) {
	const sendTimeout = 50 * time.Millisecond

	tests := []struct {
		name         string
		evict        bool
		wantSessions int
		wantState    string
	}{
		{
			name:         "evicts stalled session",
			evict:        true,
			wantSessions: 2,
			wantState:    `{"users":{"a1":{"x":1},"c3":{"x":3}}}`,
		},
		{
			name:         "keeps stalled session",
			evict:        false,
			wantSessions: 3,
			wantState:    `{"users":{"a1":{"x":1},"b2":{"x":2},"c3":{"x":3}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newManager(t, storage.NewMemory(), func(c *room.Config) {
				c.SendTimeout = sendTimeout
				c.EvictOnSendFailure = tt.evict
			})

			a := connect(t, m, "r", "a1")
			b := connect(t, m, "r", "b2")
			c := connect(t, m, "r", "c3")
			b.stallSends()

			payload := `{"users":{"a1":{"x":1},"b2":{"x":2},"c3":{"x":3}}}`
			start := time.Now()
			err := m.Message(ctx, "r", a, []byte(payload))
			elapsed := time.Since(start)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, elapsed, sendTimeout)
			assert.Less(t, elapsed, time.Second, "event bounded by the send timeout")

			// 其他接收者拿到的是廣播當下的狀態
			assert.JSONEq(t, payload, c.messages()[0])
			assert.JSONEq(t, payload, a.messages()[0])
			assert.Empty(t, b.messages())

			closed, reason := b.isClosed()
			assert.Equal(t, tt.evict, closed)
			if tt.evict {
				assert.Equal(t, "send failed", reason)
			}
			assert.Equal(t, tt.wantSessions, m.Stats().TotalSessions)
			assert.JSONEq(t, tt.wantState, fetchJSON(t, m, "r"))
			assert.JSONEq(t, tt.wantState, c.last(t))
		})
	}
}

// TestStorageFailure 儲存失敗時事件失敗、狀態不變、不廣播
func TestStorageFailure(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{inner: storage.NewMemory()}
	m := newManager(t, backend)

	a := connect(t, m, "r", "a1")
	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{"v":1}}}`)))

	backend.fail.Store(true)
	err := m.Message(ctx, "r", a, []byte(`{"users":{"a1":{"v":2}}}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Len(t, a.messages(), 1)

	_, err = m.Fetch(ctx, "r")
	assert.True(t, apperrors.IsUnavailable(err))

	// 恢復後重試整個事件即可
	backend.fail.Store(false)
	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{"v":2}}}`)))
	assert.JSONEq(t, `{"users":{"a1":{"v":2}}}`, fetchJSON(t, m, "r"))
}

// TestCorruptPersistedState 無法解析的持久化資料視為預設值
func TestCorruptPersistedState(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Scope("r").Put(ctx, room.StateKey, []byte("not json")))

	m := newManager(t, mem)
	assert.JSONEq(t, `{"users":{}}`, fetchJSON(t, m, "r"))
}

// TestEventTimeout 已過期的 context 不會執行事件
func TestEventTimeout(t *testing.T) {
	m := newManager(t, storage.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Fetch(ctx, "r")
	assert.True(t, apperrors.IsTimeout(err))
}

// TestManager_EmptyRoomName 房間名稱缺失
func TestManager_EmptyRoomName(t *testing.T) {
	m := newManager(t, storage.NewMemory())

	_, err := m.Actor("")
	assert.True(t, apperrors.IsNotFound(err))
}

// TestManager_SingleActorPerRoom 同一房間只有一個 Actor
func TestManager_SingleActorPerRoom(t *testing.T) {
	m := newManager(t, storage.NewMemory())

	const n = 50
	actors := make([]*room.Actor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := m.Actor("shared")
			assert.NoError(t, err)
			actors[i] = a
		}(i)
	}
	wg.Wait()

	for _, a := range actors {
		assert.Same(t, actors[0], a)
	}
}

// TestManager_ConcurrentMessages 並發訊息依序處理
func TestManager_ConcurrentMessages(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())

	const clients = 20
	conns := make([]*fakeConn, clients)
	for i := range conns {
		conns[i] = connect(t, m, "busy", fmt.Sprintf("c%02d", i))
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *fakeConn) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]any{
				"users": map[string]any{fmt.Sprintf("c%02d", i): map[string]int{"i": i}},
			})
			assert.NoError(t, m.Message(ctx, "busy", c, payload))
		}(i, c)
	}
	wg.Wait()

	// 每個連線都收到所有廣播，且最後一則與持久化狀態一致
	final := fetchJSON(t, m, "busy")
	for _, c := range conns {
		assert.Len(t, c.messages(), clients)
		assert.JSONEq(t, final, c.last(t))
	}
}

// TestManager_Cleanup 閒置且沒有連線的 Actor 被回收
func TestManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory(), func(c *room.Config) {
		c.IdleTimeout = time.Millisecond
		c.CleanupInterval = time.Hour
	})

	_, err := m.Fetch(ctx, "empty")
	require.NoError(t, err)
	connect(t, m, "busy", "a1")

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, m.Cleanup())

	stats := m.Stats()
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, "busy", stats.Rooms[0].Name)
}

// TestManager_Stop 停止後拒絕事件並釋放連線
func TestManager_Stop(t *testing.T) {
	ctx := context.Background()
	m := room.NewManager(storage.NewMemory(), room.DefaultConfig(), logger.Discard())

	a := connect(t, m, "r", "a1")
	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{}}}`)))
	m.Stop()

	err := m.Message(ctx, "r", a, []byte(`{"users":{}}`))
	assert.True(t, apperrors.IsRoomClosed(err))

	// 關閉期間的斷線不清空持久化狀態
	assert.True(t, apperrors.IsRoomClosed(m.Disconnect(ctx, "r", a)))
	assert.Equal(t, 0, m.Pool().Len("r"))
}

type countingNotifier struct {
	mu     sync.Mutex
	events []room.Event
}

func (n *countingNotifier) Notify(_ context.Context, ev room.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *countingNotifier) types() []room.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]room.EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

// TestNotifier 房間事件依序發布
func TestNotifier(t *testing.T) {
	ctx := context.Background()
	n := &countingNotifier{}
	m := room.NewManager(storage.NewMemory(), room.DefaultConfig(), logger.Discard(), room.WithNotifier(n))
	t.Cleanup(m.Stop)

	a := connect(t, m, "r", "a1")
	require.NoError(t, m.Message(ctx, "r", a, []byte(`{"users":{"a1":{}}}`)))
	require.NoError(t, m.Disconnect(ctx, "r", a))

	assert.Equal(t, []room.EventType{
		room.EventSessionJoined,
		room.EventStateUpdated,
		room.EventSessionLeft,
		room.EventRoomReset,
	}, n.types())
	assert.Equal(t, "r", n.events[0].Room)
	assert.Equal(t, "a1", n.events[0].ClientID)
	assert.JSONEq(t, `{"users":{"a1":{}}}`, string(n.events[1].State))
}
