// Package handler 提供 HTTP 與 WebSocket 入口
//
// 路由：
//
//	GET  /room/{name}            升級請求 → WebSocket Session；一般請求 → 房間狀態 JSON
//	GET  /health                 健康檢查
//	GET  /stats                  房間統計
//	GET  /metrics                Prometheus 指標（有設定時）
//	GET  /                       登入狀態（以下皆在有設定 OAuth 時）
//	GET  /auth/login             導向授權頁面，/auth/discord 為別名
//	GET  /auth/authorized        授權回呼，建立 session 後導回 /
//	GET  /protected              需要登入，未登入導向 /auth/login
//	GET  /logout                 銷毀 session 後導回 /
//	POST /token                  授權碼換取 access token
//
// /room/ 與 /room 沒有路由，由 ServeMux 直接回 404。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/roomsync/internal/auth"
	"github.com/koopa0/roomsync/internal/room"
	"github.com/koopa0/roomsync/internal/transport"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"github.com/koopa0/roomsync/pkg/logger"
)

// Rooms 處理器需要的房間操作（由 room.Manager 實現）
type Rooms interface {
	transport.Dispatcher
	Fetch(ctx context.Context, name string) (room.State, error)
	Stats() room.Stats
}

// Option 設定 Handler 的可選功能
type Option func(*Handler)

// WithMetrics 掛載 /metrics
func WithMetrics(h http.Handler) Option {
	return func(hd *Handler) { hd.metrics = h }
}

// WithAuth 掛載 OAuth 路由
func WithAuth(s *auth.Service) Option {
	return func(hd *Handler) { hd.auth = s }
}

// WithTransport 設定 WebSocket 連線參數
func WithTransport(opts transport.Options) Option {
	return func(hd *Handler) { hd.wsOpts = opts }
}

// WithHTTPObserver 記錄每個請求的指標
func WithHTTPObserver(o HTTPObserver) Option {
	return func(hd *Handler) { hd.observer = o }
}

// HTTPObserver 接收 HTTP 請求指標
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// Handler HTTP 請求處理器
type Handler struct {
	rooms    Rooms
	logger   *slog.Logger
	upgrader websocket.Upgrader
	wsOpts   transport.Options
	metrics  http.Handler
	auth     *auth.Service
	observer HTTPObserver
	started  time.Time
}

// NewHandler 創建 HTTP 處理器
func NewHandler(rooms Rooms, log *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		rooms:    rooms,
		logger:   log,
		upgrader: transport.Upgrader(nil),
		wsOpts:   transport.DefaultOptions(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(route string, handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.recoverer(h.loggerMiddleware(route, handler)))
	}

	mux.HandleFunc("GET /room/{name}", wrap("/room/{name}", h.room))

	mux.HandleFunc("GET /health", wrap("/health", h.health))
	mux.HandleFunc("GET /stats", wrap("/stats", h.stats))

	if h.metrics != nil {
		mux.HandleFunc("GET /metrics", wrap("/metrics", h.metrics.ServeHTTP))
	}

	if h.auth != nil {
		mux.HandleFunc("GET /{$}", wrap("/", h.index))
		mux.HandleFunc("GET /auth/login", wrap("/auth/login", h.login))
		mux.HandleFunc("GET /auth/discord", wrap("/auth/discord", h.login))
		mux.HandleFunc("GET /auth/authorized", wrap("/auth/authorized", h.authorized))
		mux.HandleFunc("GET /protected", wrap("/protected", h.protected))
		mux.HandleFunc("GET /logout", wrap("/logout", h.logout))
		mux.HandleFunc("POST /token", wrap("/token", h.token))
	}

	return mux
}

// room 升級請求進入 WebSocket Session，一般請求返回房間狀態
func (h *Handler) room(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.errorResponse(w, r, apperrors.ErrRoomNotFound)
		return
	}
	ctx := logger.WithRoom(r.Context(), name)

	if !websocket.IsWebSocketUpgrade(r) {
		state, err := h.rooms.Fetch(ctx, name)
		if err != nil {
			h.errorResponse(w, r, err)
			return
		}
		h.jsonResponse(w, state, http.StatusOK)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.errorResponse(w, r, apperrors.ErrMissingClientID)
		return
	}
	att := room.Attachment{ClientID: clientID, Name: r.URL.Query().Get("name")}
	ctx = logger.WithClientID(ctx, clientID)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已回應錯誤
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	conn := transport.NewConn(ws, h.wsOpts)
	h.logger.InfoContext(ctx, "websocket connected", "conn_id", conn.ID())

	if err := transport.Serve(ctx, h.rooms, name, conn, att, h.logger); err != nil {
		h.logger.WarnContext(ctx, "websocket session rejected", "conn_id", conn.ID(), "error", err)
		return
	}
	h.logger.InfoContext(ctx, "websocket disconnected", "conn_id", conn.ID())
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.rooms.Stats(), http.StatusOK)
}

// login 導向授權頁面
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.auth.BeginLogin(w, r), http.StatusFound)
}

// authorized 授權回呼：驗證 state、交換 token、取得使用者後建立 session
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.VerifyState(w, r); err != nil {
		h.errorResponse(w, r, err)
		return
	}

	tok, err := h.auth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	user, err := h.auth.FetchUser(r.Context(), tok)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	if err := h.auth.StartSession(r.Context(), w, r, user); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// index 登入狀態
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), r)
	switch {
	case err == nil:
		h.jsonResponse(w, map[string]any{"logged_in": true, "user": user}, http.StatusOK)
	case apperrors.IsNotFound(err):
		h.jsonResponse(w, map[string]any{"logged_in": false}, http.StatusOK)
	default:
		h.errorResponse(w, r, err)
	}
}

// protected 需要登入的頁面
func (h *Handler) protected(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), r)
	if apperrors.IsNotFound(err) {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]any{"user": user}, http.StatusOK)
}

// logout 登出
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), w, r); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// token 以授權碼換取 access token
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	tok, err := h.auth.Exchange(r.Context(), req.Code)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, auth.NewTokenResponse(tok), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json response failed", "error", err)
	}
}

// errorResponse 返回錯誤響應 {"error":{"code":...,"message":...}}
func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err)
	}
	h.jsonResponse(w, map[string]any{"error": apperrors.From(err)}, status)
}
