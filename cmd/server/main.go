package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/roomsync/internal/auth"
	"github.com/koopa0/roomsync/internal/config"
	"github.com/koopa0/roomsync/internal/events"
	"github.com/koopa0/roomsync/internal/handler"
	"github.com/koopa0/roomsync/internal/metrics"
	"github.com/koopa0/roomsync/internal/migrations"
	"github.com/koopa0/roomsync/internal/room"
	"github.com/koopa0/roomsync/internal/storage"
	"github.com/koopa0/roomsync/internal/transport"
	"github.com/koopa0/roomsync/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML 配置檔案路徑")
		addr       = flag.String("addr", "", "監聽地址（覆蓋配置）")
		logLevel   = flag.String("log-level", "", "日誌級別: debug, info, warn, error")
		logFormat  = flag.String("log-format", "", "日誌格式: text, json")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 命令行參數優先級最高
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// run 組裝依賴並阻塞到收到關閉信號
func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	backend, redisClient, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()
	if m != nil {
		backend = storage.Instrumented(backend, m)
	}

	roomOpts := []room.Option{}
	if m != nil {
		roomOpts = append(roomOpts, room.WithObserver(m))
	}

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn("failed to drain nats", "error", err)
			}
		}()
		roomOpts = append(roomOpts, room.WithNotifier(events.NewPublisher(nc, cfg.NATS.SubjectPrefix, log)))
		log.Info("publishing room events", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	manager := room.NewManager(backend, room.Config{
		InboxSize:          cfg.Room.InboxSize,
		SendTimeout:        cfg.Room.SendTimeout,
		MaxConcurrentSends: cfg.Room.MaxConcurrentSends,
		EvictOnSendFailure: cfg.Room.EvictOnSendFailure,
		IdleTimeout:        cfg.Room.IdleTimeout,
		CleanupInterval:    cfg.Room.CleanupInterval,
	}, log, roomOpts...)

	handlerOpts := []handler.Option{
		handler.WithTransport(transport.Options{
			PingInterval:   cfg.WebSocket.PingInterval,
			PongWait:       cfg.WebSocket.PongWait,
			WriteWait:      cfg.WebSocket.WriteWait,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			EventTimeout:   cfg.Room.EventTimeout,
		}),
	}
	if m != nil {
		handlerOpts = append(handlerOpts, handler.WithMetrics(m.Handler()), handler.WithHTTPObserver(m))
	}
	if cfg.OAuthEnabled() {
		var authOpts []auth.Option
		// 有 Redis 時 session 跨實例共享、重啟不失效
		if redisClient != nil {
			authOpts = append(authOpts, auth.WithSessionStore(auth.NewRedisSessions(redisClient, sessionKeyPrefix)))
		}
		handlerOpts = append(handlerOpts, handler.WithAuth(auth.NewService(auth.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			AuthURL:      cfg.OAuth.AuthURL,
			TokenURL:     cfg.OAuth.TokenURL,
			UserInfoURL:  cfg.OAuth.UserInfoURL,
			Scopes:       cfg.OAuth.Scopes,
			SessionTTL:   cfg.OAuth.SessionTTL,
		}, log, authOpts...)))
	}
	h := handler.NewHandler(manager, log, handlerOpts...)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Driver,
			"metrics", cfg.Metrics.Enabled,
			"oauth", cfg.OAuthEnabled())
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		manager.Stop()
		manager.Pool().CloseAll(transport.ReasonShutdown)
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 先停止接受新請求；已升級的 WebSocket 不受 Shutdown 管理
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}

		// 先停 Actor 再關連線：關閉觸發的斷線不會清空已持久化的房間
		manager.Stop()
		closed := manager.Pool().CloseAll(transport.ReasonShutdown)
		log.Info("closed websocket connections", "count", closed)
	}

	return nil
}

// sessionKeyPrefix 登入 session 在 Redis 中的 key 前綴
const sessionKeyPrefix = "roomsync:session:"

// openBackend 依驅動建立持久化儲存，返回的 close 釋放底層連線
//
// 用到 Redis 的驅動同時返回 client 供 session 使用，其餘為 nil。
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Backend, *redis.Client, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client, err := openRedis(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return storage.NewRedis(client, cfg.Redis.KeyPrefix), client, closer(log, "redis", client.Close), nil

	case config.DriverPostgres:
		pool, err := openPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return storage.NewPostgres(pool), nil, pool.Close, nil

	case config.DriverTiered:
		pool, err := openPostgres(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, err
		}
		client, err := openRedis(ctx, cfg)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		backend := storage.NewWriteThrough(storage.NewPostgres(pool), storage.NewRedis(client, cfg.Redis.KeyPrefix), log)
		closeRedis := closer(log, "redis", client.Close)
		return backend, client, func() {
			closeRedis()
			pool.Close()
		}, nil

	default:
		return storage.NewMemory(), nil, func() {}, nil
	}
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// openPostgres 建立連線池，必要時先執行遷移
func openPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.Postgres.Migrate {
		if err := migrate(cfg.Postgres.DSN, log); err != nil {
			return nil, err
		}
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func migrate(dsn string, log *slog.Logger) error {
	m, err := migrations.New(dsn, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("failed to close migrator", "error", err)
		}
	}()
	return m.Up()
}

func closer(log *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn("failed to close "+name, "error", err)
		}
	}
}
