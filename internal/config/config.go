// Package config 載入服務設定
//
// 優先順序（後者覆蓋前者）：
//
//	預設值 → YAML 檔案（可選）→ .env（開發用）→ 環境變數 → 命令行參數
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 儲存驅動
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverTiered   = "tiered" // Postgres + Redis 快取
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Room struct {
		InboxSize          int           `yaml:"inbox_size"`
		EventTimeout       time.Duration `yaml:"event_timeout"`
		SendTimeout        time.Duration `yaml:"send_timeout"`
		MaxConcurrentSends int           `yaml:"max_concurrent_sends"`
		EvictOnSendFailure bool          `yaml:"evict_on_send_failure"`
		IdleTimeout        time.Duration `yaml:"idle_timeout"`
		CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	} `yaml:"room"`

	WebSocket struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongWait       time.Duration `yaml:"pong_wait"`
		WriteWait      time.Duration `yaml:"write_wait"`
		MaxMessageSize int64         `yaml:"max_message_size"`
	} `yaml:"websocket"`

	Storage struct {
		Driver string `yaml:"driver"` // memory, redis, postgres, tiered
	} `yaml:"storage"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"postgres"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	OAuth struct {
		ClientID     string        `yaml:"client_id"`
		ClientSecret string        `yaml:"client_secret"`
		RedirectURL  string        `yaml:"redirect_url"`
		AuthURL      string        `yaml:"auth_url"`
		TokenURL     string        `yaml:"token_url"`
		UserInfoURL  string        `yaml:"user_info_url"`
		Scopes       []string      `yaml:"scopes"`
		SessionTTL   time.Duration `yaml:"session_ttl"`
	} `yaml:"oauth"`
}

// Default 返回預設配置
func Default() *Config {
	c := &Config{}

	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Log.Level = "info"
	c.Log.Format = "text"

	c.Room.InboxSize = 64
	c.Room.EventTimeout = 10 * time.Second
	c.Room.SendTimeout = 5 * time.Second
	c.Room.MaxConcurrentSends = 16
	c.Room.EvictOnSendFailure = true
	c.Room.IdleTimeout = 5 * time.Minute
	c.Room.CleanupInterval = 1 * time.Minute

	c.WebSocket.PingInterval = 54 * time.Second
	c.WebSocket.PongWait = 60 * time.Second
	c.WebSocket.WriteWait = 10 * time.Second
	c.WebSocket.MaxMessageSize = 64 * 1024

	c.Storage.Driver = DriverMemory

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.KeyPrefix = "roomsync:room:"

	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2
	c.Postgres.Migrate = true

	c.NATS.SubjectPrefix = "roomsync.room"

	c.Metrics.Enabled = true

	c.OAuth.RedirectURL = "http://127.0.0.1:3000/auth/authorized"
	c.OAuth.AuthURL = "https://discord.com/api/oauth2/authorize?response_type=code"
	c.OAuth.TokenURL = "https://discord.com/api/oauth2/token"
	c.OAuth.UserInfoURL = "https://discord.com/api/users/@me"
	c.OAuth.Scopes = []string{"identify"}
	c.OAuth.SessionTTL = 24 * time.Hour

	return c
}

// Load 載入配置
//
// path 為空時只使用預設值與環境變數；檔案不存在視為錯誤。
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		// #nosec G304 - path 來自命令行參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env 只在開發環境存在，找不到不是錯誤
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv 環境變數覆蓋
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"HTTP_ADDR":      &c.Server.Addr,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
		"STORAGE_DRIVER": &c.Storage.Driver,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"DATABASE_URL":   &c.Postgres.DSN,
		"NATS_URL":       &c.NATS.URL,
		"CLIENT_ID":      &c.OAuth.ClientID,
		"CLIENT_SECRET":  &c.OAuth.ClientSecret,
		"REDIRECT_URL":   &c.OAuth.RedirectURL,
		"AUTH_URL":       &c.OAuth.AuthURL,
		"TOKEN_URL":      &c.OAuth.TokenURL,
		"USER_INFO_URL":  &c.OAuth.UserInfoURL,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("EVICT_ON_SEND_FAILURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse EVICT_ON_SEND_FAILURE: %w", err)
		}
		c.Room.EvictOnSendFailure = b
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis driver"))
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn (DATABASE_URL) is required for the postgres driver"))
		}
	case DriverTiered:
		if c.Redis.Addr == "" || c.Postgres.DSN == "" {
			errs = append(errs, errors.New("the tiered driver needs both redis.addr and postgres.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Room.EventTimeout <= 0 {
		errs = append(errs, errors.New("room.event_timeout must be positive"))
	}
	if c.Room.SendTimeout <= 0 {
		errs = append(errs, errors.New("room.send_timeout must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_interval must be shorter than websocket.pong_wait"))
	}

	if (c.OAuth.ClientID == "") != (c.OAuth.ClientSecret == "") {
		errs = append(errs, errors.New("oauth.client_id and oauth.client_secret must be set together"))
	}
	if c.OAuthEnabled() {
		for name, raw := range map[string]string{
			"oauth.redirect_url":  c.OAuth.RedirectURL,
			"oauth.auth_url":      c.OAuth.AuthURL,
			"oauth.token_url":     c.OAuth.TokenURL,
			"oauth.user_info_url": c.OAuth.UserInfoURL,
		} {
			u, err := url.Parse(raw)
			if err != nil || !u.IsAbs() || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
			}
		}
		if c.OAuth.SessionTTL <= 0 {
			errs = append(errs, errors.New("oauth.session_ttl must be positive"))
		}
	}

	return errors.Join(errs...)
}

// OAuthEnabled 是否啟用 OAuth 路由
func (c *Config) OAuthEnabled() bool {
	return c.OAuth.ClientID != "" && c.OAuth.ClientSecret != ""
}
