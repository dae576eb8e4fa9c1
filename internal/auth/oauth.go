// Package auth 實現 OAuth 授權碼流程與登入 session
//
// 與房間同步無關：把使用者導向授權頁面，以授權碼換取 access token，
// 取得使用者資料後寫入 session cookie。
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"golang.org/x/oauth2"
)

// StateCookie 儲存 CSRF state 的 cookie 名稱
const StateCookie = "roomsync_oauth_state"

// ErrStateMismatch 回呼的 state 與 cookie 不一致
var ErrStateMismatch = apperrors.New(apperrors.ErrCodeInvalidInput, "oauth state mismatch")

// Config OAuth 設定
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	SessionTTL   time.Duration
}

// DefaultSessionTTL 未設定時 session 的有效期
const DefaultSessionTTL = 24 * time.Hour

// Enabled 是否設定了 OAuth 憑證
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Service OAuth 授權流程
type Service struct {
	oauth       *oauth2.Config
	userInfoURL string
	sessions    SessionStore
	sessionTTL  time.Duration
	logger      *slog.Logger
}

// Option 設定 Service 的可選功能
type Option func(*Service)

// WithSessionStore 指定 session 儲存，預設為內存
func WithSessionStore(store SessionStore) Option {
	return func(s *Service) { s.sessions = store }
}

// NewService 創建 OAuth 服務
func NewService(cfg Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		sessions:    NewMemorySessions(),
		sessionTTL:  cfg.SessionTTL,
		logger:      logger,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthCodeURL 返回授權頁面 URL
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Exchange 以授權碼換取 token
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "code is required")
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "authorization code rejected")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "token exchange failed")
	}
	return tok, nil
}

// TokenRequest POST /token 請求
type TokenRequest struct {
	Code string `json:"code"`
}

// TokenResponse POST /token 回應
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// NewTokenResponse 從 oauth2.Token 建立回應
func NewTokenResponse(tok *oauth2.Token) TokenResponse {
	resp := TokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return resp
}

// BeginLogin 產生 state，寫入 cookie，返回授權頁面 URL
func (s *Service) BeginLogin(w http.ResponseWriter, r *http.Request) string {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return s.AuthCodeURL(state)
}

// VerifyState 檢查回呼的 state 與 cookie 一致，並清除 cookie
func (s *Service) VerifyState(w http.ResponseWriter, r *http.Request) error {
	c, err := r.Cookie(StateCookie)
	if err != nil {
		return ErrStateMismatch.WithDetails(fmt.Sprintf("missing cookie %s", StateCookie))
	}
	http.SetCookie(w, &http.Cookie{Name: StateCookie, Value: "", Path: "/", MaxAge: -1})

	got := r.URL.Query().Get("state")
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(c.Value)) != 1 {
		return ErrStateMismatch
	}
	return nil
}

// FetchUser 以 access token 取得使用者資料
func (s *Service) FetchUser(ctx context.Context, tok *oauth2.Token) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build user info request")
	}

	resp, err := s.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "fetch user info")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return User{}, apperrors.New(apperrors.ErrCodeUnavailable, "fetch user info").
			WithDetails(resp.Status)
	case resp.StatusCode != http.StatusOK:
		return User{}, apperrors.New(apperrors.ErrCodeInvalidInput, "access token rejected").
			WithDetails(resp.Status)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "decode user info")
	}
	if user.ID == "" {
		return User{}, apperrors.New(apperrors.ErrCodeUnavailable, "user info without id")
	}
	return user, nil
}

// StartSession 儲存使用者並寫入 session cookie
func (s *Service) StartSession(ctx context.Context, w http.ResponseWriter, r *http.Request, user User) error {
	id := uuid.NewString()
	if err := s.sessions.Save(ctx, id, user, s.sessionTTL); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID, "username", user.Username)
	return nil
}

// CurrentUser 返回 cookie 對應的使用者；未登入時返回 ErrSessionNotFound
func (s *Service) CurrentUser(ctx context.Context, r *http.Request) (User, error) {
	id, ok := sessionID(r)
	if !ok {
		return User{}, ErrSessionNotFound
	}
	return s.sessions.Load(ctx, id)
}

// Logout 銷毀 session 並清除 cookie；沒有 session 時什麼都不做
func (s *Service) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, ok := sessionID(r)
	if !ok {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	return s.sessions.Destroy(ctx, id)
}
