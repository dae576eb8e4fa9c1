package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/koopa0/roomsync/internal/auth"
	"github.com/koopa0/roomsync/internal/testutils"
	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"github.com/koopa0/roomsync/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// runSessionContract 所有 SessionStore 實現都要通過的行為
func runSessionContract(t *testing.T, store auth.SessionStore) {
	ctx := context.Background()
	avatar := "a_1f2e"
	alice := auth.User{ID: "80351110224678912", Username: "alice", Discriminator: "1337", Avatar: &avatar}

	t.Run("missing session", func(t *testing.T) {
		_, err := store.Load(ctx, "nope")
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s1", alice, time.Hour))
		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, alice, got)
	})

	t.Run("destroy", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s2", alice, time.Hour))
		require.NoError(t, store.Destroy(ctx, "s2"))
		_, err := store.Load(ctx, "s2")
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)

		// 重複銷毀不報錯
		assert.NoError(t, store.Destroy(ctx, "s2"))
	})

	t.Run("expires", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "s3", alice, 50*time.Millisecond))
		testutils.WaitForCondition(t, func() bool {
			_, err := store.Load(ctx, "s3")
			return apperrors.IsNotFound(err)
		}, 3*time.Second, "session expired")
	})
}

func TestMemorySessions(t *testing.T) {
	runSessionContract(t, auth.NewMemorySessions())
}

func TestRedisSessions(t *testing.T) {
	client := testutils.SetupRedis(t)
	runSessionContract(t, auth.NewRedisSessions(client, "test:session:"))

	keys, err := client.Keys(context.Background(), "test:session:*").Result()
	require.NoError(t, err)
	assert.Contains(t, keys, "test:session:s1")
}

// newUserInfo 模擬授權方的使用者資料端點
func newUserInfo(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "80351110224678912",
			"username":      "alice",
			"discriminator": "1337",
			"avatar":        nil,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSessionService(userInfoURL string) *auth.Service {
	return auth.NewService(auth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:3000/auth/authorized",
		AuthURL:      "https://provider.example/authorize?response_type=code",
		TokenURL:     "http://unused",
		UserInfoURL:  userInfoURL,
		Scopes:       []string{"identify"},
	}, logger.Discard())
}

// TestFetchUser 測試取得使用者資料
func TestFetchUser(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		token   string
		errCode string
	}{
		{name: "ok", status: http.StatusOK, token: "tok-123"},
		{name: "token rejected", status: http.StatusOK, token: "expired", errCode: apperrors.ErrCodeInvalidInput},
		{name: "provider error", status: http.StatusBadGateway, token: "tok-123", errCode: apperrors.ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSessionService(newUserInfo(t, tt.status).URL)

			user, err := s.FetchUser(context.Background(), &oauth2.Token{AccessToken: tt.token, TokenType: "Bearer"})
			if tt.errCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errCode, apperrors.From(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "80351110224678912", user.ID)
			assert.Equal(t, "alice", user.Username)
			assert.Nil(t, user.Avatar)
		})
	}

	t.Run("provider down", func(t *testing.T) {
		s := newSessionService("http://127.0.0.1:1/users/@me")
		_, err := s.FetchUser(context.Background(), &oauth2.Token{AccessToken: "tok-123"})
		assert.True(t, apperrors.IsUnavailable(err))
	})
}

// TestSessionLifecycle 登入、讀取、登出
func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSessionService("http://unused")
	alice := auth.User{ID: "1", Username: "alice"}

	_, err := s.CurrentUser(ctx, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	rec := httptest.NewRecorder()
	require.NoError(t, s.StartSession(ctx, rec, httptest.NewRequest(http.MethodGet, "/auth/authorized", nil), alice))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	session := cookies[0]
	assert.Equal(t, auth.SessionCookie, session.Name)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
	assert.Equal(t, int(auth.DefaultSessionTTL.Seconds()), session.MaxAge)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(session)
	got, err := s.CurrentUser(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/logout", nil)
	r.AddCookie(session)
	require.NoError(t, s.Logout(ctx, rec, r))
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)

	r = httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(session)
	_, err = s.CurrentUser(ctx, r)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	// 沒有 session 時登出不報錯
	assert.NoError(t, s.Logout(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/logout", nil)))
}
