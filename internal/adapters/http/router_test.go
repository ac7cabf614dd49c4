package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	api "github.com/dkeye/Estimate/internal/adapters/http"
	"github.com/dkeye/Estimate/internal/adapters/signal"
	"github.com/dkeye/Estimate/internal/app"
	"github.com/dkeye/Estimate/internal/app/orch"
	"github.com/dkeye/Estimate/internal/app/voting"
	"github.com/dkeye/Estimate/internal/auth"
	"github.com/dkeye/Estimate/internal/config"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/dkeye/Estimate/internal/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	host  = domain.User{ID: "host", Username: "Host"}
	alice = domain.User{ID: "alice", Username: "Alice"}
)

type server struct {
	url    string
	tokens *auth.JWT
}

func newServer(t *testing.T, mode string) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tokens, err := auth.NewJWT("test-secret", "")
	require.NoError(t, err)
	store := memory.New()
	reg := app.NewRegistry()
	rooms := app.NewRoomManager(app.SimplePolicy{})
	o := orch.New(reg, rooms, voting.New(store, rooms, voting.WithPresence(reg)), store)
	ctl := signal.NewSignalWSController(o, tokens, signal.Config{})

	cfg := &config.Config{Mode: mode, Secret: "cookie-secret", TokenTTL: time.Hour}
	srv := httptest.NewServer(api.SetupRouter(ctx, cfg, o, ctl, tokens))
	t.Cleanup(srv.Close)
	return &server{url: srv.URL, tokens: tokens}
}

func (s *server) token(t *testing.T, u domain.User) string {
	t.Helper()
	token, err := s.tokens.Issue(u, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *server) do(t *testing.T, client *http.Client, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.url+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestRequiresToken(t *testing.T) {
	s := newServer(t, "test")
	resp, body := s.do(t, nil, http.MethodPost, "/api/sessions", "", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthenticated", body["error"])

	resp, _ = s.do(t, nil, http.MethodGet, "/api/sessions/abc", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	s := newServer(t, "test")
	hostToken, aliceToken := s.token(t, host), s.token(t, alice)

	resp, body := s.do(t, nil, http.MethodPost, "/api/sessions", hostToken, map[string]any{"name": "Sprint 12", "votingMode": "open"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "open", body["votingMode"])

	resp, body = s.do(t, nil, http.MethodGet, "/api/sessions/"+id, aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NotParticipant", body["error"])

	resp, _ = s.do(t, nil, http.MethodPost, "/api/sessions/"+id+"/participants", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, nil, http.MethodGet, "/api/sessions/"+id, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "session")

	resp, body = s.do(t, nil, http.MethodGet, "/api/sessions/"+id+"/stories/missing/rounds", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidStory", body["error"])

	resp, _ = s.do(t, nil, http.MethodDelete, "/api/sessions/"+id, aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, nil, http.MethodDelete, "/api/sessions/"+id, hostToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = s.do(t, nil, http.MethodPost, "/api/sessions/"+id+"/participants", s.token(t, domain.User{ID: "late", Username: "Late"}), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SessionArchived", body["error"])

	resp, _ = s.do(t, nil, http.MethodGet, "/api/sessions/nope", hostToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionValidatesBody(t *testing.T) {
	s := newServer(t, "test")
	token := s.token(t, host)

	resp, body := s.do(t, nil, http.MethodPost, "/api/sessions", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BadPayload", body["error"])

	resp, _ = s.do(t, nil, http.MethodPost, "/api/sessions", token, map[string]any{"name": "x", "votingMode": "secret"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCookieSessionCarriesToken(t *testing.T) {
	s := newServer(t, "test")
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{Jar: jar}

	resp, _ := s.do(t, browser, http.MethodPost, "/api/auth/session", "", map[string]any{"token": "bad"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.do(t, browser, http.MethodPost, "/api/auth/session", "", map[string]any{"token": s.token(t, host)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "host", body["id"])

	resp, _ = s.do(t, browser, http.MethodPost, "/api/sessions", "", map[string]any{"name": "From cookie"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = s.do(t, browser, http.MethodDelete, "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, browser, http.MethodPost, "/api/sessions", "", map[string]any{"name": "Again"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDevTokenOnlyInDebug(t *testing.T) {
	s := newServer(t, "test")
	resp, _ := s.do(t, nil, http.MethodPost, "/api/dev/token", "", map[string]any{"username": "Dev"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	d := newServer(t, "debug")
	resp, body := d.do(t, nil, http.MethodPost, "/api/dev/token", "", map[string]any{"userId": "dev", "username": "Dev"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	user, err := d.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("dev"), user.ID)
}

func TestHealth(t *testing.T) {
	s := newServer(t, "test")
	resp, body := s.do(t, nil, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
