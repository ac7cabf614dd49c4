package ghsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostEstimateComment(t *testing.T) {
	var (
		gotPath, gotAuth string
		gotBody          commentRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewCommenter(Config{Token: "ghp_test", APIURL: srv.URL + "/", Timeout: time.Second})
	require.NoError(t, c.PostEstimateComment(context.Background(), "acme/web", 42, 5))

	assert.Equal(t, "/repos/acme/web/issues/42/comments", gotPath)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, "Estimated: **5** story points", gotBody.Body)
}

func TestPostEstimateCommentFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewCommenter(Config{Token: "x", APIURL: srv.URL, Timeout: time.Second})

	err := c.PostEstimateComment(context.Background(), "acme/web", 1, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	assert.Error(t, c.PostEstimateComment(context.Background(), "no-slash", 1, 3))
	assert.Error(t, c.PostEstimateComment(context.Background(), "acme/web", 0, 3))
}

func TestPostEstimateCommentHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewCommenter(Config{Token: "x", APIURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.PostEstimateComment(ctx, "acme/web", 1, 3))
}

func TestFormatEstimate(t *testing.T) {
	assert.Equal(t, "Estimated: **0.5** story points", formatEstimate(0.5))
	assert.Equal(t, "Estimated: **13** story points", formatEstimate(13))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_abc")
	t.Setenv("GITHUB_API_URL", "https://ghe.example.com/api/v3/")
	t.Setenv("GITHUB_TIMEOUT", "3s")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.APIURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GITHUB_API_URL", "")
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, defaultAPIURL, cfg.APIURL)
}
