// Package ghsync posts finalized estimates as comments on GitHub issues.
package ghsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

type Commenter struct {
	baseURL string
	client  *http.Client
}

var _ core.IssueCommenter = (*Commenter)(nil)

// NewCommenter builds a commenter authenticating with cfg.Token.
func NewCommenter(cfg Config) *Commenter {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = cfg.Timeout
	base := cfg.APIURL
	if base == "" {
		base = defaultAPIURL
	}
	return &Commenter{baseURL: strings.TrimRight(base, "/"), client: client}
}

type commentRequest struct {
	Body string `json:"body"`
}

func formatEstimate(value float64) string {
	return "Estimated: **" + strconv.FormatFloat(value, 'f', -1, 64) + "** story points"
}

// PostEstimateComment comments the estimate on repo ("owner/name") issue.
func (c *Commenter) PostEstimateComment(ctx context.Context, repo string, issue int, value float64) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || issue <= 0 {
		return fmt.Errorf("invalid issue reference %q#%d", repo, issue)
	}
	body, err := json.Marshal(commentRequest{Body: formatEstimate(value)})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, name, issue)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post comment: github returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	log.Debug().Str("module", "ghsync").Str("repo", repo).Int("issue", issue).Msg("comment posted")
	return nil
}
