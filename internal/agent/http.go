package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxReplyBody = 8 << 20

// HTTPRuntime posts each turn as JSON to an agent endpoint and delivers the replies
// it answers with:
//
//	POST {url}   body: Turn
//	200          body: {"replies":[{"text":"...","media_urls":["..."]}]}
type HTTPRuntime struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPRuntime creates an HTTP runtime. timeout bounds one whole turn.
func NewHTTPRuntime(url, token string, timeout time.Duration) *HTTPRuntime {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPRuntime{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type httpReplyBody struct {
	Replies []Reply `json:"replies"`
	Error   string  `json:"error,omitempty"`
}

// Dispatch implements Runtime.
func (r *HTTPRuntime) Dispatch(ctx context.Context, turn Turn, deliver DeliverFunc) error {
	body, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Run-ID", turn.RunID)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return fmt.Errorf("agent response: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out httpReplyBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("agent response decode: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("agent error: %s", out.Error)
	}

	for i, reply := range out.Replies {
		if reply.Empty() {
			continue
		}
		if err := deliver(ctx, reply); err != nil {
			slog.Debug("agent reply not delivered", "run_id", turn.RunID, "index", i, "error", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
