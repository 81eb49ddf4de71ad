package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

// ClientOptions configures the REST client.
type ClientOptions struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client is a lightweight Huddle REST API client using net/http.
// Every request waits on a token-bucket limiter before going out.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	onSuccess  func()
}

// NewClient creates a REST client. BaseURL is the API root, e.g. https://huddle.example.com/api.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := opts.Burst
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: hc,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// OnSuccess registers a hook invoked after every 2xx response. The connection
// uses it as the outbound half of its liveness signal.
func (c *Client) OnSuccess(fn func()) { c.onSuccess = fn }

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// --- Generic API helpers ---

type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// doJSON performs an authenticated JSON call and decodes the response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("huddle %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if c.onSuccess != nil {
		c.onSuccess()
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("huddle %s %s decode: %w", method, path, err)
	}
	return nil
}

// checkResponse maps non-2xx responses to AuthenticationError or APIError.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	code, msg := "", eb.Message
	if eb.Error != nil {
		code, msg = eb.Error.Code, eb.Error.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthenticationError{Status: resp.StatusCode, Message: msg}
	}
	return &APIError{Status: resp.StatusCode, Code: code, Message: msg}
}

// --- Users & channels ---

// GetMe returns the bot user behind the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserChannels lists every channel the bot is a member of.
func (c *Client) GetUserChannels(ctx context.Context) ([]Channel, error) {
	var out struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/users/me/channels", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// GetChannel fetches one channel's metadata.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.doJSON(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetOrCreateDMChannel returns the direct channel with a user, creating it if needed.
func (c *Client) GetOrCreateDMChannel(ctx context.Context, userID string) (*Channel, error) {
	var ch Channel
	body := map[string]string{"userId": userID}
	if err := c.doJSON(ctx, http.MethodPost, "/channels/direct", body, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// --- Messages ---

// SendMessage posts a message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg PostMessage) (*Message, error) {
	var out Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMessage replaces a message's content.
func (c *Client) UpdateMessage(ctx context.Context, messageID, content string) (*Message, error) {
	var out Message
	body := map[string]string{"content": content}
	if err := c.doJSON(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	return c.doJSON(ctx, http.MethodPut, reactionPath(messageID, emoji), nil, nil)
}

// RemoveReaction removes the bot's emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	return c.doJSON(ctx, http.MethodDelete, reactionPath(messageID, emoji), nil, nil)
}

func reactionPath(messageID, emoji string) string {
	return "/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(emoji)
}
