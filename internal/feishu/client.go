// Package feishu implements the narrow Feishu Open API surface the bot
// consumes: tenant-token management and the three outbound message
// operations (react, text reply, post reply). Inbound webhook payload types
// live in events.go.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the public Feishu Open API endpoint.
const DefaultBaseURL = "https://open.feishu.cn/open-apis"

// tokenRefreshMargin refreshes the cached tenant token this long before it
// actually expires, so in-flight requests never race the expiry.
const tokenRefreshMargin = 60 * time.Second

// Emoji kinds understood by the bot.
const (
	EmojiDone       = "DONE"
	EmojiThumbsUp   = "THUMBSUP"
	EmojiThumbsDown = "ThumbsDown"
)

// ErrUpstream indicates a non-2xx response or a non-zero Feishu status code
// from the Open API.
var ErrUpstream = errors.New("feishu api error")

// PostSpan is one styled text fragment inside a post-message line.
type PostSpan struct {
	Tag   string   `json:"tag"`
	Text  string   `json:"text"`
	Style []string `json:"style,omitempty"`
}

// TextSpan returns an unstyled text span.
func TextSpan(text string) PostSpan { return PostSpan{Tag: "text", Text: text} }

// BoldSpan returns a bold text span.
func BoldSpan(text string) PostSpan {
	return PostSpan{Tag: "text", Text: text, Style: []string{"bold"}}
}

// Messenger is the outbound surface the bot needs. The concrete Client
// implements it; tests substitute a recording fake.
type Messenger interface {
	// React attaches an emoji reaction to the message.
	React(ctx context.Context, msgID, emoji string) error
	// ReplyText sends a plain-text reply to the message.
	ReplyText(ctx context.Context, msgID, text string) error
	// ReplyPost sends a rich "post" reply and returns the id of the created
	// message, when the platform reports one.
	ReplyPost(ctx context.Context, msgID, title string, lines [][]PostSpan) (string, error)
}

// Client talks to the Feishu Open API with a cached tenant access token.
// Token refresh is single-flight: concurrent callers needing a refresh share
// one upstream request and reuse its result. Safe for concurrent use.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client

	sf singleflight.Group

	mu       sync.RWMutex
	token    string
	tokenExp time.Time
}

// NewClient constructs a Client for the given app credentials. baseURL may
// be empty to use the public endpoint; httpClient may be nil for a default
// with a sane timeout.
func NewClient(baseURL, appID, appSecret string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: httpClient,
	}
}

// Token returns a tenant access token, refreshing it when it is missing or
// within the refresh margin of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, exp := c.token, c.tokenExp
	c.mu.RUnlock()
	if token != "" && time.Now().Add(tokenRefreshMargin).Before(exp) {
		return token, nil
	}

	v, err, _ := c.sf.Do("tenant_token", func() (any, error) {
		// Re-check under the flight: a caller that queued behind the
		// refresh finds the fresh token here.
		c.mu.RLock()
		token, exp := c.token, c.tokenExp
		c.mu.RUnlock()
		if token != "" && time.Now().Add(tokenRefreshMargin).Before(exp) {
			return token, nil
		}
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get tenant token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("%w: token refresh: %s", ErrUpstream, result.Msg)
	}

	c.mu.Lock()
	c.token = result.TenantAccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.Expire) * time.Second)
	c.mu.Unlock()
	return result.TenantAccessToken, nil
}

// React attaches an emoji reaction to msgID.
func (c *Client) React(ctx context.Context, msgID, emoji string) error {
	body := map[string]any{
		"reaction_type": map[string]string{"emoji_type": emoji},
	}
	var result apiResult
	if err := c.post(ctx, fmt.Sprintf("/im/v1/messages/%s/reactions", msgID), body, &result); err != nil {
		return err
	}
	log.Debug().Str("msg_id", msgID).Str("emoji", emoji).Msg("sent reaction")
	return nil
}

// ReplyText sends a plain-text reply to msgID.
func (c *Client) ReplyText(ctx context.Context, msgID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal text content: %w", err)
	}
	body := map[string]any{
		"content":  string(content),
		"msg_type": "text",
	}
	var result apiResult
	if err := c.post(ctx, fmt.Sprintf("/im/v1/messages/%s/reply", msgID), body, &result); err != nil {
		return err
	}
	log.Debug().Str("msg_id", msgID).Msg("sent text reply")
	return nil
}

// ReplyPost sends a rich post reply to msgID and returns the id of the
// created message. The id may be empty when the platform omits it.
func (c *Client) ReplyPost(ctx context.Context, msgID, title string, lines [][]PostSpan) (string, error) {
	content, err := json.Marshal(map[string]any{
		"zh_cn": map[string]any{
			"title":   title,
			"content": lines,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal post content: %w", err)
	}
	body := map[string]any{
		"content":  string(content),
		"msg_type": "post",
	}
	var result apiResult
	if err := c.post(ctx, fmt.Sprintf("/im/v1/messages/%s/reply", msgID), body, &result); err != nil {
		return "", err
	}
	log.Debug().Str("msg_id", msgID).Str("reply_id", result.Data.MessageID).Msg("sent post reply")
	return result.Data.MessageID, nil
}

// apiResult is the common Feishu response envelope.
type apiResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// post sends an authenticated JSON POST and decodes the response envelope,
// translating transport failures, non-2xx statuses, and non-zero Feishu
// codes into ErrUpstream.
func (c *Client) post(ctx context.Context, path string, body any, result *apiResult) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: http %d", ErrUpstream, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("%w: %s: %s", ErrUpstream, path, result.Msg)
	}
	return nil
}
