package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/feedsync/internal/action"
	"go.uber.org/zap"
)

// HTTPClient implements Gateway over the JSON REST API.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Token   TokenSource
	logger  *zap.Logger
}

var _ Gateway = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the API rooted at baseURL. token may be nil.
func NewHTTPClient(baseURL string, token TokenSource, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Token:   token,
		logger:  logger,
	}
}

func (c *HTTPClient) SendMessage(ctx context.Context, key string, p *action.SendMessagePayload) (MessageResult, error) {
	var out MessageResult
	err := c.do(ctx, string(action.SendMessage), http.MethodPost, "/v1/messages", key, p, &out)
	return out, err
}

func (c *HTTPClient) EditMessage(ctx context.Context, key string, p *action.EditMessagePayload) (MessageResult, error) {
	var out MessageResult
	err := c.do(ctx, string(action.EditMessage), http.MethodPatch, "/v1/messages/"+url.PathEscape(p.MessageID), key, p, &out)
	return out, err
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, key string, p *action.DeleteMessagePayload) error {
	return c.do(ctx, string(action.DeleteMessage), http.MethodDelete, "/v1/messages/"+url.PathEscape(p.MessageID), key, p, nil)
}

func (c *HTTPClient) CreatePost(ctx context.Context, key string, p *action.CreatePostPayload) (PostResult, error) {
	var out PostResult
	err := c.do(ctx, string(action.CreatePost), http.MethodPost, "/v1/posts", key, p, &out)
	return out, err
}

func (c *HTTPClient) ToggleLike(ctx context.Context, key string, p *action.ToggleLikePayload) (PostResult, error) {
	var out PostResult
	err := c.do(ctx, string(action.ToggleLike), http.MethodPut, "/v1/posts/"+url.PathEscape(p.PostID)+"/like", key, p, &out)
	return out, err
}

func (c *HTTPClient) AddComment(ctx context.Context, key string, p *action.AddCommentPayload) (PostResult, error) {
	var out PostResult
	err := c.do(ctx, string(action.AddComment), http.MethodPost, "/v1/posts/"+url.PathEscape(p.PostID)+"/comments", key, p, &out)
	return out, err
}

func (c *HTTPClient) UploadStory(ctx context.Context, key string, p *action.UploadStoryPayload) (StoryResult, error) {
	var out StoryResult
	err := c.do(ctx, string(action.UploadStory), http.MethodPost, "/v1/stories", key, p, &out)
	return out, err
}

func (c *HTTPClient) FetchChats(ctx context.Context) ([]RemoteChat, error) {
	var page ChatsPage
	if err := c.do(ctx, "fetch_chats", http.MethodGet, "/v1/chats", "", nil, &page); err != nil {
		return nil, err
	}
	return page.Chats, nil
}

func (c *HTTPClient) FetchMessages(ctx context.Context, chatID string, since int64) ([]RemoteMessage, error) {
	var page MessagesPage
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages?since=" + strconv.FormatInt(since, 10)
	if err := c.do(ctx, "fetch_messages", http.MethodGet, path, "", nil, &page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

func (c *HTTPClient) FetchFeed(ctx context.Context, limit int) ([]RemotePost, error) {
	var page FeedPage
	if err := c.do(ctx, "fetch_feed", http.MethodGet, "/v1/feed?limit="+strconv.Itoa(limit), "", nil, &page); err != nil {
		return nil, err
	}
	return page.Posts, nil
}

func (c *HTTPClient) FetchStories(ctx context.Context) ([]RemoteStory, error) {
	var page StoriesPage
	if err := c.do(ctx, "fetch_stories", http.MethodGet, "/v1/stories", "", nil, &page); err != nil {
		return nil, err
	}
	return page.Stories, nil
}

func (c *HTTPClient) FetchProfiles(ctx context.Context, ids []string) ([]RemoteProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var page ProfilesPage
	path := "/v1/profiles?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, "fetch_profiles", http.MethodGet, path, "", nil, &page); err != nil {
		return nil, err
	}
	return page.Profiles, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, key string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("token: %w", err)}
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return TransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		c.logger.Debug("remote rejected request",
			zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("error", eb.Error))
		return StatusError(op, resp.StatusCode, eb.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is indistinguishable from a dropped connection.
		return &Error{Op: op, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
