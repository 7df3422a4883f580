package fakeapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/feedsync/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, h http.Handler, method, path, key string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(gateway.HeaderIdempotencyKey, key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var sendBody = map[string]any{
	"clientId": "local-msg-1", "chatId": "c1", "senderId": "me", "receiverId": "bob",
	"text": "hi", "kind": "text", "timestamp": 1,
}

func TestIdempotentSend(t *testing.T) {
	s := New()
	h := s.Handler()

	first := doJSON(t, h, http.MethodPost, "/v1/messages", "key-1", sendBody)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, h, http.MethodPost, "/v1/messages", "key-1", sendBody)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Len(t, s.Messages("c1"), 1, "replayed key must not create a second message")
	assert.Equal(t, 2, s.Requests("send_message"))
}

func TestWriteRequiresIdempotencyKey(t *testing.T) {
	s := New()
	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/messages", "", sendBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.Messages("c1"))
}

func TestFailNextLeavesStateUntouched(t *testing.T) {
	s := New()
	s.FailNext("send_message", http.StatusServiceUnavailable, 2)
	h := s.Handler()

	for range 2 {
		w := doJSON(t, h, http.MethodPost, "/v1/messages", "key-1", sendBody)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
	assert.Empty(t, s.Messages("c1"))

	w := doJSON(t, h, http.MethodPost, "/v1/messages", "key-1", sendBody)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestDropResponseCommitsWrite(t *testing.T) {
	s := New()
	s.DropResponse("send_message", 1)
	h := s.Handler()

	lost := doJSON(t, h, http.MethodPost, "/v1/messages", "key-1", sendBody)
	assert.Equal(t, http.StatusGatewayTimeout, lost.Code)
	require.Len(t, s.Messages("c1"), 1, "write must commit even though the reply was lost")

	retry := doJSON(t, h, http.MethodPost, "/v1/messages", "key-1", sendBody)
	require.Equal(t, http.StatusCreated, retry.Code)

	var res gateway.MessageResult
	require.NoError(t, json.Unmarshal(retry.Body.Bytes(), &res))
	assert.Equal(t, s.Messages("c1")[0].ID, res.ServerID)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestLikeIsStateNotFlip(t *testing.T) {
	s := New()
	s.SeedPost(gateway.RemotePost{ID: "p1", Caption: "x", Timestamp: 1})
	h := s.Handler()

	like := map[string]any{"postId": "p1", "liked": true, "at": 10}
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPut, "/v1/posts/p1/like", "k1", like).Code)
	w := doJSON(t, h, http.MethodPut, "/v1/posts/p1/like", "k2", like)
	require.Equal(t, http.StatusOK, w.Code)

	var res gateway.PostResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.LikeCount)
	assert.True(t, res.Liked)
	assert.Equal(t, int64(10), res.UpdatedAt)
}

func TestUnknownPostIsNotFound(t *testing.T) {
	s := New()
	w := doJSON(t, s.Handler(), http.MethodPost, "/v1/posts/nope/comments", "k1",
		map[string]any{"postId": "nope", "commentId": "c", "text": "hi", "at": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFetchMessagesSinceIncludesDeletes(t *testing.T) {
	s := New()
	s.SeedMessage(gateway.RemoteMessage{ID: "m1", ChatID: "c1", Text: "old", Timestamp: 100})
	s.SeedMessage(gateway.RemoteMessage{ID: "m2", ChatID: "c1", Text: "new", Timestamp: 200})
	h := s.Handler()

	del := doJSON(t, h, http.MethodDelete, "/v1/messages/m1", "k1", map[string]any{"messageId": "m1", "chatId": "c1", "deletedAt": 300})
	require.Equal(t, http.StatusOK, del.Code)

	w := doJSON(t, h, http.MethodGet, "/v1/chats/c1/messages?since=150", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page gateway.MessagesPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m1", page.Messages[0].ID)
	assert.True(t, page.Messages[0].Deleted)
	assert.Equal(t, "m2", page.Messages[1].ID)
}

func TestFetchChatsNewestFirst(t *testing.T) {
	s := New()
	s.SeedMessage(gateway.RemoteMessage{ID: "m1", ChatID: "c1", Text: "a", Timestamp: 100})
	s.SeedMessage(gateway.RemoteMessage{ID: "m2", ChatID: "c2", Text: "b", Timestamp: 300})
	s.SeedMessage(gateway.RemoteMessage{ID: "m3", ChatID: "c1", Text: "c", Timestamp: 200})
	s.SeedMessage(gateway.RemoteMessage{ID: "m4", ChatID: "c3", Text: "gone", Timestamp: 400, Deleted: true})

	w := doJSON(t, s.Handler(), http.MethodGet, "/v1/chats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page gateway.ChatsPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, []gateway.RemoteChat{
		{ChatID: "c2", LastMessageAt: 300},
		{ChatID: "c1", LastMessageAt: 200},
	}, page.Chats)
}

func TestStoriesHideExpired(t *testing.T) {
	now := time.UnixMilli(10_000)
	s := New(WithClock(func() time.Time { return now }))
	s.SeedStory(gateway.RemoteStory{ID: "s1", MediaRef: "a", Timestamp: 1, ExpiresAt: 5_000})
	s.SeedStory(gateway.RemoteStory{ID: "s2", MediaRef: "b", Timestamp: 2, ExpiresAt: 20_000})

	w := doJSON(t, s.Handler(), http.MethodGet, "/v1/stories", "", nil)
	var page gateway.StoriesPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Stories, 1)
	assert.Equal(t, "s2", page.Stories[0].ID)
}

func TestJWTAuth(t *testing.T) {
	s := New(WithJWTSecret("secret"))
	h := s.Handler()

	w := doJSON(t, h, http.MethodGet, "/v1/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad, err := gateway.SignToken([]byte("other"), "me", time.Minute)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/v1/feed", "", nil, "Authorization", "Bearer "+bad)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	good, err := gateway.SignToken([]byte("secret"), "me", time.Minute)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/v1/feed", "", nil, "Authorization", "Bearer "+good)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays public.
	w = doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
