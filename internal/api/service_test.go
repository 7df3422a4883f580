package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/feedsync/internal/action"
	"github.com/matheus3301/feedsync/internal/bus"
	"github.com/matheus3301/feedsync/internal/connectivity"
	"github.com/matheus3301/feedsync/internal/fakeapi"
	"github.com/matheus3301/feedsync/internal/gateway"
	"github.com/matheus3301/feedsync/internal/outbox"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/matheus3301/feedsync/internal/status"
	"github.com/matheus3301/feedsync/internal/store"
	intsync "github.com/matheus3301/feedsync/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var testSession = session.Context{Profile: "test", OwnerUserID: "me"}

type env struct {
	api    *fakeapi.Server
	net    *connectivity.Switch
	db     *store.DB
	client *Client
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newEnv serves a control service for an offline engine over a unix socket.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := fakeapi.New()
	remote := httptest.NewServer(api.Handler())
	t.Cleanup(remote.Close)

	db := testDB(t)
	b := bus.New()
	sw := connectivity.NewSwitch(false, b)
	machine := status.NewMachine(b)
	gw := gateway.NewHTTPClient(remote.URL, nil, nil)
	w := outbox.NewWriter(testSession, db, b, nil)
	rec := intsync.NewReconciler(testSession, db, gw, b, nil)
	policy := outbox.Policy{BackoffMin: time.Hour, BackoffMax: time.Hour, MaxRetries: 3}
	coord := intsync.NewCoordinator(testSession, db, gw, sw, rec, machine, b,
		intsync.Options{Workers: 2, DrainInterval: time.Hour, Policy: policy}, nil)
	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(coord.Stop)

	// Use a short path to stay under the unix socket path limit.
	tmpDir, err := os.MkdirTemp("/tmp", "feedsync-api-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	socketPath := filepath.Join(tmpDir, "d.sock")

	srv := grpc.NewServer()
	RegisterControlServer(srv, NewService(testSession, machine, coord, w, db, sw, b, nil))
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	client, err := Dial(socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &env{api: api, net: sw, db: db, client: client}
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestOfflineWriteThenSyncThroughControl(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r, err := e.client.Write(ctx, MethodSendMessage, map[string]any{
		"chat_id": "c1", "receiver_id": "bob", "text": "hello",
	})
	require.NoError(t, err)
	id := str(r, "id")
	assert.True(t, action.IsClientID(id))
	assert.Positive(t, integer(r, "seq"))

	msgs, err := e.client.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs.GetValues(), 1)
	m := msgs.GetValues()[0].GetStructValue()
	assert.Equal(t, "hello", str(m, "text"))
	assert.False(t, boolean(m, "is_sent"))

	chats, err := e.client.ListChats(ctx, 0)
	require.NoError(t, err)
	require.Len(t, chats.GetValues(), 1)

	n, err := e.client.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.Eventually(t, func() bool {
		st, err := e.client.GetStatus(ctx)
		return err == nil && str(st, "status") == string(status.Offline)
	}, 3*time.Second, 10*time.Millisecond)

	st, err := e.client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", str(st, "profile"))
	assert.Equal(t, "me", str(st, "owner"))
	assert.False(t, boolean(st, "online"))
	assert.Equal(t, int64(1), integer(st, "pending"))
	assert.Equal(t, int64(0), integer(st, "dropped"))

	err = e.client.SyncNow(ctx)
	assert.Equal(t, codes.FailedPrecondition, code(err))

	require.NoError(t, e.client.SetOnline(ctx, true))
	require.Eventually(t, func() bool {
		n, err := e.client.PendingCount(ctx)
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)
	require.Len(t, e.api.Messages("c1"), 1)

	msgs, err = e.client.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs.GetValues(), 1)
	m = msgs.GetValues()[0].GetStructValue()
	assert.True(t, boolean(m, "is_sent"))
	assert.NotEqual(t, id, str(m, "id"))

	require.NoError(t, e.client.SyncNow(ctx))
}

func TestPostsAndStoriesThroughControl(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.client.Write(ctx, MethodCreatePost, map[string]any{
		"caption": "sunset", "image_refs": []any{"a.jpg"},
	})
	require.NoError(t, err)
	postID := str(p, "id")

	_, err = e.client.Write(ctx, MethodToggleLike, map[string]any{"post_id": postID, "liked": true})
	require.NoError(t, err)
	_, err = e.client.Write(ctx, MethodAddComment, map[string]any{"post_id": postID, "text": "nice"})
	require.NoError(t, err)

	feed, err := e.client.GetFeed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feed.GetValues(), 1)
	post := feed.GetValues()[0].GetStructValue()
	assert.Equal(t, "sunset", str(post, "caption"))
	assert.True(t, boolean(post, "liked_by_me"))
	assert.Equal(t, int64(1), integer(post, "comment_count"))
	assert.False(t, boolean(post, "is_synced"))

	_, err = e.client.Write(ctx, MethodUploadStory, map[string]any{"media_ref": "s.jpg", "ttl_ms": 60_000})
	require.NoError(t, err)
	stories, err := e.client.ListStories(ctx)
	require.NoError(t, err)
	require.Len(t, stories.GetValues(), 1)

	n, err := e.client.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestControlErrorCodes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.client.Write(ctx, MethodSendMessage, map[string]any{"chat_id": "c1", "text": "no receiver"})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = e.client.Write(ctx, MethodEditMessage, map[string]any{"chat_id": "c1", "message_id": "nope", "text": "x"})
	assert.Equal(t, codes.NotFound, code(err))

	_, err = e.client.ListMessages(ctx, "", 0)
	assert.Equal(t, codes.InvalidArgument, code(err))

	assert.Equal(t, codes.NotFound, code(e.client.RetryAction(ctx, 999)))

	// A pending entry is not failed, so it cannot be requeued.
	r, err := e.client.Write(ctx, MethodSendMessage, map[string]any{"chat_id": "c1", "receiver_id": "bob", "text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, codes.FailedPrecondition, code(e.client.RetryAction(ctx, integer(r, "seq"))))
}

func TestWatchRetryAndDiscardFailures(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := e.client.WatchFailures(ctx)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	e.api.FailNext(string(action.SendMessage), http.StatusUnprocessableEntity, 1)
	r, err := e.client.Write(ctx, MethodSendMessage, map[string]any{"chat_id": "c1", "receiver_id": "bob", "text": "rejected"})
	require.NoError(t, err)
	seq := integer(r, "seq")
	require.NoError(t, e.client.SetOnline(ctx, true))

	f, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, seq, integer(f, "seq"))
	assert.Equal(t, string(action.SendMessage), str(f, "type"))
	assert.NotEmpty(t, str(f, "error"))

	failed, err := e.client.ListFailed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed.GetValues(), 1)
	assert.Equal(t, seq, integer(failed.GetValues()[0].GetStructValue(), "seq"))

	st, err := e.client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), integer(st, "failed"))

	// Retry replays it against the now healthy server.
	require.NoError(t, e.client.RetryAction(ctx, seq))
	require.Eventually(t, func() bool { return len(e.api.Messages("c1")) == 1 }, 3*time.Second, 10*time.Millisecond)

	// Discard drops a failed send together with its optimistic message.
	e.api.FailNext(string(action.SendMessage), http.StatusUnprocessableEntity, 1)
	r, err = e.client.Write(ctx, MethodSendMessage, map[string]any{"chat_id": "c2", "receiver_id": "bob", "text": "doomed"})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)

	require.NoError(t, e.client.DiscardAction(ctx, integer(r, "seq")))
	msgs, err := e.client.ListMessages(ctx, "c2", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs.GetValues())
	assert.Equal(t, codes.NotFound, code(e.client.DiscardAction(ctx, integer(r, "seq"))))
}

func TestMarkChatRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.db.UpsertMessage(&store.Message{
		ID: "m1", ChatID: "c1", SenderID: "bob", ReceiverID: "me", Body: "yo", Kind: "text", Timestamp: 1000, IsSent: true,
	}))
	require.NoError(t, e.client.MarkChatRead(ctx, "c1"))

	msgs, err := e.client.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs.GetValues(), 1)
	assert.True(t, boolean(msgs.GetValues()[0].GetStructValue(), "is_read"))

	assert.Equal(t, codes.InvalidArgument, code(e.client.MarkChatRead(ctx, "")))
}
