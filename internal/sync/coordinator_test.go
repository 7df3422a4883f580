package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var testSession = session.Context{Profile: "test", OwnerUserID: "me"}

// slowRetry keeps retried entries out of a drain until the test moves the
// coordinator clock forward.
var slowRetry = outbox.Policy{BackoffMin: time.Hour, BackoffMax: time.Hour, MaxRetries: 3}

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

type harness struct {
	db      *store.DB
	api     *fakeapi.Server
	gw      *gateway.HTTPClient
	net     *connectivity.Switch
	bus     *bus.Bus
	machine *status.Machine
	writer  *outbox.Writer
	rec     *Reconciler
	coord   *Coordinator
}

func newHarness(t *testing.T, online bool, policy outbox.Policy) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := fakeapi.New()
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	h := &harness{
		db:  testDB(t),
		api: api,
		gw:  gateway.NewHTTPClient(srv.URL, nil, nil),
		bus: bus.New(),
	}
	h.net = connectivity.NewSwitch(online, h.bus)
	h.machine = status.NewMachine(h.bus)
	h.writer = outbox.NewWriter(testSession, h.db, h.bus, nil)
	h.rec = NewReconciler(testSession, h.db, h.gw, h.bus, nil)
	h.coord = h.newCoordinator(h.gw, policy)
	return h
}

func (h *harness) newCoordinator(gw gateway.Gateway, policy outbox.Policy) *Coordinator {
	opts := Options{Workers: 2, DrainInterval: time.Hour, Policy: policy}
	return NewCoordinator(testSession, h.db, gw, h.net, h.rec, h.machine, h.bus, opts, nil)
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.coord.Start(context.Background()))
	t.Cleanup(h.coord.Stop)
}

// advance moves the coordinator clock d into the future.
func (h *harness) advance(d time.Duration) {
	h.coord.now = func() time.Time { return time.Now().Add(d) }
}

func (h *harness) pending(t *testing.T) int {
	t.Helper()
	n, err := h.coord.PendingCount()
	require.NoError(t, err)
	return n
}

func TestOfflineSendDrainsWhenOnline(t *testing.T) {
	h := newHarness(t, false, outbox.DefaultPolicy())
	h.start(t)

	r, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, h.pending(t))
	require.Eventually(t, func() bool { return h.machine.Current() == status.Offline }, waitFor, tick)

	// Offline: nothing reaches the server.
	assert.Zero(t, h.api.Requests(string(action.SendMessage)))

	h.net.SetOnline(true)
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.machine.Current() == status.Online }, waitFor, tick)

	msgs, err := h.db.MessagesByChat("c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.True(t, msgs[0].IsSent)
	assert.False(t, action.IsClientID(msgs[0].ID), "client id should be rewritten")
	assert.Equal(t, r.ID, msgs[0].ClientID)

	chat, err := h.db.GetChat("me", "c1")
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.Equal(t, "hi", chat.LastMessagePreview)

	assert.Len(t, h.api.Messages("c1"), 1)
}

func TestDrainPreservesStreamOrder(t *testing.T) {
	h := newHarness(t, true, slowRetry)

	hello, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "helo"})
	require.NoError(t, err)
	_, err = h.writer.EditMessage("c1", hello.ID, "hello")
	require.NoError(t, err)
	bye, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "bye"})
	require.NoError(t, err)
	_, err = h.writer.DeleteMessage("c1", bye.ID)
	require.NoError(t, err)

	post, err := h.writer.CreatePost("sunset", []string{"a.jpg"})
	require.NoError(t, err)
	_, err = h.writer.ToggleLike(post.ID, true)
	require.NoError(t, err)
	_, err = h.writer.AddComment(post.ID, "nice")
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 7}, res)
	assert.Zero(t, h.pending(t))

	// Edits and deletes reached the server under the server ids, which is
	// only possible if each send completed first.
	remote := h.api.Messages("c1")
	require.Len(t, remote, 1)
	assert.Equal(t, "hello", remote[0].Text)

	posts := h.api.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, 1, posts[0].LikeCount)
	assert.Equal(t, 1, posts[0].CommentCount)

	serverID, err := h.db.ResolveID(store.KindPost, post.ID)
	require.NoError(t, err)
	assert.Equal(t, posts[0].ID, serverID)

	local, err := h.db.GetPost(serverID)
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.True(t, local.IsSynced)
	assert.True(t, local.LikedByMe)
	assert.Equal(t, 1, local.LikeCount)
	assert.Equal(t, 1, local.CommentCount)
}

func TestRetryableFailureBacksOff(t *testing.T) {
	h := newHarness(t, true, slowRetry)
	h.api.FailNext(string(action.SendMessage), http.StatusServiceUnavailable, 1)

	r, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Retried: 1}, res)

	a, err := h.db.GetAction(r.Seq)
	require.NoError(t, err)
	assert.Equal(t, store.ActionPending, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	assert.Contains(t, a.LastError, "503")
	assert.Greater(t, a.NextAttemptAt, time.Now().UnixMilli())

	// Still backing off.
	res, err = h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res)

	h.advance(2 * time.Hour)
	res, err = h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1}, res)
	assert.Len(t, h.api.Messages("c1"), 1)
}

func TestRetryCeilingFailsWithoutBlockingOthers(t *testing.T) {
	policy := slowRetry
	policy.MaxRetries = 2
	h := newHarness(t, true, policy)
	h.api.FailNext(string(action.SendMessage), http.StatusBadGateway, 10)

	failures, stop := h.coord.Failures(4)
	defer stop()

	msg, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)
	_, err = h.writer.CreatePost("caption", nil)
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1, Retried: 1}, res)

	h.advance(2 * time.Hour)
	res, err = h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Failed: 1}, res)

	a, err := h.db.GetAction(msg.Seq)
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, a.Status)

	select {
	case f := <-failures:
		assert.Equal(t, msg.Seq, f.Seq)
		assert.Equal(t, action.SendMessage, f.Type)
		assert.Contains(t, f.Error, "502")
	case <-time.After(waitFor):
		t.Fatal("no failure notification")
	}

	// Excluded from future drains, and the message stream is free again.
	h.advance(4 * time.Hour)
	_, err = h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "again"})
	require.NoError(t, err)
	before := h.api.Requests(string(action.SendMessage))
	res, err = h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed+res.Retried)
	assert.Equal(t, before+1, h.api.Requests(string(action.SendMessage)))
}

func TestTerminalFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, true, slowRetry)
	h.api.FailNext(string(action.CreatePost), http.StatusUnprocessableEntity, 1)

	failures, stop := h.coord.Failures(4)
	defer stop()

	r, err := h.writer.CreatePost("caption", nil)
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Failed: 1}, res)
	assert.Equal(t, 1, h.api.Requests(string(action.CreatePost)))

	f := <-failures
	assert.Equal(t, r.Seq, f.Seq)
	assert.Zero(t, f.RetryCount)

	// The optimistic post stays unsynced and is still backed by its action.
	p, err := h.db.GetPost(r.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.IsSynced)
	orphans, err := h.db.UnsyncedPostsWithoutCreate()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestDroppedResponseDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, true, slowRetry)
	h.api.DropResponse(string(action.SendMessage), 1)

	r, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "once"})
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Retried: 1}, res)
	assert.Len(t, h.api.Messages("c1"), 1, "server applied the first attempt")

	h.advance(2 * time.Hour)
	res, err = h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1}, res)

	remote := h.api.Messages("c1")
	require.Len(t, remote, 1, "the retry must not create a second message")
	serverID, err := h.db.ResolveID(store.KindMessage, r.ID)
	require.NoError(t, err)
	assert.Equal(t, remote[0].ID, serverID)
}

func TestUndecodablePayloadFailsClosed(t *testing.T) {
	h := newHarness(t, true, slowRetry)

	seq, err := h.db.Enqueue(action.SendMessage, "chat:c1", action.NewIdempotencyKey(), []byte("{broken"))
	require.NoError(t, err)
	_, err = h.writer.CreatePost("still drains", nil)
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1, Failed: 1}, res)

	a, err := h.db.GetAction(seq)
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, a.Status)
	assert.Contains(t, a.LastError, "decode payload")
}

func TestActionsOnUnconfirmedMessage(t *testing.T) {
	h := newHarness(t, true, slowRetry)

	r, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, h.db.MarkDead(r.Seq, "rejected"))

	edit, err := h.writer.EditMessage("c1", r.ID, "edited")
	require.NoError(t, err)
	del, err := h.writer.DeleteMessage("c1", r.ID)
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1, Failed: 1}, res)

	a, _ := h.db.GetAction(edit.Seq)
	assert.Equal(t, store.ActionFailed, a.Status, "edit of a never-sent message cannot succeed")
	a, _ = h.db.GetAction(del.Seq)
	assert.Equal(t, store.ActionCompleted, a.Status, "delete of a never-sent message has nothing to do")
	assert.Zero(t, h.api.Requests(string(action.DeleteMessage)))
}

func TestDeleteOfMissingRemoteMessageCompletes(t *testing.T) {
	h := newHarness(t, true, slowRetry)
	require.NoError(t, h.db.UpsertMessage(&store.Message{
		ID: "m-404", ChatID: "c1", SenderID: "me", ReceiverID: "bob", Body: "x", Timestamp: 1, IsSent: true,
	}))
	_, err := h.writer.DeleteMessage("c1", "m-404")
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1}, res)
	deleted, err := h.db.IsDeleted(store.KindMessage, "m-404")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestUploadStoryConfirms(t *testing.T) {
	h := newHarness(t, true, slowRetry)

	r, err := h.writer.UploadStory("/tmp/s.jpg", "image", time.Hour)
	require.NoError(t, err)

	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Completed: 1}, res)

	serverID, err := h.db.ResolveID(store.KindStory, r.ID)
	require.NoError(t, err)
	require.NotEqual(t, r.ID, serverID)
	st, err := h.db.GetStory(serverID, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsSynced)
	assert.Len(t, h.api.Stories(), 1)
}

func TestRecoversInFlightAfterRestart(t *testing.T) {
	h := newHarness(t, true, outbox.DefaultPolicy())

	_, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)
	// A previous process claimed the entry and died.
	claimed, err := h.db.ClaimNext(time.Now().UnixMilli())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	h.start(t)
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, waitFor, tick)

	a, err := h.db.GetAction(claimed.Seq)
	require.NoError(t, err)
	assert.Equal(t, store.ActionCompleted, a.Status)
	assert.Zero(t, a.RetryCount)
}

// blockingGateway holds message sends until the request is cancelled.
type blockingGateway struct {
	gateway.Gateway
	started chan struct{}
}

func (g *blockingGateway) SendMessage(ctx context.Context, _ string, _ *action.SendMessagePayload) (gateway.MessageResult, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return gateway.MessageResult{}, ctx.Err()
}

func TestGoingOfflineReleasesInFlight(t *testing.T) {
	h := newHarness(t, true, outbox.DefaultPolicy())
	gw := &blockingGateway{Gateway: h.gw, started: make(chan struct{}, 1)}
	h.coord = h.newCoordinator(gw, outbox.DefaultPolicy())
	h.start(t)

	r, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "hi"})
	require.NoError(t, err)

	select {
	case <-gw.started:
	case <-time.After(waitFor):
		t.Fatal("send never started")
	}
	h.net.SetOnline(false)

	require.Eventually(t, func() bool {
		a, err := h.db.GetAction(r.Seq)
		return err == nil && a.Status == store.ActionPending
	}, waitFor, tick)
	assert.Equal(t, status.Offline, h.machine.Current())

	a, err := h.db.GetAction(r.Seq)
	require.NoError(t, err)
	assert.Zero(t, a.RetryCount, "cancellation must not consume a retry")
	assert.Equal(t, 1, h.pending(t))
}

func TestDrainedEventAndStatusCycle(t *testing.T) {
	h := newHarness(t, false, outbox.DefaultPolicy())
	drained, unsub := h.bus.Subscribe(bus.KindSyncDrained, 4)
	defer unsub()
	statuses, unsubStatus := h.bus.Subscribe(status.EventStatusChanged, 16)
	defer unsubStatus()

	// Written before Start so the only drain is the one going online runs.
	_, err := h.writer.CreatePost("p", nil)
	require.NoError(t, err)
	h.start(t)
	h.net.SetOnline(true)

	select {
	case evt := <-drained:
		assert.Equal(t, DrainResult{Completed: 1}, evt.Payload)
	case <-time.After(waitFor):
		t.Fatal("no sync.drained event")
	}

	var seen []status.State
	require.Eventually(t, func() bool {
		for {
			select {
			case evt := <-statuses:
				seen = append(seen, evt.Payload.(status.StatusChange).To)
			default:
				return len(seen) >= 4
			}
		}
	}, waitFor, tick)
	assert.Equal(t, []status.State{status.Offline, status.Online, status.Syncing, status.Online}, seen)
}

func TestBackoffWakesDrainBeforeTicker(t *testing.T) {
	policy := outbox.Policy{BackoffMin: 50 * time.Millisecond, BackoffMax: 50 * time.Millisecond, MaxRetries: 5}
	h := newHarness(t, false, policy)
	h.api.FailNext(string(action.SendMessage), http.StatusServiceUnavailable, 1)
	h.start(t)

	for _, text := range []string{"one", "two"} {
		_, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: text})
		require.NoError(t, err)
	}
	h.net.SetOnline(true)

	// The drain ticker is an hour away; only the retry timer can finish this.
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, 2*time.Second, tick)
	var texts []string
	for _, m := range h.api.Messages("c1") {
		texts = append(texts, m.Text)
	}
	assert.ElementsMatch(t, []string{"one", "two"}, texts)
	assert.Equal(t, 3, h.api.Requests(string(action.SendMessage)))
}

func TestOfflineDeleteSurvivesRefreshWhileDeleteRetries(t *testing.T) {
	h := newHarness(t, false, slowRetry)
	drained, unsub := h.bus.Subscribe(bus.KindSyncDrained, 4)
	defer unsub()
	h.start(t)

	_, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "keep"})
	require.NoError(t, err)
	oops, err := h.writer.SendMessage(outbox.MessageDraft{ChatID: "c1", ReceiverID: "bob", Text: "oops"})
	require.NoError(t, err)
	_, err = h.writer.DeleteMessage("c1", oops.ID)
	require.NoError(t, err)
	h.api.FailNext(string(action.DeleteMessage), http.StatusServiceUnavailable, 1)
	h.net.SetOnline(true)

	select {
	case <-drained:
	case <-time.After(waitFor):
		t.Fatal("no sync.drained event")
	}
	require.Equal(t, 1, h.pending(t), "the delete is still backing off")
	assert.Len(t, h.api.Messages("c1"), 2, "the server still holds both messages")

	// The refresh after the drain fetched the server copy of "oops".
	msgs, err := h.db.MessagesByChat("c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep", msgs[0].Body)
}

func TestFailuresReachSlowWatcher(t *testing.T) {
	h := newHarness(t, true, slowRetry)
	const n = 6
	h.api.FailNext(string(action.CreatePost), http.StatusUnprocessableEntity, n)

	// A one-slot bus subscriber would lose most of these.
	failures, stop := h.coord.Failures(1)
	defer stop()

	var want []int64
	for i := 0; i < n; i++ {
		r, err := h.writer.CreatePost("caption", nil)
		require.NoError(t, err)
		want = append(want, r.Seq)
	}
	res, err := h.coord.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, DrainResult{Failed: n}, res)

	var got []int64
	for len(got) < n {
		select {
		case f := <-failures:
			got = append(got, f.Seq)
		case <-time.After(waitFor):
			t.Fatalf("received %d of %d failures", len(got), n)
		}
	}
	assert.ElementsMatch(t, want, got)

	stop()
	_, open := <-failures
	assert.False(t, open, "channel should close after stop")
}

func TestSyncNowTriggersDrain(t *testing.T) {
	h := newHarness(t, true, outbox.DefaultPolicy())
	h.start(t)
	require.Eventually(t, func() bool { return h.machine.Current() == status.Online }, waitFor, tick)

	// Written behind the coordinator's back: no enqueue event.
	payload, err := action.Encode(&action.CreatePostPayload{PostID: "local-post-x", AuthorID: "me", Caption: "c", Timestamp: 1})
	require.NoError(t, err)
	_, err = h.db.Enqueue(action.CreatePost, action.PostStream("local-post-x"), action.NewIdempotencyKey(), payload)
	require.NoError(t, err)

	h.coord.SyncNow()
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, waitFor, tick)
	assert.Len(t, h.api.Posts(), 1)
}
