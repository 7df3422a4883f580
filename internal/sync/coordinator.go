// Package sync replays the outbox against the remote API and merges remote
// state back into the local cache.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/feedsync/internal/action"
	"github.com/matheus3301/feedsync/internal/bus"
	"github.com/matheus3301/feedsync/internal/config"
	"github.com/matheus3301/feedsync/internal/connectivity"
	"github.com/matheus3301/feedsync/internal/gateway"
	"github.com/matheus3301/feedsync/internal/logging"
	"github.com/matheus3301/feedsync/internal/outbox"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/matheus3301/feedsync/internal/status"
	"github.com/matheus3301/feedsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errUnconfirmed is returned when an action targets an entity the server
// never acknowledged, e.g. an edit of a message whose send failed.
var errUnconfirmed = errors.New("target was never confirmed by the server")

// Options tunes the coordinator.
type Options struct {
	Workers       int
	DrainInterval time.Duration
	Policy        outbox.Policy
}

// OptionsFrom builds coordinator options from parsed sync settings.
func OptionsFrom(s config.Settings) Options {
	return Options{Workers: s.Workers, DrainInterval: s.DrainInterval, Policy: outbox.PolicyFrom(s)}
}

// Failure is the payload of action.failed events: an action that will not
// be retried automatically.
type Failure struct {
	Seq        int64
	Type       action.Type
	StreamKey  string
	RetryCount int
	Error      string
}

// Completed is the payload of action.completed events.
type Completed struct {
	Seq       int64
	Type      action.Type
	StreamKey string
}

// DrainResult counts the outcomes of one drain. It is the payload of
// sync.drained events.
type DrainResult struct {
	Completed int
	Retried   int
	Failed    int
	Released  int
}

func (r *DrainResult) add(o DrainResult) {
	r.Completed += o.Completed
	r.Retried += o.Retried
	r.Failed += o.Failed
	r.Released += o.Released
}

type drainOutcome struct {
	res DrainResult
	err error
}

// Coordinator drains the outbox whenever the device is online. A single
// loop goroutine owns the status machine and the running drain; the drain
// itself fans out over worker goroutines that claim entries one at a time.
type Coordinator struct {
	sess    session.Context
	db      *store.DB
	gw      gateway.Gateway
	mon     connectivity.Monitor
	rec     *Reconciler
	machine *status.Machine
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	failures failureFeed
	trigger  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCoordinator creates a coordinator. rec may be nil to skip the
// post-drain refresh.
func NewCoordinator(sess session.Context, db *store.DB, gw gateway.Gateway, mon connectivity.Monitor,
	rec *Reconciler, machine *status.Machine, b *bus.Bus, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = config.DefaultDrainInterval
	}
	if opts.Policy == (outbox.Policy{}) {
		opts.Policy = outbox.DefaultPolicy()
	}
	return &Coordinator{
		sess:    sess,
		db:      db,
		gw:      gw,
		mon:     mon,
		rec:     rec,
		machine: machine,
		bus:     b,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Start resets entries a previous process left in flight and starts the
// loop. The first drain runs as soon as the monitor reports online.
func (c *Coordinator) Start(ctx context.Context) error {
	n, err := c.db.RecoverInFlight()
	if err != nil {
		return fmt.Errorf("recover in-flight actions: %w", err)
	}
	if n > 0 {
		c.logger.Info("recovered in-flight actions", zap.Int64("count", n))
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	netCh, unsubNet := c.mon.Subscribe(4)
	enqCh, unsubEnq := c.bus.Subscribe(bus.KindOutboxEnqueued, 64)

	go func() {
		defer close(c.done)
		defer unsubNet()
		defer unsubEnq()
		c.run(ctx, netCh, enqCh)
	}()
	return nil
}

// Stop cancels the running drain and waits for the loop to exit.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// SyncNow requests a drain. It never blocks; requests made while a drain
// is running coalesce into one follow-up drain.
func (c *Coordinator) SyncNow() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// PendingCount returns how many actions still wait for the server.
func (c *Coordinator) PendingCount() (int, error) {
	return c.db.PendingCount()
}

// Failures streams permanently failed actions reported after the call.
// Unlike the action.failed bus event, no failure is dropped while the
// reader lags. Call the returned func to unsubscribe; the channel is closed
// afterwards. Earlier failures stay in the outbox with status failed.
func (c *Coordinator) Failures(buf int) (<-chan Failure, func()) {
	return c.failures.subscribe(buf)
}

func (c *Coordinator) run(ctx context.Context, netCh <-chan bool, enqCh <-chan bus.Event) {
	ticker := time.NewTicker(c.opts.DrainInterval)
	defer ticker.Stop()

	var (
		online      bool
		drainCancel context.CancelFunc
		drainDone   chan drainOutcome
		again       bool
		retryC      <-chan time.Time
	)

	start := func() {
		if c.machine.Current() == status.Error {
			c.setState(status.Online)
		}
		c.setState(status.Syncing)
		dctx, cancel := context.WithCancel(ctx)
		done := make(chan drainOutcome, 1)
		drainCancel, drainDone = cancel, done
		go func() {
			res, err := c.cycle(dctx)
			done <- drainOutcome{res: res, err: err}
		}()
	}
	request := func() {
		if !online {
			return
		}
		if drainDone != nil {
			again = true
			return
		}
		start()
	}

	for {
		select {
		case <-ctx.Done():
			if drainCancel != nil {
				drainCancel()
				<-drainDone
			}
			return

		case on := <-netCh:
			if on == online && c.machine.Current() != status.Booting {
				continue
			}
			online = on
			if on {
				c.logger.Info("online, draining outbox")
				c.setState(status.Online)
				request()
				continue
			}
			c.logger.Info("offline, pausing sync")
			if drainCancel != nil {
				drainCancel()
			}
			again = false
			retryC = nil
			c.setState(status.Offline)

		case <-enqCh:
			request()
		case <-c.trigger:
			request()
		case <-ticker.C:
			request()
		case <-retryC:
			retryC = nil
			request()

		case out := <-drainDone:
			drainCancel()
			drainCancel, drainDone = nil, nil
			if !online {
				continue
			}
			if out.err != nil && !errors.Is(out.err, context.Canceled) {
				c.logger.Error("drain aborted", zap.Error(out.err))
				c.setState(status.Error)
			} else {
				c.setState(status.Online)
			}
			if again {
				again = false
				start()
				continue
			}
			retryC = c.retryTimer()
		}
	}
}

// cycle drains the outbox, then refreshes the cache from the server.
func (c *Coordinator) cycle(ctx context.Context) (DrainResult, error) {
	res, err := c.DrainOnce(ctx)
	if err != nil || ctx.Err() != nil {
		return res, err
	}
	if c.rec != nil {
		if err := c.rec.RefreshAll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("refresh after drain failed", zap.Error(err))
		}
	}
	c.logger.Info("outbox drained",
		zap.Int("completed", res.Completed),
		zap.Int("retried", res.Retried),
		zap.Int("failed", res.Failed),
	)
	c.bus.Publish(bus.NewEvent(bus.KindSyncDrained, res))
	return res, nil
}

// retryTimer fires when the earliest backed-off stream head becomes
// eligible, at once if that moment already passed during the drain.
func (c *Coordinator) retryTimer() <-chan time.Time {
	at, ok, err := c.db.NextAttemptAt()
	if err != nil {
		c.logger.Warn("read next attempt time", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	d := time.UnixMilli(at).Sub(c.now())
	if d < 0 {
		d = 0
	}
	return time.After(d)
}

func (c *Coordinator) setState(s status.State) {
	if err := c.machine.Transition(s); err != nil {
		c.logger.Warn("status transition rejected", zap.Error(err))
	}
}

// DrainOnce claims and replays eligible entries until none is left or ctx
// is cancelled. Per-entry failures are recorded on the entry; the returned
// error reports only a failure to read the outbox itself.
func (c *Coordinator) DrainOnce(ctx context.Context) (DrainResult, error) {
	results := make([]DrainResult, c.opts.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			for gctx.Err() == nil {
				a, err := c.db.ClaimNext(c.now().UnixMilli())
				if err != nil {
					return fmt.Errorf("claim next action: %w", err)
				}
				if a == nil {
					return nil
				}
				results[i].add(c.process(gctx, a))
			}
			return nil
		})
	}
	err := g.Wait()

	var total DrainResult
	for _, r := range results {
		total.add(r)
	}
	return total, err
}

// process replays one claimed entry and records its outcome.
func (c *Coordinator) process(ctx context.Context, a *store.Action) DrainResult {
	log := c.logger.With(logging.Action(a.Seq, string(a.Type))...)

	p, err := action.Decode(a.Type, a.Payload)
	if err != nil {
		return c.fail(a, fmt.Errorf("decode payload: %w", err), log)
	}

	err = c.replay(ctx, a, p)
	switch {
	case err == nil:
		log.Debug("action completed")
		c.bus.Publish(bus.NewEvent(bus.KindActionDone, Completed{Seq: a.Seq, Type: a.Type, StreamKey: a.StreamKey}))
		return DrainResult{Completed: 1}

	case ctx.Err() != nil:
		if rerr := c.db.Release(a.Seq); rerr != nil {
			log.Error("release interrupted action", zap.Error(rerr))
		}
		log.Info("action interrupted, released", zap.Error(err))
		return DrainResult{Released: 1}

	case gateway.IsRetryable(err) && !c.opts.Policy.Exhausted(a.RetryCount+1):
		retries := a.RetryCount + 1
		next := c.now().Add(c.opts.Policy.Backoff(retries))
		if merr := c.db.MarkFailed(a.Seq, err.Error(), next.UnixMilli()); merr != nil {
			log.Error("record retryable failure", zap.Error(merr))
		}
		log.Warn("action failed, will retry",
			zap.Int("retries", retries),
			zap.Time("next_attempt", next),
			zap.Error(err),
		)
		return DrainResult{Retried: 1}
	}
	return c.fail(a, err, log)
}

func (c *Coordinator) fail(a *store.Action, cause error, log *zap.Logger) DrainResult {
	if err := c.db.MarkDead(a.Seq, cause.Error()); err != nil {
		log.Error("record permanent failure", zap.Error(err))
	}
	log.Warn("action permanently failed", zap.Int("retries", a.RetryCount), zap.Error(cause))
	f := Failure{
		Seq:        a.Seq,
		Type:       a.Type,
		StreamKey:  a.StreamKey,
		RetryCount: a.RetryCount,
		Error:      cause.Error(),
	}
	c.failures.publish(f)
	c.bus.Publish(bus.NewEvent(bus.KindActionFailed, f))
	return DrainResult{Failed: 1}
}

// replay sends the action to the server and applies the answer locally in
// the same transaction that completes the entry.
func (c *Coordinator) replay(ctx context.Context, a *store.Action, p action.Payload) error {
	key := a.IdempotencyKey
	owner := c.sess.OwnerUserID

	switch p := p.(type) {
	case *action.SendMessagePayload:
		res, err := c.gw.SendMessage(ctx, key, p)
		if err != nil {
			return err
		}
		err = c.complete(a, func(tx *store.Tx) error {
			if err := tx.ConfirmMessage(p.ClientID, res.ServerID, res.Timestamp); err != nil {
				return err
			}
			return tx.RebuildChats(owner, p.ChatID)
		})
		c.changed(err, store.KindMessage, res.ServerID, p.ChatID)
		return err

	case *action.EditMessagePayload:
		id, err := c.resolve(store.KindMessage, p.MessageID)
		if err != nil {
			return err
		}
		q := *p
		q.MessageID = id
		if _, err := c.gw.EditMessage(ctx, key, &q); err != nil {
			return err
		}
		return c.complete(a, nil)

	case *action.DeleteMessagePayload:
		id, err := c.resolve(store.KindMessage, p.MessageID)
		if errors.Is(err, errUnconfirmed) {
			// Never reached the server, so there is nothing to delete there.
			return c.complete(a, nil)
		}
		if err != nil {
			return err
		}
		q := *p
		q.MessageID = id
		if err := c.gw.DeleteMessage(ctx, key, &q); err != nil && !gateway.IsNotFound(err) {
			return err
		}
		err = c.complete(a, func(tx *store.Tx) error {
			if err := tx.DeleteMessage(id, p.DeletedAt); err != nil {
				return err
			}
			return tx.RebuildChats(owner, p.ChatID)
		})
		c.changed(err, store.KindMessage, id, p.ChatID)
		return err

	case *action.CreatePostPayload:
		res, err := c.gw.CreatePost(ctx, key, p)
		if err != nil {
			return err
		}
		err = c.complete(a, func(tx *store.Tx) error {
			return tx.ConfirmPost(p.PostID, res.ServerID, res.UpdatedAt)
		})
		c.changed(err, store.KindPost, res.ServerID, "")
		return err

	case *action.ToggleLikePayload:
		id, err := c.resolve(store.KindPost, p.PostID)
		if err != nil {
			return err
		}
		q := *p
		q.PostID = id
		res, err := c.gw.ToggleLike(ctx, key, &q)
		if err != nil {
			return err
		}
		err = c.complete(a, c.applyCounters(id, res))
		c.changed(err, store.KindPost, id, "")
		return err

	case *action.AddCommentPayload:
		id, err := c.resolve(store.KindPost, p.PostID)
		if err != nil {
			return err
		}
		q := *p
		q.PostID = id
		res, err := c.gw.AddComment(ctx, key, &q)
		if err != nil {
			return err
		}
		err = c.complete(a, c.applyCounters(id, res))
		c.changed(err, store.KindPost, id, "")
		return err

	case *action.UploadStoryPayload:
		res, err := c.gw.UploadStory(ctx, key, p)
		if err != nil {
			return err
		}
		err = c.complete(a, func(tx *store.Tx) error {
			return tx.ConfirmStory(p.StoryID, res.ServerID, res.ExpiresAt)
		})
		c.changed(err, store.KindStory, res.ServerID, "")
		return err
	}
	return fmt.Errorf("%w: %s", action.ErrUnknownType, a.Type)
}

// applyCounters stores server counters unless a newer local toggle is
// still pending, in which case that toggle's replay will bring them.
func (c *Coordinator) applyCounters(id string, res gateway.PostResult) func(tx *store.Tx) error {
	return func(tx *store.Tx) error {
		err := tx.ApplyPostCounters(id, res.LikeCount, res.CommentCount, res.Liked, res.UpdatedAt)
		if errors.Is(err, store.ErrStale) {
			return nil
		}
		return err
	}
}

// resolve maps a client id to the id the server assigned.
func (c *Coordinator) resolve(kind, id string) (string, error) {
	resolved, err := c.db.ResolveID(kind, id)
	if err != nil {
		return "", fmt.Errorf("resolve %s id: %w", kind, err)
	}
	if action.IsClientID(resolved) {
		return "", fmt.Errorf("%s %s: %w", kind, id, errUnconfirmed)
	}
	return resolved, nil
}

func (c *Coordinator) complete(a *store.Action, apply func(tx *store.Tx) error) error {
	err := c.db.InTx(func(tx *store.Tx) error {
		if apply != nil {
			if err := apply(tx); err != nil {
				return err
			}
		}
		return tx.MarkCompleted(a.Seq)
	})
	if err != nil {
		return fmt.Errorf("apply %s result: %w", a.Type, err)
	}
	return nil
}

func (c *Coordinator) changed(err error, kind, id, chatID string) {
	if err != nil {
		return
	}
	c.bus.Publish(bus.NewEvent(bus.KindCacheChanged, outbox.CacheChange{Kind: kind, ID: id, ChatID: chatID}))
}
