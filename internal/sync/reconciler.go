package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/feedsync/internal/bus"
	"github.com/matheus3301/feedsync/internal/gateway"
	"github.com/matheus3301/feedsync/internal/outbox"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/matheus3301/feedsync/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys in sync_state.
const (
	checkpointFeed    = "feed"
	checkpointStories = "stories"
)

// DefaultFeedLimit is how many posts a feed refresh asks for.
const DefaultFeedLimit = 50

func messagesCheckpoint(chatID string) string {
	return "messages:" + chatID
}

// MergeStats counts what a refresh did with the rows it fetched.
type MergeStats struct {
	Applied int
	Stale   int // skipped: the local copy is newer or tombstoned
	Deleted int
}

func (m *MergeStats) add(o MergeStats) {
	m.Applied += o.Applied
	m.Stale += o.Stale
	m.Deleted += o.Deleted
}

// Reconciler merges fetched server state into the cache under the same
// last-write-wins rule local writes use, so a fetch never clobbers a newer
// optimistic write that has not synced yet.
type Reconciler struct {
	sess      session.Context
	db        *store.DB
	gw        gateway.Gateway
	bus       *bus.Bus
	logger    *zap.Logger
	feedLimit int
	now       func() time.Time
}

// NewReconciler creates a new reconciler.
func NewReconciler(sess session.Context, db *store.DB, gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		sess:      sess,
		db:        db,
		gw:        gw,
		bus:       b,
		logger:    logger,
		feedLimit: DefaultFeedLimit,
		now:       time.Now,
	}
}

// RefreshAll refreshes every chat the server or the cache knows, the feed
// and the stories. It keeps going after a failed refresh and returns the
// joined errors.
func (r *Reconciler) RefreshAll(ctx context.Context) error {
	var errs []error
	chatIDs, err := r.chatIDs(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, id := range chatIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.RefreshChat(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := r.RefreshFeed(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.RefreshStories(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// chatIDs returns the union of remote and cached chat ids, remote first. A
// failed remote listing still yields the cached chats.
func (r *Reconciler) chatIDs(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	addID := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var errs []error
	remote, err := r.gw.FetchChats(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch chats: %w", err))
	}
	for _, c := range remote {
		addID(c.ChatID)
	}
	local, err := r.db.ListChats(r.sess.OwnerUserID, 0)
	if err != nil {
		errs = append(errs, fmt.Errorf("list chats: %w", err))
	}
	for _, c := range local {
		addID(c.ChatID)
	}
	return ids, errors.Join(errs...)
}

// RefreshChat fetches messages of a chat changed since the last checkpoint
// and merges them.
func (r *Reconciler) RefreshChat(ctx context.Context, chatID string) (MergeStats, error) {
	var stats MergeStats
	key := messagesCheckpoint(chatID)
	since, err := r.cursor(key)
	if err != nil {
		return stats, err
	}

	msgs, err := r.gw.FetchMessages(ctx, chatID, since)
	if err != nil {
		return stats, fmt.Errorf("fetch messages of %s: %w", chatID, err)
	}
	if len(msgs) == 0 {
		return stats, nil
	}

	owner := r.sess.OwnerUserID
	counterparts := map[string]bool{}
	err = r.db.InTx(func(tx *store.Tx) error {
		latest := since
		for _, m := range msgs {
			latest = max(latest, m.UpdatedAt)
			if m.Deleted {
				if err := tx.DeleteMessage(m.ID, m.UpdatedAt); err != nil {
					return fmt.Errorf("delete message %s: %w", m.ID, err)
				}
				stats.Deleted++
				continue
			}
			s, err := merge(tx.UpsertMessage(&store.Message{
				ID:         m.ID,
				ClientID:   m.ClientID,
				ChatID:     m.ChatID,
				SenderID:   m.SenderID,
				ReceiverID: m.ReceiverID,
				Body:       m.Text,
				Kind:       m.Kind,
				ImageRef:   m.ImageRef,
				Timestamp:  m.Timestamp,
				IsRead:     m.SenderID == owner,
				IsSent:     true,
				UpdatedAt:  m.UpdatedAt,
			}))
			if err != nil {
				return fmt.Errorf("merge message %s: %w", m.ID, err)
			}
			stats.add(s)
			if m.SenderID != owner {
				counterparts[m.SenderID] = true
			} else if m.ReceiverID != "" {
				counterparts[m.ReceiverID] = true
			}
		}
		return tx.SetCheckpoint(key, strconv.FormatInt(latest, 10))
	})
	if err != nil {
		return stats, err
	}

	r.refreshProfiles(ctx, counterparts)
	if err := r.db.RebuildChats(owner, chatID); err != nil {
		return stats, fmt.Errorf("rebuild chat %s: %w", chatID, err)
	}

	r.logger.Debug("chat refreshed",
		zap.String("chat_id", chatID),
		zap.Int("applied", stats.Applied),
		zap.Int("stale", stats.Stale),
		zap.Int("deleted", stats.Deleted),
	)
	r.publish(store.KindMessage, chatID)
	return stats, nil
}

// RefreshFeed fetches the newest posts and merges them.
func (r *Reconciler) RefreshFeed(ctx context.Context) (MergeStats, error) {
	var stats MergeStats
	posts, err := r.gw.FetchFeed(ctx, r.feedLimit)
	if err != nil {
		return stats, fmt.Errorf("fetch feed: %w", err)
	}

	err = r.db.InTx(func(tx *store.Tx) error {
		for _, p := range posts {
			s, err := merge(tx.UpsertPost(&store.Post{
				ID:             p.ID,
				ClientID:       p.ClientID,
				AuthorID:       p.AuthorID,
				AuthorUsername: p.AuthorUsername,
				AuthorAvatar:   p.AuthorAvatar,
				Caption:        p.Caption,
				ImageRefs:      p.ImageRefs,
				Timestamp:      p.Timestamp,
				LikeCount:      p.LikeCount,
				CommentCount:   p.CommentCount,
				LikedByMe:      p.Liked,
				IsSynced:       true,
				UpdatedAt:      p.UpdatedAt,
			}))
			if err != nil {
				return fmt.Errorf("merge post %s: %w", p.ID, err)
			}
			stats.add(s)
		}
		return tx.SetCheckpoint(checkpointFeed, strconv.FormatInt(r.now().UnixMilli(), 10))
	})
	if err != nil {
		return stats, err
	}
	r.logger.Debug("feed refreshed", zap.Int("applied", stats.Applied), zap.Int("stale", stats.Stale))
	r.publish(store.KindPost, "")
	return stats, nil
}

// RefreshStories fetches active stories and merges them.
func (r *Reconciler) RefreshStories(ctx context.Context) (MergeStats, error) {
	var stats MergeStats
	stories, err := r.gw.FetchStories(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch stories: %w", err)
	}

	err = r.db.InTx(func(tx *store.Tx) error {
		for _, st := range stories {
			s, err := merge(tx.UpsertStory(&store.Story{
				ID:        st.ID,
				ClientID:  st.ClientID,
				AuthorID:  st.AuthorID,
				MediaRef:  st.MediaRef,
				MediaKind: st.MediaKind,
				Timestamp: st.Timestamp,
				ExpiresAt: st.ExpiresAt,
				IsSynced:  true,
				UpdatedAt: st.UpdatedAt,
			}))
			if err != nil {
				return fmt.Errorf("merge story %s: %w", st.ID, err)
			}
			stats.add(s)
		}
		return tx.SetCheckpoint(checkpointStories, strconv.FormatInt(r.now().UnixMilli(), 10))
	})
	if err != nil {
		return stats, err
	}
	r.publish(store.KindStory, "")
	return stats, nil
}

// refreshProfiles caches counterpart profiles used by the chat list. A
// failure only leaves chat rows without a username.
func (r *Reconciler) refreshProfiles(ctx context.Context, ids map[string]bool) {
	if len(ids) == 0 {
		return
	}
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	remote, err := r.gw.FetchProfiles(ctx, list)
	if err != nil {
		r.logger.Warn("fetch profiles", zap.Error(err))
		return
	}
	profiles := make([]store.Profile, 0, len(remote))
	for _, p := range remote {
		profiles = append(profiles, store.Profile{
			UserID:    p.UserID,
			Username:  p.Username,
			AvatarRef: p.AvatarRef,
			UpdatedAt: p.UpdatedAt,
		})
	}
	if err := r.db.BulkUpsertProfiles(profiles); err != nil {
		r.logger.Warn("store profiles", zap.Error(err))
	}
}

func (r *Reconciler) cursor(key string) (int64, error) {
	v, err := r.db.Checkpoint(key)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %s: %w", key, err)
	}
	return n, nil
}

func (r *Reconciler) publish(kind, chatID string) {
	if r.bus != nil {
		r.bus.Publish(bus.NewEvent(bus.KindCacheChanged, outbox.CacheChange{Kind: kind, ChatID: chatID}))
	}
}

// merge turns a last-write-wins rejection into a skipped row.
func merge(err error) (MergeStats, error) {
	if errors.Is(err, store.ErrStale) {
		return MergeStats{Stale: 1}, nil
	}
	if err != nil {
		return MergeStats{}, err
	}
	return MergeStats{Applied: 1}, nil
}
