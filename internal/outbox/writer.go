package outbox

import (
	"fmt"
	"time"

	"github.com/matheus3301/feedsync/internal/action"
	"github.com/matheus3301/feedsync/internal/bus"
	"github.com/matheus3301/feedsync/internal/logging"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/matheus3301/feedsync/internal/store"
	"go.uber.org/zap"
)

// DefaultStoryTTL is how long an uploaded story stays visible.
const DefaultStoryTTL = 24 * time.Hour

// Receipt identifies what a write produced: the id of the optimistic entity
// (a client id for creates) and the outbox sequence id of its action.
type Receipt struct {
	ID  string
	Seq int64
}

// Enqueued is the payload of outbox.enqueued events.
type Enqueued struct {
	Seq       int64
	Type      action.Type
	StreamKey string
}

// CacheChange is the payload of cache.changed events.
type CacheChange struct {
	Kind   string
	ID     string
	ChatID string
}

// MessageDraft is the user input for SendMessage.
type MessageDraft struct {
	ChatID     string
	ReceiverID string
	Text       string
	Kind       string
	ImageRefs  []string
}

// Writer is the only entry point for user mutations. Each call applies the
// optimistic change and enqueues the matching action in one transaction.
type Writer struct {
	sess   session.Context
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter creates a writer bound to one session.
func NewWriter(sess session.Context, db *store.DB, b *bus.Bus, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{sess: sess, db: db, bus: b, logger: logger, now: time.Now}
}

// SendMessage stores a local message (isSent=false) and queues its delivery.
func (w *Writer) SendMessage(d MessageDraft) (Receipt, error) {
	if d.Kind == "" {
		d.Kind = action.KindText
		if d.Text == "" && len(d.ImageRefs) > 0 {
			d.Kind = action.KindImage
		}
	}
	clientID := action.NewClientID("msg")
	ts := w.now().UnixMilli()
	p := &action.SendMessagePayload{
		ClientID:   clientID,
		ChatID:     d.ChatID,
		SenderID:   w.sess.OwnerUserID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Kind:       d.Kind,
		ImageRefs:  d.ImageRefs,
		Timestamp:  ts,
	}
	var imageRef string
	if len(d.ImageRefs) > 0 {
		imageRef = d.ImageRefs[0]
	}
	seq, err := w.commit(p, func(tx *store.Tx) error {
		if err := tx.UpsertMessage(&store.Message{
			ID:         clientID,
			ClientID:   clientID,
			ChatID:     d.ChatID,
			SenderID:   w.sess.OwnerUserID,
			ReceiverID: d.ReceiverID,
			Body:       d.Text,
			Kind:       d.Kind,
			ImageRef:   imageRef,
			Timestamp:  ts,
			IsRead:     true,
		}); err != nil {
			return err
		}
		return tx.RebuildChats(w.sess.OwnerUserID, d.ChatID)
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindMessage, clientID, d.ChatID)
	return Receipt{ID: clientID, Seq: seq}, nil
}

// EditMessage rewrites a message body locally and queues the edit.
func (w *Writer) EditMessage(chatID, messageID, text string) (Receipt, error) {
	at := w.now().UnixMilli()
	p := &action.EditMessagePayload{MessageID: messageID, ChatID: chatID, Text: text, EditedAt: at}
	var localID string
	seq, err := w.commit(p, func(tx *store.Tx) error {
		id, err := w.existingMessage(tx, messageID)
		if err != nil {
			return err
		}
		localID = id
		if err := tx.EditMessageBody(id, text, at); err != nil {
			return err
		}
		return tx.RebuildChats(w.sess.OwnerUserID, chatID)
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindMessage, localID, chatID)
	return Receipt{ID: localID, Seq: seq}, nil
}

// DeleteMessage removes a message locally (leaving a tombstone) and queues
// the delete.
func (w *Writer) DeleteMessage(chatID, messageID string) (Receipt, error) {
	at := w.now().UnixMilli()
	p := &action.DeleteMessagePayload{MessageID: messageID, ChatID: chatID, DeletedAt: at}
	var localID string
	seq, err := w.commit(p, func(tx *store.Tx) error {
		id, err := w.existingMessage(tx, messageID)
		if err != nil {
			return err
		}
		localID = id
		if err := tx.DeleteMessage(id, at); err != nil {
			return err
		}
		return tx.RebuildChats(w.sess.OwnerUserID, chatID)
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindMessage, localID, chatID)
	return Receipt{ID: localID, Seq: seq}, nil
}

// CreatePost stores an unsynced post and queues its creation.
func (w *Writer) CreatePost(caption string, imageRefs []string) (Receipt, error) {
	postID := action.NewClientID("post")
	ts := w.now().UnixMilli()
	p := &action.CreatePostPayload{
		PostID:    postID,
		AuthorID:  w.sess.OwnerUserID,
		Caption:   caption,
		ImageRefs: imageRefs,
		Timestamp: ts,
	}
	seq, err := w.commit(p, func(tx *store.Tx) error {
		return tx.UpsertPost(&store.Post{
			ID:        postID,
			ClientID:  postID,
			AuthorID:  w.sess.OwnerUserID,
			Caption:   caption,
			ImageRefs: imageRefs,
			Timestamp: ts,
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindPost, postID, "")
	return Receipt{ID: postID, Seq: seq}, nil
}

// ToggleLike sets the desired like state of a post locally and queues it.
// postID may be the client id of a post that is still being created.
func (w *Writer) ToggleLike(postID string, liked bool) (Receipt, error) {
	at := w.now().UnixMilli()
	p := &action.ToggleLikePayload{PostID: postID, Liked: liked, At: at}
	var localID string
	seq, err := w.commit(p, func(tx *store.Tx) error {
		id, err := w.existingPost(tx, postID)
		if err != nil {
			return err
		}
		localID = id
		return tx.SetLiked(id, liked, at)
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindPost, localID, "")
	return Receipt{ID: localID, Seq: seq}, nil
}

// AddComment bumps the comment counter locally and queues the comment.
func (w *Writer) AddComment(postID, text string) (Receipt, error) {
	at := w.now().UnixMilli()
	commentID := action.NewClientID("comment")
	p := &action.AddCommentPayload{PostID: postID, CommentID: commentID, Text: text, At: at}
	var localID string
	seq, err := w.commit(p, func(tx *store.Tx) error {
		id, err := w.existingPost(tx, postID)
		if err != nil {
			return err
		}
		localID = id
		return tx.IncrementComments(id, at)
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindPost, localID, "")
	return Receipt{ID: commentID, Seq: seq}, nil
}

// UploadStory stores an unsynced story and queues the upload. A ttl of zero
// uses DefaultStoryTTL.
func (w *Writer) UploadStory(mediaRef, mediaKind string, ttl time.Duration) (Receipt, error) {
	if ttl <= 0 {
		ttl = DefaultStoryTTL
	}
	if mediaKind == "" {
		mediaKind = "image"
	}
	storyID := action.NewClientID("story")
	now := w.now()
	p := &action.UploadStoryPayload{
		StoryID:   storyID,
		AuthorID:  w.sess.OwnerUserID,
		MediaRef:  mediaRef,
		MediaKind: mediaKind,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	seq, err := w.commit(p, func(tx *store.Tx) error {
		return tx.UpsertStory(&store.Story{
			ID:        storyID,
			ClientID:  storyID,
			AuthorID:  w.sess.OwnerUserID,
			MediaRef:  mediaRef,
			MediaKind: mediaKind,
			Timestamp: p.Timestamp,
			ExpiresAt: p.ExpiresAt,
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	w.changed(store.KindStory, storyID, "")
	return Receipt{ID: storyID, Seq: seq}, nil
}

// Retry gives a permanently failed action a fresh set of retries and wakes
// the coordinator.
func (w *Writer) Retry(seq int64) error {
	a, err := w.db.GetAction(seq)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("outbox seq %d: %w", seq, store.ErrNotFound)
	}
	if err := w.db.Requeue(seq); err != nil {
		return err
	}
	w.logger.Info("action requeued", logging.Action(seq, string(a.Type))...)
	w.publish(bus.KindOutboxEnqueued, Enqueued{Seq: seq, Type: a.Type, StreamKey: a.StreamKey})
	return nil
}

// Discard drops a permanently failed action together with the optimistic
// entity it created. Edits, deletes, likes and comments have nothing local
// to undo beyond what the next refresh restores.
func (w *Writer) Discard(seq int64) error {
	a, err := w.db.GetAction(seq)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("outbox seq %d: %w", seq, store.ErrNotFound)
	}
	p, decodeErr := action.Decode(a.Type, a.Payload)
	at := w.now().UnixMilli()

	var change *CacheChange
	err = w.db.InTx(func(tx *store.Tx) error {
		if err := tx.DeleteAction(seq); err != nil {
			return err
		}
		if decodeErr != nil {
			return nil
		}
		switch p := p.(type) {
		case *action.SendMessagePayload:
			m, err := tx.GetMessage(p.ClientID)
			if err != nil || m == nil || m.IsSent {
				return err
			}
			if err := tx.DeleteMessage(p.ClientID, at); err != nil {
				return err
			}
			change = &CacheChange{Kind: store.KindMessage, ID: p.ClientID, ChatID: p.ChatID}
			return tx.RebuildChats(w.sess.OwnerUserID, p.ChatID)
		case *action.CreatePostPayload:
			change = &CacheChange{Kind: store.KindPost, ID: p.PostID}
			return tx.DeletePost(p.PostID, at)
		case *action.UploadStoryPayload:
			change = &CacheChange{Kind: store.KindStory, ID: p.StoryID}
			return tx.DeleteStory(p.StoryID, at)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.logger.Info("action discarded", logging.Action(seq, string(a.Type))...)
	if change != nil {
		w.publish(bus.KindCacheChanged, *change)
	}
	return nil
}

// commit encodes p, runs apply and the enqueue in one transaction, then
// wakes the coordinator.
func (w *Writer) commit(p action.Payload, apply func(tx *store.Tx) error) (int64, error) {
	data, err := action.Encode(p)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = w.db.InTx(func(tx *store.Tx) error {
		if err := apply(tx); err != nil {
			return err
		}
		seq, err = tx.Enqueue(p.ActionType(), p.StreamKey(), action.NewIdempotencyKey(), data)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p.ActionType(), err)
	}
	w.logger.Debug("action enqueued", append(logging.Action(seq, string(p.ActionType())),
		zap.String("stream", p.StreamKey()))...)
	w.publish(bus.KindOutboxEnqueued, Enqueued{Seq: seq, Type: p.ActionType(), StreamKey: p.StreamKey()})
	return seq, nil
}

func (w *Writer) existingMessage(tx *store.Tx, id string) (string, error) {
	resolved, err := tx.ResolveID(store.KindMessage, id)
	if err != nil {
		return "", err
	}
	m, err := tx.GetMessage(resolved)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("message %q: %w", id, store.ErrNotFound)
	}
	return resolved, nil
}

func (w *Writer) existingPost(tx *store.Tx, id string) (string, error) {
	resolved, err := tx.ResolveID(store.KindPost, id)
	if err != nil {
		return "", err
	}
	p, err := tx.GetPost(resolved)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", fmt.Errorf("post %q: %w", id, store.ErrNotFound)
	}
	return resolved, nil
}

func (w *Writer) changed(kind, id, chatID string) {
	w.publish(bus.KindCacheChanged, CacheChange{Kind: kind, ID: id, ChatID: chatID})
}

func (w *Writer) publish(kind string, payload any) {
	if w.bus != nil {
		w.bus.Publish(bus.NewEvent(kind, payload))
	}
}
