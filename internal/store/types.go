package store

import "github.com/matheus3301/feedsync/internal/action"

// Message is a cached chat message. IsSent is false while the message only
// exists locally.
type Message struct {
	ID         string
	ClientID   string
	ChatID     string
	SenderID   string
	ReceiverID string
	Body       string
	Kind       string // text, image, call
	ImageRef   string
	Timestamp  int64
	IsRead     bool
	IsSent     bool
	UpdatedAt  int64 // last-write-wins clock; defaults to Timestamp
}

// Post is a cached feed post. IsSynced is false until the server confirms
// a post created offline.
type Post struct {
	ID             string
	ClientID       string
	AuthorID       string
	AuthorUsername string
	AuthorAvatar   string
	Caption        string
	ImageRefs      []string
	Timestamp      int64
	LikeCount      int
	CommentCount   int
	LikedByMe      bool
	IsSynced       bool
	UpdatedAt      int64
}

// Story is a cached ephemeral story.
type Story struct {
	ID        string
	ClientID  string
	AuthorID  string
	MediaRef  string
	MediaKind string
	Timestamp int64
	ExpiresAt int64
	IsSynced  bool
	UpdatedAt int64
}

// Profile is a cached user profile used to decorate chat rows.
type Profile struct {
	UserID    string
	Username  string
	AvatarRef string
	UpdatedAt int64
}

// Chat is one row of the chat list projection.
type Chat struct {
	OwnerUserID         string
	ChatID              string
	CounterpartID       string
	CounterpartUsername string
	CounterpartAvatar   string
	LastMessagePreview  string
	LastMessageAt       int64
}

// ActionStatus is the lifecycle status of an outbox row.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionProcessing ActionStatus = "processing"
	ActionCompleted  ActionStatus = "completed"
	// ActionFailed is terminal: the entry is never retried automatically.
	ActionFailed ActionStatus = "failed"
)

// Action is a durable outbox entry. Seq defines replay order.
type Action struct {
	Seq            int64
	Type           action.Type
	StreamKey      string
	IdempotencyKey string
	Payload        []byte
	Status         ActionStatus
	RetryCount     int
	LastError      string
	CreatedAt      int64
	UpdatedAt      int64
	NextAttemptAt  int64
	CompletedAt    int64
}

// Entity kinds used by tombstones and the client->server id map.
const (
	KindMessage = "message"
	KindPost    = "post"
	KindStory   = "story"
)
