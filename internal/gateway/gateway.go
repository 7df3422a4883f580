package gateway

import (
	"context"

	"github.com/matheus3301/feedsync/internal/action"
)

// HeaderIdempotencyKey carries the outbox entry's idempotency key. A server
// that already processed the key returns the stored response and creates
// nothing new.
const HeaderIdempotencyKey = "Idempotency-Key"

// Gateway is the remote API the sync engine replays actions against.
// Every write takes the idempotency key of the outbox entry it replays.
type Gateway interface {
	SendMessage(ctx context.Context, key string, p *action.SendMessagePayload) (MessageResult, error)
	EditMessage(ctx context.Context, key string, p *action.EditMessagePayload) (MessageResult, error)
	DeleteMessage(ctx context.Context, key string, p *action.DeleteMessagePayload) error
	CreatePost(ctx context.Context, key string, p *action.CreatePostPayload) (PostResult, error)
	ToggleLike(ctx context.Context, key string, p *action.ToggleLikePayload) (PostResult, error)
	AddComment(ctx context.Context, key string, p *action.AddCommentPayload) (PostResult, error)
	UploadStory(ctx context.Context, key string, p *action.UploadStoryPayload) (StoryResult, error)

	FetchChats(ctx context.Context) ([]RemoteChat, error)
	FetchMessages(ctx context.Context, chatID string, since int64) ([]RemoteMessage, error)
	FetchFeed(ctx context.Context, limit int) ([]RemotePost, error)
	FetchStories(ctx context.Context) ([]RemoteStory, error)
	FetchProfiles(ctx context.Context, ids []string) ([]RemoteProfile, error)
}
