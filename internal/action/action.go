package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type identifies a user mutation that is replayed through the outbox.
type Type string

const (
	SendMessage   Type = "send_message"
	EditMessage   Type = "edit_message"
	DeleteMessage Type = "delete_message"
	CreatePost    Type = "create_post"
	ToggleLike    Type = "toggle_like"
	AddComment    Type = "add_comment"
	UploadStory   Type = "upload_story"
)

// ErrUnknownType is returned when decoding a payload for an unregistered type.
var ErrUnknownType = errors.New("unknown action type")

// ErrInvalid wraps every payload validation failure.
var ErrInvalid = errors.New("invalid payload")

// Payload is the typed body of an outbox entry.
type Payload interface {
	ActionType() Type
	// StreamKey names the ordering stream. Entries sharing a key replay in
	// enqueue order; different keys are independent.
	StreamKey() string
	Validate() error
}

// Encode serializes a payload for durable storage.
func Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", p.ActionType(), ErrInvalid, err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.ActionType(), err)
	}
	return data, nil
}

// Decode parses a stored payload back into its typed form.
func Decode(t Type, data []byte) (Payload, error) {
	var p Payload
	switch t {
	case SendMessage:
		p = &SendMessagePayload{}
	case EditMessage:
		p = &EditMessagePayload{}
	case DeleteMessage:
		p = &DeleteMessagePayload{}
	case CreatePost:
		p = &CreatePostPayload{}
	case ToggleLike:
		p = &ToggleLikePayload{}
	case AddComment:
		p = &AddCommentPayload{}
	case UploadStory:
		p = &UploadStoryPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", t, ErrInvalid, err)
	}
	return p, nil
}

// NewIdempotencyKey returns a fresh client-generated idempotency key.
func NewIdempotencyKey() string {
	return uuid.New().String()
}

// NewClientID returns a client-side entity id, e.g. "local-msg-<uuid>".
// Client ids never collide with server ids because of the prefix.
func NewClientID(kind string) string {
	return "local-" + kind + "-" + uuid.New().String()
}

// IsClientID reports whether id was produced by NewClientID.
func IsClientID(id string) bool {
	return strings.HasPrefix(id, "local-")
}

func ChatStream(chatID string) string   { return "chat:" + chatID }
func PostStream(postID string) string   { return "post:" + postID }
func StoryStream(storyID string) string { return "story:" + storyID }
