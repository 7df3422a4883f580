package action

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := []Payload{
		&SendMessagePayload{ClientID: "local-msg-1", ChatID: "c1", SenderID: "u1", ReceiverID: "u2", Text: "hi", Kind: KindText, Timestamp: 1000},
		&SendMessagePayload{ClientID: "local-msg-2", ChatID: "c1", ReceiverID: "u2", Kind: KindImage, ImageRefs: []string{"/tmp/a.jpg", "/tmp/b.jpg"}, Timestamp: 2000},
		&EditMessagePayload{MessageID: "m1", ChatID: "c1", Text: "edited", EditedAt: 3000},
		&DeleteMessagePayload{MessageID: "m1", ChatID: "c1", DeletedAt: 4000},
		&CreatePostPayload{PostID: "local-post-1", AuthorID: "u1", Caption: "sunset", ImageRefs: []string{"p.jpg"}, Timestamp: 5000},
		&ToggleLikePayload{PostID: "p1", Liked: true, At: 6000},
		&AddCommentPayload{PostID: "p1", CommentID: "local-comment-1", Text: "nice", At: 7000},
		&UploadStoryPayload{StoryID: "local-story-1", AuthorID: "u1", MediaRef: "s.mp4", MediaKind: "video", Timestamp: 8000, ExpiresAt: 9000},
	}

	for _, p := range payloads {
		t.Run(string(p.ActionType()), func(t *testing.T) {
			data, err := Encode(p)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(p.ActionType(), data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, p) {
				t.Errorf("round trip = %+v, want %+v", got, p)
			}
			if got.StreamKey() != p.StreamKey() {
				t.Errorf("stream key = %q, want %q", got.StreamKey(), p.StreamKey())
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode("rename_chat", []byte(`{}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeCorruptPayload(t *testing.T) {
	if _, err := Decode(SendMessage, []byte(`{"chatId":`)); err == nil {
		t.Error("expected error for truncated payload")
	}
	// Well-formed JSON that fails validation must not decode either.
	if _, err := Decode(SendMessage, []byte(`{"chatId":"c1"}`)); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid for payload without clientId", err)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
	}{
		{"message without text", &SendMessagePayload{ClientID: "x", ChatID: "c", ReceiverID: "r"}},
		{"post without content", &CreatePostPayload{PostID: "p"}},
		{"comment without text", &AddCommentPayload{PostID: "p", CommentID: "c"}},
		{"story expiring before creation", &UploadStoryPayload{StoryID: "s", MediaRef: "m", Timestamp: 10, ExpiresAt: 5}},
		{"like without post", &ToggleLikePayload{Liked: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.p); err == nil {
				t.Error("Encode() expected error")
			}
		})
	}
}

func TestStreamKeys(t *testing.T) {
	send := &SendMessagePayload{ChatID: "c1"}
	del := &DeleteMessagePayload{ChatID: "c1"}
	if send.StreamKey() != del.StreamKey() {
		t.Errorf("message actions in one chat must share a stream: %q vs %q", send.StreamKey(), del.StreamKey())
	}
	create := &CreatePostPayload{PostID: "local-post-1"}
	like := &ToggleLikePayload{PostID: "local-post-1"}
	if create.StreamKey() != like.StreamKey() {
		t.Errorf("like on an offline post must follow its create: %q vs %q", create.StreamKey(), like.StreamKey())
	}
	if send.StreamKey() == create.StreamKey() {
		t.Error("chat and post streams must differ")
	}
}

func TestClientIDs(t *testing.T) {
	id := NewClientID("msg")
	if !strings.HasPrefix(id, "local-msg-") {
		t.Errorf("id = %q, want local-msg- prefix", id)
	}
	if !IsClientID(id) {
		t.Error("IsClientID(NewClientID()) = false")
	}
	if IsClientID("srv-123") {
		t.Error("IsClientID(server id) = true")
	}
	if NewIdempotencyKey() == NewIdempotencyKey() {
		t.Error("idempotency keys must be unique")
	}
}
