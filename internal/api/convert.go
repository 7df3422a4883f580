package api

import (
	"github.com/matheus3301/feedsync/internal/outbox"
	"github.com/matheus3301/feedsync/internal/store"
	intsync "github.com/matheus3301/feedsync/internal/sync"
	"google.golang.org/protobuf/types/known/structpb"
)

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolean(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func integer(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func stringList(s *structpb.Struct, key string) []string {
	values := s.GetFields()[key].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStringValue())
	}
	return out
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// record builds a Struct from plain Go values. Values are limited to the
// kinds structpb.NewValue accepts.
func record(fields map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		panic(err)
	}
	return s
}

func list(items []*structpb.Struct) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(items))}
	for _, it := range items {
		out.Values = append(out.Values, structpb.NewStructValue(it))
	}
	return out
}

func receiptToStruct(r outbox.Receipt) *structpb.Struct {
	return record(map[string]any{"id": r.ID, "seq": r.Seq})
}

func actionToStruct(a store.Action) *structpb.Struct {
	return record(map[string]any{
		"seq":        a.Seq,
		"type":       string(a.Type),
		"stream":     a.StreamKey,
		"status":     string(a.Status),
		"retries":    a.RetryCount,
		"last_error": a.LastError,
		"created_at": a.CreatedAt,
		"updated_at": a.UpdatedAt,
	})
}

func failureToStruct(f intsync.Failure) *structpb.Struct {
	return record(map[string]any{
		"seq":     f.Seq,
		"type":    string(f.Type),
		"stream":  f.StreamKey,
		"retries": f.RetryCount,
		"error":   f.Error,
	})
}

func chatToStruct(c store.Chat) *structpb.Struct {
	return record(map[string]any{
		"chat_id":              c.ChatID,
		"counterpart_id":       c.CounterpartID,
		"counterpart_username": c.CounterpartUsername,
		"counterpart_avatar":   c.CounterpartAvatar,
		"last_message_preview": c.LastMessagePreview,
		"last_message_at":      c.LastMessageAt,
	})
}

func messageToStruct(m store.Message) *structpb.Struct {
	return record(map[string]any{
		"id":          m.ID,
		"chat_id":     m.ChatID,
		"sender_id":   m.SenderID,
		"receiver_id": m.ReceiverID,
		"text":        m.Body,
		"kind":        m.Kind,
		"image_ref":   m.ImageRef,
		"timestamp":   m.Timestamp,
		"is_read":     m.IsRead,
		"is_sent":     m.IsSent,
	})
}

func postToStruct(p store.Post) *structpb.Struct {
	return record(map[string]any{
		"id":              p.ID,
		"author_id":       p.AuthorID,
		"author_username": p.AuthorUsername,
		"caption":         p.Caption,
		"image_refs":      anyList(p.ImageRefs),
		"timestamp":       p.Timestamp,
		"like_count":      p.LikeCount,
		"comment_count":   p.CommentCount,
		"liked_by_me":     p.LikedByMe,
		"is_synced":       p.IsSynced,
	})
}

func storyToStruct(s store.Story) *structpb.Struct {
	return record(map[string]any{
		"id":         s.ID,
		"author_id":  s.AuthorID,
		"media_ref":  s.MediaRef,
		"media_kind": s.MediaKind,
		"timestamp":  s.Timestamp,
		"expires_at": s.ExpiresAt,
		"is_synced":  s.IsSynced,
	})
}
