package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/feedsync/internal/action"
	"github.com/matheus3301/feedsync/internal/bus"
	"github.com/matheus3301/feedsync/internal/connectivity"
	"github.com/matheus3301/feedsync/internal/outbox"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/matheus3301/feedsync/internal/status"
	"github.com/matheus3301/feedsync/internal/store"
	intsync "github.com/matheus3301/feedsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const defaultListLimit = 50

// Service implements ControlServer on top of the sync engine.
type Service struct {
	sess      session.Context
	startedAt time.Time
	machine   *status.Machine
	coord     *intsync.Coordinator
	writer    *outbox.Writer
	db        *store.DB
	monitor   connectivity.Controllable
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates a new control service.
func NewService(sess session.Context, machine *status.Machine, coord *intsync.Coordinator, w *outbox.Writer,
	db *store.DB, mon connectivity.Controllable, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sess:      sess,
		startedAt: time.Now(),
		machine:   machine,
		coord:     coord,
		writer:    w,
		db:        db,
		monitor:   mon,
		bus:       b,
		logger:    logger,
	}
}

var _ ControlServer = (*Service)(nil)

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	pending, err := s.db.PendingCount()
	if err != nil {
		return nil, toStatus("pending count", err)
	}
	failed, err := s.db.Count(store.ActionFailed)
	if err != nil {
		return nil, toStatus("failed count", err)
	}
	schema, err := s.db.Version()
	if err != nil {
		return nil, toStatus("schema version", err)
	}
	snap := s.machine.Snapshot()
	return record(map[string]any{
		"profile":   s.sess.Profile,
		"owner":     s.sess.OwnerUserID,
		"status":    string(snap.State),
		"since":     snap.Since.UnixMilli(),
		"online":    s.monitor.Online(),
		"pending":   pending,
		"failed":    failed,
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
		"dropped":   int64(s.bus.Dropped()),
		"schema":    int64(schema),
	}), nil
}

func (s *Service) PendingCount(_ context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	n, err := s.coord.PendingCount()
	if err != nil {
		return nil, toStatus("pending count", err)
	}
	return wrapperspb.Int64(int64(n)), nil
}

func (s *Service) SetOnline(_ context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	s.logger.Info("connectivity forced", zap.Bool("online", req.GetValue()))
	s.monitor.SetOnline(req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *Service) SyncNow(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if !s.monitor.Online() {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "offline")
	}
	s.coord.SyncNow()
	return &emptypb.Empty{}, nil
}

func (s *Service) ListFailed(_ context.Context, req *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	actions, err := s.db.ListActions(store.ActionFailed, limit(req.GetValue()))
	if err != nil {
		return nil, toStatus("list failed", err)
	}
	items := make([]*structpb.Struct, 0, len(actions))
	for _, a := range actions {
		items = append(items, actionToStruct(a))
	}
	return list(items), nil
}

func (s *Service) RetryAction(_ context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.writer.Retry(req.GetValue()); err != nil {
		return nil, toStatus("retry", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) DiscardAction(_ context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.writer.Discard(req.GetValue()); err != nil {
		return nil, toStatus("discard", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) WatchFailures(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	failures, unsub := s.coord.Failures(16)
	defer unsub()

	for {
		select {
		case f, ok := <-failures:
			if !ok {
				return nil
			}
			if err := stream.Send(failureToStruct(f)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) SendMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.writer.SendMessage(outbox.MessageDraft{
		ChatID:     str(req, "chat_id"),
		ReceiverID: str(req, "receiver_id"),
		Text:       str(req, "text"),
		Kind:       str(req, "kind"),
		ImageRefs:  stringList(req, "image_refs"),
	})
	return receipt("send message", r, err)
}

func (s *Service) EditMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.writer.EditMessage(str(req, "chat_id"), str(req, "message_id"), str(req, "text"))
	return receipt("edit message", r, err)
}

func (s *Service) DeleteMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.writer.DeleteMessage(str(req, "chat_id"), str(req, "message_id"))
	return receipt("delete message", r, err)
}

func (s *Service) CreatePost(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.writer.CreatePost(str(req, "caption"), stringList(req, "image_refs"))
	return receipt("create post", r, err)
}

func (s *Service) ToggleLike(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.writer.ToggleLike(str(req, "post_id"), boolean(req, "liked"))
	return receipt("toggle like", r, err)
}

func (s *Service) AddComment(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.writer.AddComment(str(req, "post_id"), str(req, "text"))
	return receipt("add comment", r, err)
}

func (s *Service) UploadStory(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ttl := time.Duration(integer(req, "ttl_ms")) * time.Millisecond
	r, err := s.writer.UploadStory(str(req, "media_ref"), str(req, "media_kind"), ttl)
	return receipt("upload story", r, err)
}

func (s *Service) ListChats(_ context.Context, req *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	chats, err := s.db.ListChats(s.sess.OwnerUserID, limit(req.GetValue()))
	if err != nil {
		return nil, toStatus("list chats", err)
	}
	items := make([]*structpb.Struct, 0, len(chats))
	for _, c := range chats {
		items = append(items, chatToStruct(c))
	}
	return list(items), nil
}

func (s *Service) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	chatID := str(req, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	msgs, err := s.db.MessagesByChat(chatID, limit(int32(integer(req, "limit"))))
	if err != nil {
		return nil, toStatus("list messages", err)
	}
	items := make([]*structpb.Struct, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageToStruct(m))
	}
	return list(items), nil
}

// MarkChatRead is local only; read state is not replayed to the server.
func (s *Service) MarkChatRead(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	if err := s.db.MarkChatRead(req.GetValue()); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) GetFeed(_ context.Context, req *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	posts, err := s.db.Feed(limit(req.GetValue()))
	if err != nil {
		return nil, toStatus("feed", err)
	}
	items := make([]*structpb.Struct, 0, len(posts))
	for _, p := range posts {
		items = append(items, postToStruct(p))
	}
	return list(items), nil
}

func (s *Service) ListStories(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	stories, err := s.db.ActiveStories(time.Now().UnixMilli())
	if err != nil {
		return nil, toStatus("stories", err)
	}
	items := make([]*structpb.Struct, 0, len(stories))
	for _, st := range stories {
		items = append(items, storyToStruct(st))
	}
	return list(items), nil
}

func limit(n int32) int {
	if n <= 0 {
		return defaultListLimit
	}
	return int(n)
}

func receipt(op string, r outbox.Receipt, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(op, err)
	}
	return receiptToStruct(r), nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, store.ErrTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, action.ErrInvalid):
		code = codes.InvalidArgument
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
