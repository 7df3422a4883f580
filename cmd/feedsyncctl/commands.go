package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/matheus3301/feedsync/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status, connectivity and outbox counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			st, err := opts.client.GetStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.JSON {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Profile: %s (owner %s)\n", text(st, "profile"), text(st, "owner"))
			fmt.Fprintf(out, "Status:  %s (since %s)\n", text(st, "status"), clock(number(st, "since")))
			fmt.Fprintf(out, "Online:  %v\n", boolField(st, "online"))
			fmt.Fprintf(out, "Pending: %d\n", number(st, "pending"))
			fmt.Fprintf(out, "Failed:  %d\n", number(st, "failed"))
			fmt.Fprintf(out, "Schema:  v%d\n", number(st, "schema"))
			fmt.Fprintf(out, "Uptime:  %s\n", time.Duration(number(st, "uptime_ms"))*time.Millisecond)
			if n := number(st, "dropped"); n > 0 {
				fmt.Fprintf(out, "Dropped: %d events\n", n)
			}
			return nil
		},
	}
}

func newOnlineCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "online <on|off>",
		Short:     "Force the daemon's connectivity state",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var online bool
			switch args[0] {
			case "on":
				online = true
			case "off":
			default:
				return fmt.Errorf("want on or off, got %q", args[0])
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			return opts.client.SetOnline(ctx, online)
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the outbox now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			if err := opts.client.SyncNow(ctx); err != nil {
				return err
			}
			n, err := opts.client.PendingCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync requested, %d pending\n", n)
			return nil
		},
	}
}

func newFailedCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and resolve permanently failed actions",
	}

	var limit int32
	list := &cobra.Command{
		Use:   "list",
		Short: "List failed actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			l, err := opts.client.ListFailed(ctx, limit)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), opts.JSON, l, "No failed actions.", func(a *structpb.Struct) string {
				return fmt.Sprintf("%6d  %-15s %-20s retries=%d  %s",
					number(a, "seq"), text(a, "type"), text(a, "stream"), number(a, "retries"), text(a, "last_error"))
			})
		},
	}
	list.Flags().Int32Var(&limit, "limit", 50, "maximum number of rows")

	retry := &cobra.Command{
		Use:   "retry <seq>",
		Short: "Requeue a failed action with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSeq(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			return opts.client.RetryAction(ctx, seq)
		},
	}

	discard := &cobra.Command{
		Use:   "discard <seq>",
		Short: "Drop a failed action and the local entity it created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSeq(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			return opts.client.DiscardAction(ctx, seq)
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream actions as they fail permanently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, err := opts.client.WatchFailures(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for {
				f, err := stream.Recv()
				if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
					return nil
				}
				if err != nil {
					return err
				}
				if opts.JSON {
					if err := printJSON(out, f); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "seq %d %s on %s failed: %s\n", number(f, "seq"), text(f, "type"), text(f, "stream"), text(f, "error"))
			}
		},
	}

	cmd.AddCommand(list, retry, discard, watch)
	return cmd
}

func parseSeq(s string) (int64, error) {
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid sequence id %q", s)
	}
	return seq, nil
}

// write runs a mutation and prints its receipt.
func write(cmd *cobra.Command, opts *rootOptions, method string, fields map[string]any) error {
	ctx, cancel := opts.context(cmd)
	defer cancel()
	r, err := opts.client.Write(ctx, method, fields)
	if err != nil {
		return err
	}
	return printReceipt(cmd.OutOrStdout(), opts.JSON, r)
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	var chatID, to, msg, kind string
	var images []string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a chat message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return write(cmd, opts, api.MethodSendMessage, map[string]any{
				"chat_id":     chatID,
				"receiver_id": to,
				"text":        msg,
				"kind":        kind,
				"image_refs":  anyList(images),
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().StringVar(&to, "to", "", "receiver user id")
	cmd.Flags().StringVar(&msg, "text", "", "message text")
	cmd.Flags().StringVar(&kind, "kind", "", "message kind (text, image, call)")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image reference (repeatable)")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newEditCommand(opts *rootOptions) *cobra.Command {
	var chatID, id, msg string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a sent message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return write(cmd, opts, api.MethodEditMessage, map[string]any{
				"chat_id": chatID, "message_id": id, "text": msg,
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().StringVar(&id, "id", "", "message id (server or local)")
	cmd.Flags().StringVar(&msg, "text", "", "new text")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	var chatID, id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a message for everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return write(cmd, opts, api.MethodDeleteMessage, map[string]any{"chat_id": chatID, "message_id": id})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().StringVar(&id, "id", "", "message id (server or local)")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPostCommand(opts *rootOptions) *cobra.Command {
	var caption string
	var images []string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Create a feed post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return write(cmd, opts, api.MethodCreatePost, map[string]any{
				"caption": caption, "image_refs": anyList(images),
			})
		},
	}
	cmd.Flags().StringVar(&caption, "caption", "", "post caption")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image reference (repeatable)")
	return cmd
}

func newLikeCommand(opts *rootOptions) *cobra.Command {
	var unlike bool
	cmd := &cobra.Command{
		Use:   "like <post-id>",
		Short: "Like or unlike a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, opts, api.MethodToggleLike, map[string]any{"post_id": args[0], "liked": !unlike})
		},
	}
	cmd.Flags().BoolVar(&unlike, "unlike", false, "remove the like instead")
	return cmd
}

func newCommentCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <post-id> <text>",
		Short: "Comment on a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, opts, api.MethodAddComment, map[string]any{"post_id": args[0], "text": args[1]})
		},
	}
}

func newStoryCommand(opts *rootOptions) *cobra.Command {
	var kind string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "story <media-ref>",
		Short: "Upload a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, opts, api.MethodUploadStory, map[string]any{
				"media_ref": args[0], "media_kind": kind, "ttl_ms": ttl.Milliseconds(),
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "image", "media kind (image, video)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "visibility window (default 24h)")
	return cmd
}

func newChatsCommand(opts *rootOptions) *cobra.Command {
	var limit int32
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			l, err := opts.client.ListChats(ctx, limit)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), opts.JSON, l, "No chats.", func(c *structpb.Struct) string {
				who := text(c, "counterpart_username")
				if who == "" {
					who = text(c, "counterpart_id")
				}
				return fmt.Sprintf("%-24s %-16s %s  %s",
					text(c, "chat_id"), who, clock(number(c, "last_message_at")), truncate(text(c, "last_message_preview"), 40))
			})
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 50, "maximum number of chats")
	return cmd
}

func newMessagesCommand(opts *rootOptions) *cobra.Command {
	var limit int32
	cmd := &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "List the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			l, err := opts.client.ListMessages(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), opts.JSON, l, "No messages.", func(m *structpb.Struct) string {
				mark := " "
				if !boolField(m, "is_sent") {
					mark = "…"
				}
				return fmt.Sprintf("%s %s %-12s %s", mark, clock(number(m, "timestamp")), text(m, "sender_id"), text(m, "text"))
			})
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 50, "maximum number of messages")
	return cmd
}

func newReadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <chat-id>",
		Short: "Mark every message of a chat as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			return opts.client.MarkChatRead(ctx, args[0])
		},
	}
}

func newFeedCommand(opts *rootOptions) *cobra.Command {
	var limit int32
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the cached feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			l, err := opts.client.GetFeed(ctx, limit)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), opts.JSON, l, "Feed is empty.", func(p *structpb.Struct) string {
				state := ""
				if !boolField(p, "is_synced") {
					state = " (pending)"
				}
				liked := " "
				if boolField(p, "liked_by_me") {
					liked = "♥"
				}
				return fmt.Sprintf("%-24s %s %3d likes %3d comments  %s%s",
					text(p, "id"), liked, number(p, "like_count"), number(p, "comment_count"), truncate(text(p, "caption"), 40), state)
			})
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 50, "maximum number of posts")
	return cmd
}

func newStoriesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stories",
		Short: "List active stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			l, err := opts.client.ListStories(ctx)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), opts.JSON, l, "No active stories.", func(s *structpb.Struct) string {
				return fmt.Sprintf("%-24s %-12s %-6s %s  expires %s",
					text(s, "id"), text(s, "author_id"), text(s, "media_kind"), text(s, "media_ref"), clock(number(s, "expires_at")))
			})
		},
	}
}
