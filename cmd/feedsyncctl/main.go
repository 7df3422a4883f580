package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/matheus3301/feedsync/internal/api"
	"github.com/matheus3301/feedsync/internal/lock"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags and the daemon connection shared by every
// subcommand.
type rootOptions struct {
	Profile string
	JSON    bool
	Timeout time.Duration

	client *api.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "feedsyncctl",
		Short:         "Control a running feedsyncd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			profile := session.Resolve(opts.Profile, "")
			if err := session.ValidateName(profile); err != nil {
				return err
			}
			if _, held, err := lock.Holder(session.Dir(profile)); err == nil && !held {
				return fmt.Errorf("no daemon running for profile %q (start feedsyncd --profile %s)", profile, profile)
			}
			c, err := api.Dial(session.SocketPath(profile))
			if err != nil {
				return fmt.Errorf("cannot connect to daemon for profile %q: %w", profile, err)
			}
			opts.client = c
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.client != nil {
				return opts.client.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "profile name (overrides config default)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(
		newStatusCommand(opts),
		newOnlineCommand(opts),
		newSyncCommand(opts),
		newFailedCommand(opts),
		newSendCommand(opts),
		newEditCommand(opts),
		newDeleteCommand(opts),
		newPostCommand(opts),
		newLikeCommand(opts),
		newCommentCommand(opts),
		newStoryCommand(opts),
		newChatsCommand(opts),
		newMessagesCommand(opts),
		newReadCommand(opts),
		newFeedCommand(opts),
		newStoriesCommand(opts),
	)
	return cmd
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}
