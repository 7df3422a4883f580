package main

import (
	"strconv"
	"time"

	"github.com/matheus3301/feedsync/internal/fakeapi"
	"github.com/matheus3301/feedsync/internal/gateway"
)

// seedDemo fills the server with a small conversation, a feed and a story
// so a fresh daemon has something to reconcile.
func seedDemo(api *fakeapi.Server, owner string, now time.Time) {
	ms := now.UnixMilli()
	api.SeedProfile(gateway.RemoteProfile{UserID: owner, Username: owner, UpdatedAt: ms})
	api.SeedProfile(gateway.RemoteProfile{UserID: "ana", Username: "ana", AvatarRef: "avatars/ana.png", UpdatedAt: ms})
	api.SeedProfile(gateway.RemoteProfile{UserID: "rui", Username: "rui", AvatarRef: "avatars/rui.png", UpdatedAt: ms})

	chat := []struct {
		from, to, text string
		ago            time.Duration
	}{
		{"ana", owner, "are we still on for tomorrow?", 50 * time.Minute},
		{owner, "ana", "yes, 10am", 45 * time.Minute},
		{"ana", owner, "great", 44 * time.Minute},
	}
	for i, m := range chat {
		api.SeedMessage(gateway.RemoteMessage{
			ID:         "seed-m" + strconv.Itoa(i+1),
			ChatID:     "demo-ana",
			SenderID:   m.from,
			ReceiverID: m.to,
			Text:       m.text,
			Kind:       "text",
			Timestamp:  now.Add(-m.ago).UnixMilli(),
		})
	}

	api.SeedPost(gateway.RemotePost{
		ID: "seed-p1", AuthorID: "rui", AuthorUsername: "rui", AuthorAvatar: "avatars/rui.png",
		Caption: "first light", ImageRefs: []string{"media/sunrise.jpg"},
		Timestamp: now.Add(-3 * time.Hour).UnixMilli(), LikeCount: 4, CommentCount: 1,
	})
	api.SeedPost(gateway.RemotePost{
		ID: "seed-p2", AuthorID: "ana", AuthorUsername: "ana", AuthorAvatar: "avatars/ana.png",
		Caption: "new desk setup", Timestamp: now.Add(-time.Hour).UnixMilli(), LikeCount: 1,
	})
	api.SeedStory(gateway.RemoteStory{
		ID: "seed-s1", AuthorID: "ana", MediaRef: "media/coffee.jpg", MediaKind: "image",
		Timestamp: now.Add(-2 * time.Hour).UnixMilli(), ExpiresAt: now.Add(22 * time.Hour).UnixMilli(),
	})
}
