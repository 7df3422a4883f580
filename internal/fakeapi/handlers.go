package fakeapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/feedsync/internal/action"
	"github.com/matheus3301/feedsync/internal/gateway"
)

func (s *Server) sendMessage(c *gin.Context) (int, any) {
	var p action.SendMessagePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	if err := p.Validate(); err != nil {
		return badRequest(err)
	}
	now := s.nowMs()
	m := &gateway.RemoteMessage{
		ID:         s.nextID("m"),
		ClientID:   p.ClientID,
		ChatID:     p.ChatID,
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Text:       p.Text,
		Kind:       p.Kind,
		Timestamp:  now,
		UpdatedAt:  now,
	}
	if len(p.ImageRefs) > 0 {
		m.ImageRef = p.ImageRefs[0]
	}
	s.messages[m.ID] = m
	return http.StatusCreated, gateway.MessageResult{ServerID: m.ID, Timestamp: m.Timestamp, UpdatedAt: m.UpdatedAt}
}

func (s *Server) editMessage(c *gin.Context) (int, any) {
	var p action.EditMessagePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	m, ok := s.messages[c.Param("id")]
	if !ok || m.Deleted {
		return notFound("message")
	}
	m.Text = p.Text
	m.UpdatedAt = max(m.UpdatedAt, p.EditedAt)
	return http.StatusOK, gateway.MessageResult{ServerID: m.ID, Timestamp: m.Timestamp, UpdatedAt: m.UpdatedAt}
}

func (s *Server) deleteMessage(c *gin.Context) (int, any) {
	var p action.DeleteMessagePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	m, ok := s.messages[c.Param("id")]
	if !ok {
		return notFound("message")
	}
	m.Deleted = true
	m.Text = ""
	m.UpdatedAt = max(m.UpdatedAt, p.DeletedAt)
	return http.StatusOK, gin.H{"id": m.ID}
}

func (s *Server) createPost(c *gin.Context) (int, any) {
	var p action.CreatePostPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	if err := p.Validate(); err != nil {
		return badRequest(err)
	}
	author := s.profiles[p.AuthorID]
	post := &gateway.RemotePost{
		ID:             s.nextID("p"),
		ClientID:       p.PostID,
		AuthorID:       p.AuthorID,
		AuthorUsername: author.Username,
		AuthorAvatar:   author.AvatarRef,
		Caption:        p.Caption,
		ImageRefs:      p.ImageRefs,
		Timestamp:      s.nowMs(),
	}
	post.UpdatedAt = post.Timestamp
	s.posts[post.ID] = post
	return http.StatusCreated, s.postResult(post, userID(c))
}

func (s *Server) toggleLike(c *gin.Context) (int, any) {
	var p action.ToggleLikePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	post, ok := s.posts[c.Param("id")]
	if !ok {
		return notFound("post")
	}
	likers := s.likes[post.ID]
	if likers == nil {
		likers = make(map[string]bool)
		s.likes[post.ID] = likers
	}
	uid := userID(c)
	if likers[uid] != p.Liked {
		if p.Liked {
			post.LikeCount++
		} else if post.LikeCount > 0 {
			post.LikeCount--
		}
		likers[uid] = p.Liked
	}
	post.UpdatedAt = max(post.UpdatedAt, p.At)
	return http.StatusOK, s.postResult(post, uid)
}

func (s *Server) addComment(c *gin.Context) (int, any) {
	var p action.AddCommentPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	post, ok := s.posts[c.Param("id")]
	if !ok {
		return notFound("post")
	}
	if strings.TrimSpace(p.Text) == "" {
		return badRequest(errors.New("text is required"))
	}
	post.CommentCount++
	post.UpdatedAt = max(post.UpdatedAt, p.At)
	return http.StatusCreated, s.postResult(post, userID(c))
}

func (s *Server) uploadStory(c *gin.Context) (int, any) {
	var p action.UploadStoryPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		return badRequest(err)
	}
	if err := p.Validate(); err != nil {
		return badRequest(err)
	}
	st := &gateway.RemoteStory{
		ID:        s.nextID("s"),
		ClientID:  p.StoryID,
		AuthorID:  p.AuthorID,
		MediaRef:  p.MediaRef,
		MediaKind: p.MediaKind,
		Timestamp: p.Timestamp,
		ExpiresAt: p.ExpiresAt,
		UpdatedAt: s.nowMs(),
	}
	s.stories[st.ID] = st
	return http.StatusCreated, gateway.StoryResult{ServerID: st.ID, ExpiresAt: st.ExpiresAt}
}

// fetchChats lists chats holding a live message the caller sent or
// received, newest first. Without auth every chat is listed.
func (s *Server) fetchChats(c *gin.Context) (int, any) {
	uid := userID(c)
	latest := map[string]int64{}
	for _, m := range s.messages {
		if m.Deleted {
			continue
		}
		if uid != "" && m.SenderID != uid && m.ReceiverID != uid {
			continue
		}
		latest[m.ChatID] = max(latest[m.ChatID], m.Timestamp)
	}
	chats := make([]gateway.RemoteChat, 0, len(latest))
	for id, at := range latest {
		chats = append(chats, gateway.RemoteChat{ChatID: id, LastMessageAt: at})
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].LastMessageAt != chats[j].LastMessageAt {
			return chats[i].LastMessageAt > chats[j].LastMessageAt
		}
		return chats[i].ChatID < chats[j].ChatID
	})
	return http.StatusOK, gateway.ChatsPage{Chats: chats}
}

func (s *Server) fetchMessages(c *gin.Context) (int, any) {
	chatID := c.Param("chatId")
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	msgs := sortedMessages(s.messages, func(m *gateway.RemoteMessage) bool {
		return m.ChatID == chatID && m.UpdatedAt > since
	})
	return http.StatusOK, gateway.MessagesPage{Messages: msgs}
}

func (s *Server) fetchFeed(c *gin.Context) (int, any) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	uid := userID(c)
	posts := make([]gateway.RemotePost, 0, len(s.posts))
	for _, p := range s.posts {
		cp := *p
		cp.Liked = s.likes[p.ID][uid]
		posts = append(posts, cp)
	}
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Timestamp != posts[j].Timestamp {
			return posts[i].Timestamp > posts[j].Timestamp
		}
		return posts[i].ID > posts[j].ID
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return http.StatusOK, gateway.FeedPage{Posts: posts}
}

func (s *Server) fetchStories(_ *gin.Context) (int, any) {
	now := s.nowMs()
	stories := []gateway.RemoteStory{}
	for _, st := range s.stories {
		if st.ExpiresAt > now {
			stories = append(stories, *st)
		}
	}
	sort.Slice(stories, func(i, j int) bool { return stories[i].Timestamp > stories[j].Timestamp })
	return http.StatusOK, gateway.StoriesPage{Stories: stories}
}

func (s *Server) fetchProfiles(c *gin.Context) (int, any) {
	profiles := []gateway.RemoteProfile{}
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if p, ok := s.profiles[strings.TrimSpace(id)]; ok {
			profiles = append(profiles, p)
		}
	}
	return http.StatusOK, gateway.ProfilesPage{Profiles: profiles}
}

func (s *Server) postResult(p *gateway.RemotePost, uid string) gateway.PostResult {
	return gateway.PostResult{
		ServerID:     p.ID,
		LikeCount:    p.LikeCount,
		CommentCount: p.CommentCount,
		Liked:        s.likes[p.ID][uid],
		UpdatedAt:    p.UpdatedAt,
	}
}
