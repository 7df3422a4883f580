package fakeapi

import (
	"sort"

	"github.com/matheus3301/feedsync/internal/gateway"
)

// SeedProfile stores a user profile.
func (s *Server) SeedProfile(p gateway.RemoteProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// SeedMessage stores a message as if another client had sent it. A missing
// UpdatedAt defaults to Timestamp.
func (s *Server) SeedMessage(m gateway.RemoteMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.Timestamp
	}
	s.messages[m.ID] = &m
}

// SeedPost stores a post.
func (s *Server) SeedPost(p gateway.RemotePost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt == 0 {
		p.UpdatedAt = p.Timestamp
	}
	s.posts[p.ID] = &p
}

// SeedStory stores a story.
func (s *Server) SeedStory(st gateway.RemoteStory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.UpdatedAt == 0 {
		st.UpdatedAt = st.Timestamp
	}
	s.stories[st.ID] = &st
}

// Messages returns the live (not deleted) messages of a chat in order.
func (s *Server) Messages(chatID string) []gateway.RemoteMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedMessages(s.messages, func(m *gateway.RemoteMessage) bool {
		return m.ChatID == chatID && !m.Deleted
	})
}

// Posts returns every post ordered by id.
func (s *Server) Posts() []gateway.RemotePost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.RemotePost, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stories returns every story, expired or not, ordered by id.
func (s *Server) Stories() []gateway.RemoteStory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.RemoteStory, 0, len(s.stories))
	for _, st := range s.stories {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
