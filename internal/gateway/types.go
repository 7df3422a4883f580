package gateway

// MessageResult is the server's answer to a message write.
type MessageResult struct {
	ServerID  string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PostResult is the server's answer to a post write, carrying the
// authoritative counters.
type PostResult struct {
	ServerID     string `json:"id"`
	LikeCount    int    `json:"likeCount"`
	CommentCount int    `json:"commentCount"`
	Liked        bool   `json:"liked"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// StoryResult is the server's answer to a story upload.
type StoryResult struct {
	ServerID  string `json:"id"`
	ExpiresAt int64  `json:"expiresAt"`
}

// RemoteMessage is a message as returned by a fetch. Deleted messages are
// still returned, flagged, so clients can drop their copy.
type RemoteMessage struct {
	ID         string `json:"id"`
	ClientID   string `json:"clientId,omitempty"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Kind       string `json:"kind"`
	ImageRef   string `json:"imageRef,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	UpdatedAt  int64  `json:"updatedAt"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// RemotePost is a feed post as returned by a fetch.
type RemotePost struct {
	ID             string   `json:"id"`
	ClientID       string   `json:"clientId,omitempty"`
	AuthorID       string   `json:"authorId"`
	AuthorUsername string   `json:"authorUsername"`
	AuthorAvatar   string   `json:"authorAvatar"`
	Caption        string   `json:"caption"`
	ImageRefs      []string `json:"imageRefs"`
	Timestamp      int64    `json:"timestamp"`
	LikeCount      int      `json:"likeCount"`
	CommentCount   int      `json:"commentCount"`
	Liked          bool     `json:"liked"`
	UpdatedAt      int64    `json:"updatedAt"`
}

// RemoteStory is an active story as returned by a fetch.
type RemoteStory struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId,omitempty"`
	AuthorID  string `json:"authorId"`
	MediaRef  string `json:"mediaRef"`
	MediaKind string `json:"mediaKind"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// RemoteProfile is a user profile.
type RemoteProfile struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarRef string `json:"avatarRef"`
	UpdatedAt int64  `json:"updatedAt"`
}

// RemoteChat is a conversation the user takes part in on the server.
type RemoteChat struct {
	ChatID        string `json:"chatId"`
	LastMessageAt int64  `json:"lastMessageAt"`
}

// ChatsPage wraps a chat list fetch.
type ChatsPage struct {
	Chats []RemoteChat `json:"chats"`
}

// MessagesPage wraps a message fetch.
type MessagesPage struct {
	Messages []RemoteMessage `json:"messages"`
}

// FeedPage wraps a feed fetch.
type FeedPage struct {
	Posts []RemotePost `json:"posts"`
}

// StoriesPage wraps a story fetch.
type StoriesPage struct {
	Stories []RemoteStory `json:"stories"`
}

// ProfilesPage wraps a profile fetch.
type ProfilesPage struct {
	Profiles []RemoteProfile `json:"profiles"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}
