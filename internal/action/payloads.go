package action

import "errors"

// Message kinds.
const (
	KindText  = "text"
	KindImage = "image"
	KindCall  = "call"
)

// SendMessagePayload sends a chat message created locally under ClientID.
type SendMessagePayload struct {
	ClientID   string   `json:"clientId"`
	ChatID     string   `json:"chatId"`
	SenderID   string   `json:"senderId"`
	ReceiverID string   `json:"receiverId"`
	Text       string   `json:"text"`
	Kind       string   `json:"kind"`
	ImageRefs  []string `json:"imageRefs,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

func (*SendMessagePayload) ActionType() Type    { return SendMessage }
func (p *SendMessagePayload) StreamKey() string { return ChatStream(p.ChatID) }

func (p *SendMessagePayload) Validate() error {
	switch {
	case p.ClientID == "":
		return errors.New("clientId is required")
	case p.ChatID == "":
		return errors.New("chatId is required")
	case p.ReceiverID == "":
		return errors.New("receiverId is required")
	case p.Text == "" && len(p.ImageRefs) == 0:
		return errors.New("text or imageRefs is required")
	}
	return nil
}

// EditMessagePayload rewrites the body of a previously sent message.
type EditMessagePayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
	EditedAt  int64  `json:"editedAt"`
}

func (*EditMessagePayload) ActionType() Type    { return EditMessage }
func (p *EditMessagePayload) StreamKey() string { return ChatStream(p.ChatID) }

func (p *EditMessagePayload) Validate() error {
	if p.MessageID == "" || p.ChatID == "" {
		return errors.New("messageId and chatId are required")
	}
	return nil
}

// DeleteMessagePayload removes a message for everyone.
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	DeletedAt int64  `json:"deletedAt"`
}

func (*DeleteMessagePayload) ActionType() Type    { return DeleteMessage }
func (p *DeleteMessagePayload) StreamKey() string { return ChatStream(p.ChatID) }

func (p *DeleteMessagePayload) Validate() error {
	if p.MessageID == "" || p.ChatID == "" {
		return errors.New("messageId and chatId are required")
	}
	return nil
}

// CreatePostPayload publishes a post created offline under a client id.
type CreatePostPayload struct {
	PostID    string   `json:"postId"`
	AuthorID  string   `json:"authorId"`
	Caption   string   `json:"caption"`
	ImageRefs []string `json:"imageRefs"`
	Timestamp int64    `json:"timestamp"`
}

func (*CreatePostPayload) ActionType() Type    { return CreatePost }
func (p *CreatePostPayload) StreamKey() string { return PostStream(p.PostID) }

func (p *CreatePostPayload) Validate() error {
	if p.PostID == "" {
		return errors.New("postId is required")
	}
	if p.Caption == "" && len(p.ImageRefs) == 0 {
		return errors.New("caption or imageRefs is required")
	}
	return nil
}

// ToggleLikePayload records the desired like state, not a flip, so that
// replaying it twice is harmless.
type ToggleLikePayload struct {
	PostID string `json:"postId"`
	Liked  bool   `json:"liked"`
	At     int64  `json:"at"`
}

func (*ToggleLikePayload) ActionType() Type    { return ToggleLike }
func (p *ToggleLikePayload) StreamKey() string { return PostStream(p.PostID) }

func (p *ToggleLikePayload) Validate() error {
	if p.PostID == "" {
		return errors.New("postId is required")
	}
	return nil
}

// AddCommentPayload adds a comment to a post.
type AddCommentPayload struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	Text      string `json:"text"`
	At        int64  `json:"at"`
}

func (*AddCommentPayload) ActionType() Type    { return AddComment }
func (p *AddCommentPayload) StreamKey() string { return PostStream(p.PostID) }

func (p *AddCommentPayload) Validate() error {
	switch {
	case p.PostID == "":
		return errors.New("postId is required")
	case p.CommentID == "":
		return errors.New("commentId is required")
	case p.Text == "":
		return errors.New("text is required")
	}
	return nil
}

// UploadStoryPayload publishes a story. MediaRef is a path or URI, never
// the media bytes.
type UploadStoryPayload struct {
	StoryID   string `json:"storyId"`
	AuthorID  string `json:"authorId"`
	MediaRef  string `json:"mediaRef"`
	MediaKind string `json:"mediaKind"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (*UploadStoryPayload) ActionType() Type    { return UploadStory }
func (p *UploadStoryPayload) StreamKey() string { return StoryStream(p.StoryID) }

func (p *UploadStoryPayload) Validate() error {
	switch {
	case p.StoryID == "":
		return errors.New("storyId is required")
	case p.MediaRef == "":
		return errors.New("mediaRef is required")
	case p.ExpiresAt <= p.Timestamp:
		return errors.New("expiresAt must be after timestamp")
	}
	return nil
}
