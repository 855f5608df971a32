package protocol

import (
	"time"

	"github.com/Bamba9016/vente/internal/store"
)

// Broadcast kinds, as tagged on the hub envelope.
const (
	KindLikeUpdate   = "like_update"
	KindChatMessage  = "chat_message"
	KindComment      = "comment_message"
	KindNotification = "notification"
)

// Notification kinds.
const (
	NotifyLike    = "like"
	NotifyComment = "comment"
	NotifyReply   = "reply"
	NotifyMessage = "message"
)

// LikeUpdate is broadcast to like_{post} after every toggle. LikesCount is
// authoritative; clients must not derive state from arrival order.
type LikeUpdate struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likes_count"`
}

// ChatMessage is broadcast to chat_{a}_{b} once the message is stored.
type ChatMessage struct {
	MessageID      int64  `json:"message_id"`
	SenderID       int64  `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

func NewChatMessage(m store.Message, sender store.User) ChatMessage {
	return ChatMessage{
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		SenderUsername: sender.Username,
		Content:        m.Content,
		Timestamp:      formatTime(m.Timestamp),
	}
}

// UserSummary is the author block attached to comments and notifications.
type UserSummary struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture"`
	ProfileURL     string `json:"profile_url"`
}

func NewUserSummary(u store.User) UserSummary {
	return UserSummary{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.Avatar(),
		ProfileURL:     u.ProfileURL(),
	}
}

// CommentBody is the serialized form of a stored comment. Replies is always
// empty on emission; clients load nested replies separately.
type CommentBody struct {
	ID            int64         `json:"id"`
	User          UserSummary   `json:"user"`
	Content       string        `json:"content"`
	CreatedAt     string        `json:"created_at"`
	ParentComment *int64        `json:"parent_comment"`
	Replies       []CommentBody `json:"replies"`
}

// CommentEvent is broadcast to publication_{post}.
type CommentEvent struct {
	Type    string      `json:"type"`
	Comment CommentBody `json:"comment"`
}

func NewCommentEvent(c store.Comment, author store.User) CommentEvent {
	return CommentEvent{
		Type: "comment",
		Comment: CommentBody{
			ID:            c.ID,
			User:          NewUserSummary(author),
			Content:       c.Content,
			CreatedAt:     formatTime(c.CreatedAt),
			ParentComment: c.ParentID,
			Replies:       []CommentBody{},
		},
	}
}

// Notification is pushed to notifications_{user} when someone else acts on
// the user's post, comment or conversation.
type Notification struct {
	Type      string      `json:"type"`
	Kind      string      `json:"kind"`
	Actor     UserSummary `json:"actor"`
	PostID    *int64      `json:"post_id,omitempty"`
	CommentID *int64      `json:"comment_id,omitempty"`
	MessageID *int64      `json:"message_id,omitempty"`
	CreatedAt string      `json:"created_at"`
}

func newNotification(kind string, actor store.User, at time.Time) Notification {
	return Notification{
		Type:      "notification",
		Kind:      kind,
		Actor:     NewUserSummary(actor),
		CreatedAt: formatTime(at),
	}
}

func LikeNotification(actor store.User, postID int64, at time.Time) Notification {
	n := newNotification(NotifyLike, actor, at)
	n.PostID = &postID
	return n
}

// CommentNotification covers both top-level comments and replies.
func CommentNotification(actor store.User, c store.Comment) Notification {
	kind := NotifyComment
	if c.ParentID != nil {
		kind = NotifyReply
	}
	n := newNotification(kind, actor, c.CreatedAt)
	n.PostID = &c.PostID
	n.CommentID = &c.ID
	return n
}

func MessageNotification(actor store.User, m store.Message) Notification {
	n := newNotification(NotifyMessage, actor, m.Timestamp)
	n.MessageID = &m.ID
	return n
}

// ErrorFrame is sent only to the client whose message failed.
type ErrorFrame struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
