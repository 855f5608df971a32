// Package store is the event store read and written by the realtime layer:
// users and posts are looked up, likes are toggled, comments and direct
// messages are created.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a referenced user, post or comment does
	// not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalid is returned for writes that fail validation.
	ErrInvalid = errors.New("store: invalid")
)

// DefaultProfilePicture is used for users without an uploaded picture.
const DefaultProfilePicture = "https://placehold.co/120x120"

type User struct {
	ID             int64
	Username       string
	ProfilePicture string
}

// Avatar returns the profile picture or the placeholder.
func (u User) Avatar() string {
	if u.ProfilePicture == "" {
		return DefaultProfilePicture
	}
	return u.ProfilePicture
}

// ProfileURL is the public profile page of the user.
func (u User) ProfileURL() string {
	return fmt.Sprintf("/profilepublication/%d/", u.ID)
}

type Post struct {
	ID        int64
	AuthorID  int64
	Content   string
	CreatedAt time.Time
}

// LikeToggle is the state of a (post, user) like after a toggle.
type LikeToggle struct {
	Liked      bool
	LikesCount int
}

type Comment struct {
	ID        int64
	PostID    int64
	UserID    int64
	Content   string
	CreatedAt time.Time
	ParentID  *int64
}

// NewComment describes a comment to create. A reply sets ParentID; its post
// is taken from the parent and PostID is ignored.
type NewComment struct {
	PostID   int64
	UserID   int64
	Content  string
	ParentID *int64
}

type Message struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Content     string
	Timestamp   time.Time
	IsRead      bool
}

type NewMessage struct {
	SenderID    int64
	RecipientID int64
	Content     string
}

// Store is implemented by the Postgres and bbolt backends.
type Store interface {
	UserByID(ctx context.Context, id int64) (User, error)
	PostByID(ctx context.Context, id int64) (Post, error)

	// ToggleLike flips the like of (postID, userID) atomically and returns
	// the resulting state with the post's like count.
	ToggleLike(ctx context.Context, postID, userID int64) (LikeToggle, error)
	CountLikes(ctx context.Context, postID int64) (int, error)

	CreateComment(ctx context.Context, c NewComment) (Comment, error)
	CommentByID(ctx context.Context, id int64) (Comment, error)

	CreateMessage(ctx context.Context, m NewMessage) (Message, error)
	// MarkConversationRead marks messages from otherID to userID read and
	// returns how many changed.
	MarkConversationRead(ctx context.Context, userID, otherID int64) (int, error)

	CreateUser(ctx context.Context, u User) (User, error)
	CreatePost(ctx context.Context, p Post) (Post, error)

	Ping(ctx context.Context) error
	Close() error
}

func validateComment(c NewComment) error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("%w: empty comment", ErrInvalid)
	}
	if c.ParentID == nil && c.PostID <= 0 {
		return fmt.Errorf("%w: comment without post", ErrInvalid)
	}
	return nil
}

func validateMessage(m NewMessage) error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalid)
	}
	if m.SenderID == m.RecipientID {
		return fmt.Errorf("%w: message to self", ErrInvalid)
	}
	return nil
}
