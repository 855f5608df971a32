package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Bamba9016/vente/internal/group"
	"github.com/Bamba9016/vente/internal/protocol"
	"github.com/Bamba9016/vente/internal/store"
)

// CommentStore is what the comment channel needs from the event store.
type CommentStore interface {
	CreateComment(ctx context.Context, c store.NewComment) (store.Comment, error)
	CommentByID(ctx context.Context, id int64) (store.Comment, error)
}

// CommentChannel serves /ws/publication/{postId}/comments.
type CommentChannel struct {
	Post  store.Post
	Self  store.User
	Store CommentStore
}

func (c *CommentChannel) Name() string  { return "comments" }
func (c *CommentChannel) Group() string { return group.Comments(c.Post.ID) }

func (c *CommentChannel) OnJoin(context.Context, *Session) {}

func (c *CommentChannel) Handle(ctx context.Context, s *Session, data []byte) error {
	req, err := protocol.DecodeComment(data)
	if err != nil {
		return malformed(err)
	}

	var (
		nc        store.NewComment
		recipient int64
	)
	switch r := req.(type) {
	case protocol.NewCommentRequest:
		nc = store.NewComment{PostID: c.Post.ID, UserID: c.Self.ID, Content: r.Content}
		recipient = c.Post.AuthorID
	case protocol.NewReplyRequest:
		parent, err := c.Store.CommentByID(ctx, r.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return rejected(fmt.Sprintf("comment %d not found", r.ParentID), err)
		}
		if err != nil {
			return persistFailed("could not load parent comment", err)
		}
		nc = store.NewComment{PostID: parent.PostID, UserID: c.Self.ID, Content: r.Content, ParentID: &parent.ID}
		recipient = parent.UserID
	default:
		return malformed(fmt.Errorf("%w: %T", protocol.ErrUnknownType, req))
	}

	comment, err := c.Store.CreateComment(ctx, nc)
	if errors.Is(err, store.ErrNotFound) {
		return rejected("publication or comment not found", err)
	}
	if err != nil {
		return persistFailed("could not save comment", err)
	}

	// A reply belongs to its parent's post, which is this channel's post
	// unless the client answered a comment from another publication.
	ev := protocol.NewCommentEvent(comment, c.Self)
	if err := s.Publish(ctx, group.Comments(comment.PostID), protocol.KindComment, ev); err != nil {
		return publishFailed(err)
	}

	notify(ctx, s, recipient, protocol.CommentNotification(c.Self, comment))
	return nil
}
