package session

import (
	"context"
	"errors"
	"time"

	"github.com/Bamba9016/vente/internal/group"
	"github.com/Bamba9016/vente/internal/protocol"
	"github.com/Bamba9016/vente/internal/store"
)

// LikeStore is what the like channel needs from the event store.
type LikeStore interface {
	ToggleLike(ctx context.Context, postID, userID int64) (store.LikeToggle, error)
}

// LikeChannel serves /ws/likes/{postId}. Anyone allowed to connect watches
// the counter; only the authenticated owner of user_id may toggle.
type LikeChannel struct {
	Post  store.Post
	Store LikeStore
}

func (c *LikeChannel) Name() string  { return "like" }
func (c *LikeChannel) Group() string { return group.Like(c.Post.ID) }

func (c *LikeChannel) OnJoin(context.Context, *Session) {}

func (c *LikeChannel) Handle(ctx context.Context, s *Session, data []byte) error {
	req, err := protocol.DecodeLike(data)
	if err != nil {
		return malformed(err)
	}

	me := s.Principal()
	if me == nil {
		return rejected("authentication required to like", nil)
	}
	if req.UserID != me.ID {
		return rejected("user_id does not match the connected user", nil)
	}

	toggle, err := c.Store.ToggleLike(ctx, c.Post.ID, me.ID)
	if errors.Is(err, store.ErrNotFound) {
		return rejected("publication not found", err)
	}
	if err != nil {
		return persistFailed("could not save like", err)
	}

	update := protocol.LikeUpdate{Liked: toggle.Liked, LikesCount: toggle.LikesCount}
	if err := s.Publish(ctx, c.Group(), protocol.KindLikeUpdate, update); err != nil {
		return publishFailed(err)
	}

	if toggle.Liked {
		notify(ctx, s, c.Post.AuthorID, protocol.LikeNotification(*me, c.Post.ID, time.Now()))
	}
	return nil
}
