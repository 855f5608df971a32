package session

import (
	"context"

	"github.com/Bamba9016/vente/internal/group"
	"github.com/Bamba9016/vente/internal/protocol"
	"github.com/Bamba9016/vente/internal/store"
)

// ChatStore is what the chat channel needs from the event store.
type ChatStore interface {
	CreateMessage(ctx context.Context, m store.NewMessage) (store.Message, error)
	MarkConversationRead(ctx context.Context, userID, otherID int64) (int, error)
}

// ChatChannel serves /ws/chat/{userId}: the private conversation between
// the connected user and Other.
type ChatChannel struct {
	Self  store.User
	Other store.User
	Store ChatStore
}

func (c *ChatChannel) Name() string  { return "chat" }
func (c *ChatChannel) Group() string { return group.Chat(c.Self.ID, c.Other.ID) }

// OnJoin marks the messages Other sent to Self as read.
func (c *ChatChannel) OnJoin(ctx context.Context, s *Session) {
	n, err := c.Store.MarkConversationRead(ctx, c.Self.ID, c.Other.ID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("mark conversation read")
		return
	}
	if n > 0 {
		s.logger.Debug().Int("messages", n).Msg("conversation marked read")
	}
}

func (c *ChatChannel) Handle(ctx context.Context, s *Session, data []byte) error {
	req, err := protocol.DecodeChat(data)
	if err != nil {
		return malformed(err)
	}

	msg, err := c.Store.CreateMessage(ctx, store.NewMessage{
		SenderID:    c.Self.ID,
		RecipientID: c.Other.ID,
		Content:     req.Message,
	})
	if err != nil {
		return persistFailed("could not save message", err)
	}

	if err := s.Publish(ctx, c.Group(), protocol.KindChatMessage, protocol.NewChatMessage(msg, c.Self)); err != nil {
		return publishFailed(err)
	}

	notify(ctx, s, c.Other.ID, protocol.MessageNotification(c.Self, msg))
	return nil
}
