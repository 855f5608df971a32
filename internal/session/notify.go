package session

import (
	"context"

	"github.com/Bamba9016/vente/internal/group"
	"github.com/Bamba9016/vente/internal/protocol"
)

// notify pushes n to the recipient's notification stream. It is a secondary
// leg of a broadcast: failures are logged and never reported to the client,
// whose event is already stored and broadcast.
func notify(ctx context.Context, s *Session, recipientID int64, n protocol.Notification) {
	if recipientID == 0 || recipientID == n.Actor.ID {
		return
	}
	if err := s.Publish(ctx, group.Notifications(recipientID), protocol.KindNotification, n); err != nil {
		s.logger.Warn().Err(err).Int64("recipient", recipientID).Str("kind", n.Kind).Msg("notification not published")
	}
}
