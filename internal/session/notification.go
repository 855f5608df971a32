package session

import (
	"context"

	"github.com/Bamba9016/vente/internal/group"
	"github.com/Bamba9016/vente/internal/store"
)

// NotificationChannel serves /ws/notifications. It only receives.
type NotificationChannel struct {
	Self store.User
}

func (c *NotificationChannel) Name() string  { return "notifications" }
func (c *NotificationChannel) Group() string { return group.Notifications(c.Self.ID) }

func (c *NotificationChannel) OnJoin(context.Context, *Session) {}

func (c *NotificationChannel) Handle(context.Context, *Session, []byte) error {
	return rejected("notification channel is receive-only", nil)
}
