// Package group computes broadcast group names from route parameters.
//
// A group name is a pure function of its inputs, so every process and every
// participant derives the same name for the same conversation or post.
package group

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	likePrefix         = "like_"
	chatPrefix         = "chat_"
	publicationPrefix  = "publication_"
	notificationPrefix = "notifications_"
)

// Like is the group of connections watching the like counter of a post.
func Like(postID int64) string {
	return likePrefix + strconv.FormatInt(postID, 10)
}

// Chat is the group of a private conversation. The two user ids are sorted
// so Chat(a, b) == Chat(b, a).
func Chat(a, b int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d_%d", chatPrefix, a, b)
}

// Comments is the group of connections following the comments of a post.
func Comments(postID int64) string {
	return publicationPrefix + strconv.FormatInt(postID, 10)
}

// Notifications is the per-user notification stream.
func Notifications(userID int64) string {
	return notificationPrefix + strconv.FormatInt(userID, 10)
}

// ParseID parses a positive numeric route parameter.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be positive", raw)
	}
	return id, nil
}
