package store

import (
	"context"
	"errors"
	"fmt"
)

var demoUsers = []string{"awa", "koffi", "mariam", "yao"}

// SeedDemo creates a few users, each with one post. Existing usernames are
// skipped, so running it twice only creates the missing rows.
func SeedDemo(ctx context.Context, s Store) ([]User, []Post, error) {
	var users []User
	var posts []Post
	for _, name := range demoUsers {
		u, err := s.CreateUser(ctx, User{Username: name})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return users, posts, fmt.Errorf("seed user %s: %w", name, err)
		}
		users = append(users, u)

		p, err := s.CreatePost(ctx, Post{AuthorID: u.ID, Content: "Bonjour de " + name})
		if err != nil {
			return users, posts, fmt.Errorf("seed post for %s: %w", name, err)
		}
		posts = append(posts, p)
	}
	return users, posts, nil
}
