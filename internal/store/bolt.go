package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketUsers     = []byte("users")
	bucketUsernames = []byte("usernames")
	bucketPosts     = []byte("posts")
	bucketLikes     = []byte("likes")
	bucketComments  = []byte("comments")
	bucketMessages  = []byte("messages")
)

// Bolt is an embedded event store for single-instance deployments and
// local development. bbolt serializes writers, so every write transaction
// is atomic with respect to every other.
type Bolt struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string, logger zerolog.Logger) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketUsernames, bucketPosts, bucketLikes, bucketComments, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, logger: logger.With().Str("component", "bolt_store").Logger()}, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func likeKey(postID, userID int64) []byte {
	return append(itob(postID), itob(userID)...)
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	raw := b.Get(key)
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func countPrefix(b *bolt.Bucket, prefix []byte) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		n++
	}
	return n
}

func (s *Bolt) UserByID(_ context.Context, id int64) (User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketUsers), itob(id), &u)
	})
	if err != nil {
		return User{}, fmt.Errorf("user %d: %w", id, err)
	}
	return u, nil
}

func (s *Bolt) PostByID(_ context.Context, id int64) (Post, error) {
	var p Post
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketPosts), itob(id), &p)
	})
	if err != nil {
		return Post{}, fmt.Errorf("post %d: %w", id, err)
	}
	return p, nil
}

func (s *Bolt) ToggleLike(_ context.Context, postID, userID int64) (LikeToggle, error) {
	var result LikeToggle
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketPosts).Get(itob(postID)) == nil {
			return fmt.Errorf("post %d: %w", postID, ErrNotFound)
		}
		if tx.Bucket(bucketUsers).Get(itob(userID)) == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}

		likes := tx.Bucket(bucketLikes)
		key := likeKey(postID, userID)
		if likes.Get(key) != nil {
			if err := likes.Delete(key); err != nil {
				return err
			}
			result.Liked = false
		} else {
			stamp, _ := time.Now().UTC().MarshalBinary()
			if err := likes.Put(key, stamp); err != nil {
				return err
			}
			result.Liked = true
		}
		result.LikesCount = countPrefix(likes, itob(postID))
		return nil
	})
	if err != nil {
		return LikeToggle{}, fmt.Errorf("toggle like post=%d user=%d: %w", postID, userID, err)
	}
	return result, nil
}

func (s *Bolt) CountLikes(_ context.Context, postID int64) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = countPrefix(tx.Bucket(bucketLikes), itob(postID))
		return nil
	})
	return n, err
}

func (s *Bolt) CreateComment(_ context.Context, nc NewComment) (Comment, error) {
	if err := validateComment(nc); err != nil {
		return Comment{}, err
	}
	var c Comment
	err := s.db.Update(func(tx *bolt.Tx) error {
		comments := tx.Bucket(bucketComments)
		postID := nc.PostID
		if nc.ParentID != nil {
			var parent Comment
			if err := getJSON(comments, itob(*nc.ParentID), &parent); err != nil {
				return fmt.Errorf("parent comment %d: %w", *nc.ParentID, err)
			}
			postID = parent.PostID
		}
		if tx.Bucket(bucketPosts).Get(itob(postID)) == nil {
			return fmt.Errorf("post %d: %w", postID, ErrNotFound)
		}
		if tx.Bucket(bucketUsers).Get(itob(nc.UserID)) == nil {
			return fmt.Errorf("user %d: %w", nc.UserID, ErrNotFound)
		}

		seq, err := comments.NextSequence()
		if err != nil {
			return err
		}
		c = Comment{
			ID:        int64(seq),
			PostID:    postID,
			UserID:    nc.UserID,
			Content:   nc.Content,
			CreatedAt: time.Now().UTC(),
			ParentID:  nc.ParentID,
		}
		return putJSON(comments, itob(c.ID), c)
	})
	if err != nil {
		return Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return c, nil
}

func (s *Bolt) CommentByID(_ context.Context, id int64) (Comment, error) {
	var c Comment
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketComments), itob(id), &c)
	})
	if err != nil {
		return Comment{}, fmt.Errorf("comment %d: %w", id, err)
	}
	return c, nil
}

func (s *Bolt) CreateMessage(_ context.Context, nm NewMessage) (Message, error) {
	if err := validateMessage(nm); err != nil {
		return Message{}, err
	}
	var m Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		for _, id := range []int64{nm.SenderID, nm.RecipientID} {
			if users.Get(itob(id)) == nil {
				return fmt.Errorf("user %d: %w", id, ErrNotFound)
			}
		}
		messages := tx.Bucket(bucketMessages)
		seq, err := messages.NextSequence()
		if err != nil {
			return err
		}
		m = Message{
			ID:          int64(seq),
			SenderID:    nm.SenderID,
			RecipientID: nm.RecipientID,
			Content:     nm.Content,
			Timestamp:   time.Now().UTC(),
		}
		return putJSON(messages, itob(m.ID), m)
	})
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

func (s *Bolt) MarkConversationRead(_ context.Context, userID, otherID int64) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		var updates []Message
		err := messages.ForEach(func(_, v []byte) error {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.SenderID == otherID && m.RecipientID == userID && !m.IsRead {
				m.IsRead = true
				updates = append(updates, m)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Writes are deferred: bbolt forbids mutating a bucket during ForEach.
		for _, m := range updates {
			if err := putJSON(messages, itob(m.ID), m); err != nil {
				return err
			}
		}
		changed = len(updates)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return changed, nil
}

func (s *Bolt) CreateUser(_ context.Context, u User) (User, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		if names.Get([]byte(u.Username)) != nil {
			return fmt.Errorf("%w: username %q taken", ErrConflict, u.Username)
		}
		users := tx.Bucket(bucketUsers)
		seq, err := users.NextSequence()
		if err != nil {
			return err
		}
		u.ID = int64(seq)
		if err := names.Put([]byte(u.Username), itob(u.ID)); err != nil {
			return err
		}
		return putJSON(users, itob(u.ID), u)
	})
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Bolt) CreatePost(_ context.Context, p Post) (Post, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketUsers).Get(itob(p.AuthorID)) == nil {
			return fmt.Errorf("author %d: %w", p.AuthorID, ErrNotFound)
		}
		posts := tx.Bucket(bucketPosts)
		seq, err := posts.NextSequence()
		if err != nil {
			return err
		}
		p.ID = int64(seq)
		p.CreatedAt = time.Now().UTC()
		return putJSON(posts, itob(p.ID), p)
	})
	if err != nil {
		return Post{}, fmt.Errorf("create post: %w", err)
	}
	return p, nil
}

// Ping reports whether the database is still open.
func (s *Bolt) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
