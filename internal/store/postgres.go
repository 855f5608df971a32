package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Bamba9016/vente/internal/retry"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Postgres is the production event store.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects to dsn, retrying until the database answers.
func OpenPostgres(ctx context.Context, dsn string, rc retry.Config, logger zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create pool: %w", err)
	}
	if err := retry.Connect(ctx, rc, "postgres", logger, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgres(pool, logger), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
}

// Pool exposes the pool for migrations.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func (p *Postgres) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, profile_picture FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.ProfilePicture)
	if err != nil {
		return User{}, fmt.Errorf("user %d: %w", id, mapPgError(err))
	}
	return u, nil
}

func (p *Postgres) PostByID(ctx context.Context, id int64) (Post, error) {
	var post Post
	err := p.pool.QueryRow(ctx,
		`SELECT id, author_id, content, created_at FROM posts WHERE id = $1`, id,
	).Scan(&post.ID, &post.AuthorID, &post.Content, &post.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("post %d: %w", id, mapPgError(err))
	}
	return post, nil
}

// toggleLikeSQL deletes the like if present, otherwise inserts it, in one
// statement. Both counts are zero only when a concurrent toggle of the same
// pair changed the row between snapshot and write.
const toggleLikeSQL = `
WITH removed AS (
    DELETE FROM likes WHERE post_id = $1 AND user_id = $2
    RETURNING 1
), added AS (
    INSERT INTO likes (post_id, user_id)
    SELECT $1, $2 WHERE NOT EXISTS (SELECT 1 FROM removed)
    ON CONFLICT (post_id, user_id) DO NOTHING
    RETURNING 1
)
SELECT (SELECT count(*) FROM removed), (SELECT count(*) FROM added)`

// ToggleLike re-derives the toggle until it applies or ctx is done. A lost
// race means a concurrent toggle of the same pair committed.
func (p *Postgres) ToggleLike(ctx context.Context, postID, userID int64) (LikeToggle, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return LikeToggle{}, fmt.Errorf("toggle like post=%d user=%d after %d attempts: %w", postID, userID, attempt-1, err)
		}
		var result LikeToggle
		applied := false
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			var removed, added int
			if err := tx.QueryRow(ctx, toggleLikeSQL, postID, userID).Scan(&removed, &added); err != nil {
				return err
			}
			if removed == 0 && added == 0 {
				return nil
			}
			applied = true
			result.Liked = added == 1
			return tx.QueryRow(ctx,
				`SELECT count(*) FROM likes WHERE post_id = $1`, postID,
			).Scan(&result.LikesCount)
		})
		if err != nil {
			err = mapPgError(err)
			if errors.Is(err, ErrConflict) {
				p.logger.Debug().Int64("post_id", postID).Int64("user_id", userID).Int("attempt", attempt).Msg("like toggle conflict")
				continue
			}
			return LikeToggle{}, fmt.Errorf("toggle like post=%d user=%d: %w", postID, userID, err)
		}
		if applied {
			return result, nil
		}
		p.logger.Debug().Int64("post_id", postID).Int64("user_id", userID).Int("attempt", attempt).Msg("like toggle raced, re-deriving")
	}
}

func (p *Postgres) CountLikes(ctx context.Context, postID int64) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM likes WHERE post_id = $1`, postID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count likes %d: %w", postID, err)
	}
	return n, nil
}

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.PostID, &c.UserID, &c.Content, &c.CreatedAt, &c.ParentID)
	return c, err
}

func (p *Postgres) CreateComment(ctx context.Context, nc NewComment) (Comment, error) {
	if err := validateComment(nc); err != nil {
		return Comment{}, err
	}

	var row pgx.Row
	if nc.ParentID != nil {
		row = p.pool.QueryRow(ctx, `
			INSERT INTO comments (post_id, user_id, content, parent_comment_id)
			SELECT post_id, $2, $3, id FROM comments WHERE id = $1
			RETURNING id, post_id, user_id, content, created_at, parent_comment_id`,
			*nc.ParentID, nc.UserID, nc.Content)
	} else {
		row = p.pool.QueryRow(ctx, `
			INSERT INTO comments (post_id, user_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, post_id, user_id, content, created_at, parent_comment_id`,
			nc.PostID, nc.UserID, nc.Content)
	}

	c, err := scanComment(row)
	if err != nil {
		return Comment{}, fmt.Errorf("create comment: %w", mapPgError(err))
	}
	return c, nil
}

func (p *Postgres) CommentByID(ctx context.Context, id int64) (Comment, error) {
	c, err := scanComment(p.pool.QueryRow(ctx, `
		SELECT id, post_id, user_id, content, created_at, parent_comment_id
		FROM comments WHERE id = $1`, id))
	if err != nil {
		return Comment{}, fmt.Errorf("comment %d: %w", id, mapPgError(err))
	}
	return c, nil
}

func (p *Postgres) CreateMessage(ctx context.Context, nm NewMessage) (Message, error) {
	if err := validateMessage(nm); err != nil {
		return Message{}, err
	}
	var m Message
	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, recipient_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, sender_id, recipient_id, content, timestamp, is_read`,
		nm.SenderID, nm.RecipientID, nm.Content,
	).Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Timestamp, &m.IsRead)
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", mapPgError(err))
	}
	return m, nil
}

func (p *Postgres) MarkConversationRead(ctx context.Context, userID, otherID int64) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE sender_id = $1 AND recipient_id = $2 AND NOT is_read`,
		otherID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) CreateUser(ctx context.Context, u User) (User, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (username, profile_picture) VALUES ($1, $2)
		RETURNING id`, u.Username, u.ProfilePicture,
	).Scan(&u.ID)
	if err != nil {
		return User{}, fmt.Errorf("create user %q: %w", u.Username, mapPgError(err))
	}
	return u, nil
}

func (p *Postgres) CreatePost(ctx context.Context, post Post) (Post, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO posts (author_id, content) VALUES ($1, $2)
		RETURNING id, created_at`, post.AuthorID, post.Content,
	).Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("create post: %w", mapPgError(err))
	}
	return post, nil
}
