package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ibeckermayer/tootrank/internal/types"
)

// SavePosts inserts or updates candidate posts. Reblog envelopes are stored
// as the post they wrap.
func (s *Store) SavePosts(ctx context.Context, posts []types.Post) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := toUnix(time.Now())
	for i := range posts {
		p := posts[i].Target()
		if p.ID == "" {
			continue
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal post %s: %w", p.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO posts (id, author_id, created_at, data, cached_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				data = excluded.data,
				cached_at = excluded.cached_at
		`, p.ID, p.Account.ID, toUnix(p.CreatedAt), string(data), now)
		if err != nil {
			return fmt.Errorf("failed to save post %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// RecentPosts returns candidate posts created at or after since, newest first.
func (s *Store) RecentPosts(ctx context.Context, since time.Time) ([]types.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data
		FROM posts
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, toUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []types.Post{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var p types.Post
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// PrunePosts deletes candidate posts created before the cutoff and returns how
// many were removed.
func (s *Store) PrunePosts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE created_at < ?`, toUnix(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
