package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ibeckermayer/tootrank/internal/types"
)

// LogInteraction appends a record to the interaction log. Records are never
// updated or deleted afterwards.
func (s *Store) LogInteraction(ctx context.Context, rec types.InteractionRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	if !rec.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, rec.Action)
	}

	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, post_id, action, created_at, account_id,
			author_account_id, post_url, tags, view_duration_ms, link_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.PostID, string(rec.Action), toUnix(rec.Timestamp), rec.AccountID,
		rec.AuthorAccountID, rec.PostURL, string(tagsJSON), rec.ViewDuration.Milliseconds(), rec.LinkURL)

	return err
}

// RecentInteractions returns all records with a timestamp at or after since,
// newest first.
func (s *Store) RecentInteractions(ctx context.Context, since time.Time) ([]types.InteractionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, action, created_at, account_id, author_account_id,
			post_url, tags, view_duration_ms, link_url
		FROM interactions
		WHERE created_at >= ?
		ORDER BY created_at DESC, rowid DESC
	`, toUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInteractions(rows)
}

func scanInteractions(rows *sql.Rows) ([]types.InteractionRecord, error) {
	records := []types.InteractionRecord{}
	for rows.Next() {
		var (
			rec                                        types.InteractionRecord
			action                                     string
			createdAt, viewMS                          int64
			postID, accountID, authorID, postURL, link sql.NullString
			tagsJSON                                   sql.NullString
		)

		err := rows.Scan(&rec.ID, &postID, &action, &createdAt, &accountID, &authorID,
			&postURL, &tagsJSON, &viewMS, &link)
		if err != nil {
			return nil, err
		}

		rec.PostID = postID.String
		rec.Action = types.ActionType(action)
		rec.Timestamp = fromUnix(createdAt)
		rec.AccountID = accountID.String
		rec.AuthorAccountID = authorID.String
		rec.PostURL = postURL.String
		rec.ViewDuration = time.Duration(viewMS) * time.Millisecond
		rec.LinkURL = link.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", rec.ID, err)
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}
