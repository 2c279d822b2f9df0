package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibeckermayer/tootrank/internal/types"
)

// affinityTable maps an affinity kind to its table and key column.
func affinityTable(kind types.AffinityKind) (table, key string, err error) {
	switch kind {
	case types.AffinityAuthor:
		return "author_affinity", "author_id", nil
	case types.AffinityHashtag:
		return "hashtag_affinity", "tag", nil
	default:
		return "", "", fmt.Errorf("unknown affinity kind %q", kind)
	}
}

// UpsertAffinities overwrites score, interaction count and last-updated time
// for each key, creating records that do not exist yet.
func (s *Store) UpsertAffinities(ctx context.Context, kind types.AffinityKind, affinities []types.Affinity) error {
	table, key, err := affinityTable(kind)
	if err != nil {
		return err
	}
	if len(affinities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, score, interaction_count, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(%[2]s) DO UPDATE SET
			score = excluded.score,
			interaction_count = excluded.interaction_count,
			last_updated = excluded.last_updated
	`, table, key))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range affinities {
		if _, err := stmt.ExecContext(ctx, a.Key, a.Score, a.InteractionCount, toUnix(a.LastUpdated)); err != nil {
			return fmt.Errorf("failed to upsert %s affinity %q: %w", kind, a.Key, err)
		}
	}

	return tx.Commit()
}

// TopAffinities returns affinities of the given kind ordered by score
// descending. A limit <= 0 returns all of them.
func (s *Store) TopAffinities(ctx context.Context, kind types.AffinityKind, limit int) ([]types.Affinity, error) {
	table, key, err := affinityTable(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, score, interaction_count, last_updated
		FROM %s
		ORDER BY score DESC
		LIMIT ?
	`, key, table), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	affinities := []types.Affinity{}
	for rows.Next() {
		a, err := scanAffinity(rows)
		if err != nil {
			return nil, err
		}
		affinities = append(affinities, a)
	}
	return affinities, rows.Err()
}

// Affinity looks up a single affinity. The boolean is false when no record
// exists for key.
func (s *Store) Affinity(ctx context.Context, kind types.AffinityKind, k string) (types.Affinity, bool, error) {
	table, key, err := affinityTable(kind)
	if err != nil {
		return types.Affinity{}, false, err
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %[1]s, score, interaction_count, last_updated
		FROM %[2]s
		WHERE %[1]s = ?
	`, key, table), k)

	a, err := scanAffinity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Affinity{}, false, nil
	}
	if err != nil {
		return types.Affinity{}, false, err
	}
	return a, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAffinity(row scanner) (types.Affinity, error) {
	var (
		a           types.Affinity
		lastUpdated int64
	)
	if err := row.Scan(&a.Key, &a.Score, &a.InteractionCount, &lastUpdated); err != nil {
		return types.Affinity{}, err
	}
	a.LastUpdated = fromUnix(lastUpdated)
	return a, nil
}
