package affinity

import (
	"sort"
	"time"

	"github.com/ibeckermayer/tootrank/internal/types"
)

type total struct {
	score float64
	count int
}

// Aggregate folds interaction records into author and hashtag affinities.
//
//	author score   = sum of weights of records with that author
//	author count   = number of those records
//	hashtag score  = sum of weights of records carrying the tag
//	hashtag count  = number of those records (one per record, however many tags it has)
//
// Records without an author id only feed hashtags; records without tags only
// feed authors. Every returned affinity has LastUpdated = now. Output is
// sorted by key.
func Aggregate(records []types.InteractionRecord, weights Weights, now time.Time) (authors, hashtags []types.Affinity) {
	byAuthor := make(map[string]*total)
	byTag := make(map[string]*total)

	for _, rec := range records {
		w := weights.Of(rec.Action)

		if rec.AuthorAccountID != "" {
			add(byAuthor, rec.AuthorAccountID, w)
		}

		// NormalizeTags de-duplicates, so a record counts once per tag.
		for _, tag := range types.NormalizeTags(rec.Tags) {
			add(byTag, tag, w)
		}
	}

	return toAffinities(byAuthor, now), toAffinities(byTag, now)
}

func add(m map[string]*total, key string, weight float64) {
	t, ok := m[key]
	if !ok {
		t = &total{}
		m[key] = t
	}
	t.score += weight
	t.count++
}

func toAffinities(m map[string]*total, now time.Time) []types.Affinity {
	out := make([]types.Affinity, 0, len(m))
	for key, t := range m {
		out = append(out, types.Affinity{
			Key:              key,
			Score:            t.score,
			InteractionCount: t.count,
			LastUpdated:      now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
