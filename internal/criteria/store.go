package criteria

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/rdscope/rdscope-go/internal/embed"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
)

var cacheBucket = []byte("embeddings")

// ScoredPassage pairs a passage with its cosine similarity to a query.
type ScoredPassage struct {
	Passage models.CriteriaPassage
	Score   float64
}

// Store is the embedded rubric corpus. Built once per run and read-only
// afterwards; concurrent queries are safe.
type Store struct {
	passages []models.CriteriaPassage
	embedder embed.Embedder
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string][]float64 // text hash -> vector, per run
	db    *bolt.DB             // optional cross-run persistence
}

// Build embeds every passage in the corpus and returns a queryable store.
// cachePath, when non-empty, persists embeddings across runs so unchanged
// passages are never re-embedded. Any embedding failure is fatal.
func Build(ctx context.Context, embedder embed.Embedder, passages []models.CriteriaPassage, cachePath string) (*Store, error) {
	s := &Store{
		embedder: embedder,
		logger:   slog.Default().With("component", "criteria"),
		cache:    make(map[string][]float64),
	}

	if cachePath != "" {
		db, err := bolt.Open(cachePath, 0600, nil)
		if err != nil {
			s.logger.Warn("embedding cache unavailable, continuing without", "path", cachePath, "error", err)
		} else {
			s.db = db
			if err := db.Update(func(tx *bolt.Tx) error {
				_, err := tx.CreateBucketIfNotExists(cacheBucket)
				return err
			}); err != nil {
				db.Close()
				s.db = nil
			}
		}
	}

	for _, p := range passages {
		vec, err := s.embedText(ctx, p.Text)
		if err != nil {
			s.Close()
			return nil, rderrors.StoreBuild(err, "failed to embed passage "+p.ID)
		}
		p.Embedding = vec
		s.passages = append(s.passages, p)
	}

	s.logger.Info("criteria store built", "passages", len(s.passages))
	return s, nil
}

// Close releases the embedding cache file, if one is open.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Passages returns the corpus. Callers must not mutate the result.
func (s *Store) Passages() []models.CriteriaPassage {
	return s.passages
}

// Query returns the top k passages most similar to text, descending by
// cosine similarity. An empty store yields an empty result, never an error.
func (s *Store) Query(ctx context.Context, text string, k int) ([]ScoredPassage, error) {
	if len(s.passages) == 0 || k <= 0 {
		return nil, nil
	}

	qvec, err := s.embedText(ctx, text)
	if err != nil {
		return nil, rderrors.NetworkError(err, "failed to embed query")
	}

	scored := make([]ScoredPassage, 0, len(s.passages))
	for _, p := range s.passages {
		scored = append(scored, ScoredPassage{
			Passage: p,
			Score:   cosine(qvec, p.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// embedText resolves a vector for text, consulting the in-memory cache and
// the bbolt cache before calling the embedder.
func (s *Store) embedText(ctx context.Context, text string) ([]float64, error) {
	key := textKey(text)

	s.mu.RLock()
	vec, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return vec, nil
	}

	if s.db != nil {
		var stored []float64
		s.db.View(func(tx *bolt.Tx) error {
			if data := tx.Bucket(cacheBucket).Get([]byte(key)); data != nil {
				if err := json.Unmarshal(data, &stored); err != nil {
					stored = nil
				}
			}
			return nil
		})
		if stored != nil {
			s.mu.Lock()
			s.cache[key] = stored
			s.mu.Unlock()
			return stored, nil
		}
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = vec
	s.mu.Unlock()

	if s.db != nil {
		if data, err := json.Marshal(vec); err == nil {
			s.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(cacheBucket).Put([]byte(key), data)
			})
		}
	}
	return vec, nil
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// cosine computes cosine similarity. Mismatched or zero-magnitude vectors
// score 0.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
