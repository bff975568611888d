package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Fender1992/cachegpt/internal/apierr"
	"github.com/Fender1992/cachegpt/internal/embedding"
)

const (
	HitExact    = "exact"
	HitSemantic = "semantic"
)

// Result is a cache hit: the entry served and how it was found.
type Result struct {
	Entry      *Entry
	Type       string  // HitExact or HitSemantic
	Similarity float64 // set for semantic hits only
}

// Lookup orchestrates exact-then-semantic cache resolution. Backend and
// embedding failures degrade to a miss; they never fail the request.
type Lookup struct {
	store     Store
	embedder  embedding.Client
	threshold float64
	topK      int
	ttl       time.Duration
}

func NewLookup(store Store, embedder embedding.Client, threshold float64, topK int, ttl time.Duration) *Lookup {
	return &Lookup{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		topK:      topK,
		ttl:       ttl,
	}
}

// Find resolves queryHash/queryText against the owner's cache. A nil Result
// means miss. Every hit bumps the entry's hit counter.
func (l *Lookup) Find(ctx context.Context, userID, queryHash, queryText string) (*Result, error) {
	return l.FindWithThreshold(ctx, userID, queryHash, queryText, l.threshold)
}

// FindWithThreshold is Find with a caller-supplied similarity floor for the
// semantic tier. The exact tier is unaffected.
func (l *Lookup) FindWithThreshold(ctx context.Context, userID, queryHash, queryText string, threshold float64) (*Result, error) {
	entry, err := l.store.GetExact(ctx, userID, queryHash)
	if err == nil {
		l.recordHit(ctx, entry)
		return &Result{Entry: entry, Type: HitExact}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		// Degrade to miss; the upstream call still serves the caller.
		log.Printf("cache: exact lookup failed for user %s: %v", userID, err)
		return nil, nil
	}

	vector, err := l.embedder.Embed(ctx, queryText)
	if err != nil {
		log.Printf("cache: embedding failed, skipping semantic lookup: %v", err)
		return nil, nil
	}

	matches, err := l.store.Search(ctx, userID, vector, threshold, l.topK)
	if err != nil {
		log.Printf("cache: semantic search failed for user %s: %v", userID, err)
		return nil, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}

	best := matches[0]
	l.recordHit(ctx, best.Entry)
	return &Result{Entry: best.Entry, Type: HitSemantic, Similarity: best.Similarity}, nil
}

func (l *Lookup) recordHit(ctx context.Context, entry *Entry) {
	if err := l.store.IncrementHit(ctx, entry.ID); err != nil {
		log.Printf("cache: failed to increment hit count for entry %s: %v", entry.ID, err)
	}
}

// Store writes a fresh entry after a cache miss, embedding the query text
// so the entry is semantic-searchable. Failures are reported as a cache
// backend error; the caller already holds the upstream response and must
// still return it.
func (l *Lookup) Store(ctx context.Context, userID, queryHash, queryText, responseText, model string, tokensUsed int64, cost float64) error {
	vector, err := l.embedder.Embed(ctx, queryText)
	if err != nil {
		return apierr.EmbeddingFailure(err)
	}

	entry := &Entry{
		UserID:       userID,
		QueryHash:    queryHash,
		QueryText:    queryText,
		Embedding:    vector,
		ResponseText: responseText,
		ModelUsed:    model,
		TokensSaved:  tokensUsed,
		CostSaved:    cost,
		ExpiresAt:    time.Now().Add(l.ttl),
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		return apierr.CacheBackend(err)
	}

	return nil
}
