// Package cache implements the two-tier response cache: exact lookup on a
// deterministic request hash, then nearest-neighbor similarity search over
// embedding vectors. Entries are owned per user and expire 24h after write.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/Fender1992/cachegpt/internal/provider"
)

var ErrNotFound = errors.New("cache entry not found")

type Entry struct {
	ID           string
	UserID       string
	QueryHash    string
	QueryText    string
	Embedding    []float32
	ResponseText string
	ModelUsed    string
	TokensSaved  int64
	CostSaved    float64
	HitCount     int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Match is a semantic-search candidate with its cosine similarity to the
// query embedding.
type Match struct {
	Entry      *Entry
	Similarity float64
}

type Store interface {
	// GetExact returns the unique live entry for (owner, hash).
	// Expired entries are not served.
	GetExact(ctx context.Context, userID, queryHash string) (*Entry, error)

	// Search returns live entries for the owner whose embedding similarity
	// meets threshold, ordered by similarity descending; equal similarity
	// ranks the earliest-created entry first.
	Search(ctx context.Context, userID string, embedding []float32, threshold float64, topK int) ([]Match, error)

	Insert(ctx context.Context, entry *Entry) error

	// IncrementHit bumps hit_count by one atomically at the storage layer,
	// so concurrent hits never lose updates.
	IncrementHit(ctx context.Context, entryID string) error
}

// ComputeKey derives the deterministic cache key for a request: messages in
// order, object keys sorted, SHA-256 over the canonical JSON.
func ComputeKey(messages []provider.Message, model string) string {
	canonical := canonicalRequest(messages, model)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// CanonicalText is the text embedded for semantic matching: the canonical
// JSON rendering of the message list.
func CanonicalText(messages []provider.Message) string {
	b, _ := json.Marshal(messagesAsMaps(messages))
	return string(b)
}

func canonicalRequest(messages []provider.Message, model string) []byte {
	// Maps marshal with keys sorted, which keeps the hash stable across
	// field reordering in the wire request.
	b, _ := json.Marshal(map[string]any{
		"messages": messagesAsMaps(messages),
		"model":    model,
	})
	return b
}

func messagesAsMaps(messages []provider.Message) []map[string]string {
	out := make([]map[string]string, len(messages))
	for i, m := range messages {
		out[i] = map[string]string{"role": m.Role, "content": m.Content}
	}
	return out
}
