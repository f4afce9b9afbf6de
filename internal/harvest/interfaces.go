package harvest

import (
	"context"
	"io"
	"time"
)

// ItemFetcher resolves one identifier into an Outcome. Implementations must
// be safe for concurrent calls with distinct identifiers and must not write
// output on their own.
type ItemFetcher interface {
	Fetch(ctx context.Context, id string) Outcome
}

// FetcherFunc adapts a function to ItemFetcher.
type FetcherFunc func(ctx context.Context, id string) Outcome

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, id string) Outcome {
	return f(ctx, id)
}

// Ledger is a durable, append-only set of resolved identifiers.
type Ledger interface {
	// Load returns every recorded identifier. Missing storage yields an empty set.
	Load(ctx context.Context) (map[string]struct{}, error)
	// Append durably records id before returning.
	Append(ctx context.Context, id string) error
	Close() error
}

// BlobStore writes records and assets and reports what already exists.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	// ReadObject returns the stored content of path. A missing object is
	// reported with an error wrapping ErrNotFound.
	ReadObject(ctx context.Context, path string) ([]byte, error)
}

// Downloader fetches binary asset content.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Publisher pushes resolution events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for asset integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
