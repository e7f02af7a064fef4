package restaurant

import (
	"context"
	"time"
)

// PlaceSearcher finds restaurant candidates around an anchor.
type PlaceSearcher interface {
	SearchNearby(ctx context.Context, anchor Location, radiusMeters int) ([]Candidate, error)
}

// PlaceDetails resolves a place id to its website. An empty string means no website.
type PlaceDetails interface {
	Website(ctx context.Context, placeID string) (string, error)
}

// KVStore is an opaque string-blob store keyed by namespace.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Publisher emits scan events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator issues unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}
