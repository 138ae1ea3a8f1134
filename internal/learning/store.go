package learning

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrSyncFailed wraps store push failures. Callers log it and move
	// on; it never aborts the command that produced the record.
	ErrSyncFailed = errors.New("learning store sync failed")

	// ErrInvalidConfig indicates an unusable store configuration.
	ErrInvalidConfig = errors.New("invalid learning store configuration")

	// ErrStoreClosed indicates use after Close.
	ErrStoreClosed = errors.New("learning store is closed")
)

// Store is the opaque persistence boundary. Implementations must make
// Push idempotent by record id: pushing the same operation twice leaves
// one stored copy.
type Store interface {
	Push(ctx context.Context, rec Record) error
	PushBatch(ctx context.Context, recs []Record) error

	// Pull retrieves up to k records under tag ranked by similarity to
	// query.
	Pull(ctx context.Context, tag, query string, k int) ([]Record, error)

	// Count reports how many records are filed under tag.
	Count(ctx context.Context, tag string) (int, error)

	Close() error
}

var collectionNamePattern = regexp.MustCompile(`[^a-z0-9_]+`)

// collectionName maps a tag onto a name both backends accept
// (lowercase, digits, underscores, max 64). Distinct tags may collide
// after sanitizing; tags are operator-chosen, so keep them simple.
func collectionName(tag string) string {
	name := strings.ToLower(strings.TrimSpace(tag))
	name = collectionNamePattern.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "default"
	}
	name = "agentjj_" + name
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
