// Package cache stores the last full cart read per session.
package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
)

// ErrCacheMiss means nothing is stored for the session, or it expired.
var ErrCacheMiss = errors.New("cart snapshot not cached")

type SnapshotCache interface {
	Get(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	Set(ctx context.Context, sessionID string, snapshot *domain.Snapshot) error
	Delete(ctx context.Context, sessionID string) error
}
