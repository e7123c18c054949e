package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/cache"
	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachingGateway serves full reads from a snapshot cache and drops the
// cached snapshot after every write attempt, successful or not, so a read
// following a write always goes to the backend.
//
// A read only stores its result if no write started or finished while it
// was talking to the backend. Otherwise a read that began before a patch
// could cache the pre-patch cart after the patch invalidated it.
type CachingGateway struct {
	next      Gateway
	cache     cache.SnapshotCache
	sessionID string
	sfg       singleflight.Group // collapses concurrent reads of the same session
	logger    *zap.Logger

	mu  sync.Mutex // orders cache stores against invalidation
	gen uint64
}

var _ FreshReader = (*CachingGateway)(nil)

func NewCachingGateway(next Gateway, snapshots cache.SnapshotCache, sessionID string, logger *zap.Logger) *CachingGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingGateway{
		next:      next,
		cache:     snapshots,
		sessionID: sessionID,
		logger:    logger.Named("gateway.cache"),
	}
}

func (g *CachingGateway) ReadCart(ctx context.Context) (*domain.Snapshot, error) {
	v, err, _ := g.sfg.Do(g.sessionID, func() (interface{}, error) {
		snapshot, err := g.cache.Get(ctx, g.sessionID)
		if err == nil {
			return snapshot, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			g.logger.Warn("cache get failed", zap.Error(err))
		}
		return g.readThrough(ctx)
	})
	if err != nil {
		return nil, err
	}

	return cloneSnapshot(v.(*domain.Snapshot)), nil
}

// ReadCartFresh skips the cache lookup. Reconciliation uses it, since a
// cached snapshot is exactly what it must not trust.
func (g *CachingGateway) ReadCartFresh(ctx context.Context) (*domain.Snapshot, error) {
	v, err, _ := g.sfg.Do("fresh:"+g.sessionID, func() (interface{}, error) {
		return g.readThrough(ctx)
	})
	if err != nil {
		return nil, err
	}

	return cloneSnapshot(v.(*domain.Snapshot)), nil
}

func (g *CachingGateway) readThrough(ctx context.Context) (*domain.Snapshot, error) {
	gen := g.generation()

	snapshot, err := g.next.ReadCart(ctx)
	if err != nil {
		return nil, err
	}

	g.store(ctx, gen, snapshot)
	return snapshot, nil
}

func (g *CachingGateway) PatchQuantity(ctx context.Context, itemID string, quantity int) (*domain.PatchResult, error) {
	g.beginWrite()
	defer g.invalidate()
	return g.next.PatchQuantity(ctx, itemID, quantity)
}

func (g *CachingGateway) DeleteItem(ctx context.Context, itemID string) (*domain.DeleteResult, error) {
	g.beginWrite()
	defer g.invalidate()
	return g.next.DeleteItem(ctx, itemID)
}

func (g *CachingGateway) generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

func (g *CachingGateway) beginWrite() {
	g.mu.Lock()
	g.gen++
	g.mu.Unlock()
}

// store caches snapshot unless the generation moved since the read began.
func (g *CachingGateway) store(ctx context.Context, readGen uint64, snapshot *domain.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != readGen {
		g.logger.Debug("skip caching snapshot read across a write")
		return
	}
	if err := g.cache.Set(ctx, g.sessionID, snapshot); err != nil {
		g.logger.Warn("cache set failed", zap.Error(err))
	}
}

func (g *CachingGateway) invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	if err := g.cache.Delete(ctx, g.sessionID); err != nil {
		g.logger.Warn("cache invalidate failed", zap.Error(err))
	}
}

// cloneSnapshot gives each singleflight caller its own items slice.
func cloneSnapshot(s *domain.Snapshot) *domain.Snapshot {
	out := &domain.Snapshot{
		Items:    make([]domain.LineItem, len(s.Items)),
		Subtotal: s.Subtotal,
	}
	copy(out.Items, s.Items)
	return out
}
