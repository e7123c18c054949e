package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/debounce"
	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/fjod/go_cart/cart-sync/internal/gateway"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrItemNotFound = errors.New("item not found in cart")
	ErrDisposed     = errors.New("cart controller disposed")
)

// CartController owns the local cart for one mounted cart view. Quantity
// changes are applied locally at once and sent to the backend after the item
// has been left alone for the debounce delay. A failed send replaces the whole
// local cart with a fresh read.
//
// All cart state is guarded by mu. Backend calls never run while mu is held,
// and listeners are called outside of it.
type CartController struct {
	gateway       gateway.Gateway
	scheduler     *debounce.Scheduler
	delay         time.Duration
	commitTimeout time.Duration
	readTimeout   time.Duration
	logger        *zap.Logger
	metrics       Metrics

	// ctx is cancelled by Dispose and parents every backend call.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sfg    singleflight.Group // one reconciliation read at a time

	mu       sync.Mutex
	items    map[string]*domain.LineItem
	order    []string
	subtotal decimal.Decimal
	version  uint64
	disposed bool
	// pending holds items whose local quantity is not yet confirmed.
	pending map[string]struct{}
	// inflight holds one channel per item with a quantity commit on the
	// wire; it is closed when the response is in.
	inflight map[string]chan struct{}
	// dirty marks items whose debounce fired while a commit was in flight.
	dirty map[string]struct{}
	// armed holds items with a commit scheduled but not yet started. Unlike
	// the scheduler it still counts a timer that fired and waits for mu.
	armed map[string]struct{}
	// idle is closed whenever pending is empty.
	idle chan struct{}

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64
}

func NewCartController(gw gateway.Gateway, opts ...Option) *CartController {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	c := &CartController{
		gateway:       gw,
		delay:         DefaultDebounceDelay,
		commitTimeout: DefaultCommitTimeout,
		readTimeout:   DefaultReadTimeout,
		logger:        zap.NewNop(),
		metrics:       nopMetrics{},
		ctx:           ctx,
		cancel:        cancel,
		items:         make(map[string]*domain.LineItem),
		subtotal:      decimal.Zero,
		pending:       make(map[string]struct{}),
		inflight:      make(map[string]chan struct{}),
		dirty:         make(map[string]struct{}),
		armed:         make(map[string]struct{}),
		idle:          idle,
		listeners:     make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.scheduler = debounce.NewScheduler()
	}
	return c
}

// Load performs the full read that initialises the cart on mount.
func (c *CartController) Load(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()
	snapshot, err := c.gateway.ReadCart(ctx)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.replaceLocked(snapshot)
	view := c.viewLocked()
	c.mu.Unlock()

	c.logger.Info("cart loaded", zap.Int("items", len(view.Items)), zap.String("subtotal", view.Subtotal.String()))
	c.emit(Event{Kind: EventStateChanged, View: view})
	return nil
}

// ApplyQuantityDelta changes the local quantity of itemID by delta within
// its stock and policy bounds and arms the debounced commit. It reports
// false without error when the press has no effect: already at the floor or
// ceiling, delta 0, or an increment on an item that is out of stock.
func (c *CartController) ApplyQuantityDelta(itemID string, delta int) (bool, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, ErrDisposed
	}
	item, ok := c.items[itemID]
	if !ok {
		c.mu.Unlock()
		return false, ErrItemNotFound
	}

	target := domain.Clamp(domain.AddQuantity(item.Quantity, delta), item.StockAvailable, item.MaxPerOrder)
	if !acceptable(*item, delta, target) {
		c.mu.Unlock()
		c.metrics.QuantityDelta(false)
		return false, nil
	}

	item.Quantity = target
	c.recomputeLocked()
	c.markPendingLocked(itemID)
	c.armed[itemID] = struct{}{}
	c.scheduler.Schedule(itemID, c.delay, func() { c.commitQuantity(itemID) })
	view := c.viewLocked()
	c.mu.Unlock()

	c.metrics.QuantityDelta(true)
	c.emit(Event{Kind: EventStateChanged, View: view})
	return true, nil
}

// acceptable filters presses that must not move the quantity. An item already
// above a ceiling that shrank is only brought down by a decrement, never by an
// increment.
func acceptable(item domain.LineItem, delta, target int) bool {
	switch {
	case delta == 0, target == item.Quantity:
		return false
	case delta > 0:
		return item.StockAvailable > 0 && target > item.Quantity
	default:
		return target < item.Quantity
	}
}

// commitQuantity sends the current local quantity of itemID. It is the
// debounce action and runs on a timer goroutine.
func (c *CartController) commitQuantity(itemID string) {
	c.mu.Lock()
	if _, ok := c.armed[itemID]; !ok {
		// cancelled after the timer fired, or already sent by an earlier run
		c.mu.Unlock()
		return
	}
	delete(c.armed, itemID)
	if c.disposed {
		c.mu.Unlock()
		return
	}
	item, ok := c.items[itemID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, busy := c.inflight[itemID]; busy {
		// picked up when the commit on the wire returns
		c.dirty[itemID] = struct{}{}
		c.mu.Unlock()
		return
	}
	quantity := item.Quantity
	done := make(chan struct{})
	c.inflight[itemID] = done
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.commitTimeout)
	result, err := c.gateway.PatchQuantity(ctx, itemID, quantity)
	cancel()

	c.mu.Lock()
	delete(c.inflight, itemID)
	close(done)
	_, redo := c.dirty[itemID]
	delete(c.dirty, itemID)

	if c.disposed {
		c.mu.Unlock()
		c.metrics.CommitFinished(OutcomeDropped)
		return
	}
	item, ok = c.items[itemID]
	if !ok {
		// removed while on the wire; its delete owns the item now
		c.mu.Unlock()
		c.metrics.CommitFinished(OutcomeDropped)
		return
	}

	if err != nil {
		c.clearPendingLocked(itemID)
		c.mu.Unlock()

		c.metrics.CommitFinished(OutcomeFailure)
		c.logger.Warn("quantity commit failed, reconciling cart",
			zap.String("item_id", itemID),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
		c.recoverFromFailedCommit(itemID)
		return
	}

	if result != nil && result.UpdatedStock != item.StockAvailable {
		c.logger.Debug("stock ceiling updated",
			zap.String("item_id", itemID),
			zap.Int("from", item.StockAvailable),
			zap.Int("to", result.UpdatedStock),
		)
		item.StockAvailable = max(result.UpdatedStock, 0)
	}

	_, stillArmed := c.armed[itemID]
	switch {
	case redo && item.Quantity != quantity:
		c.armed[itemID] = struct{}{}
		go c.commitQuantity(itemID)
	case !stillArmed:
		c.clearPendingLocked(itemID)
	}
	c.version++
	view := c.viewLocked()
	c.mu.Unlock()

	c.metrics.CommitFinished(OutcomeSuccess)
	c.logger.Debug("quantity committed", zap.String("item_id", itemID), zap.Int("quantity", quantity))
	c.emit(Event{Kind: EventStateChanged, View: view})
}

func (c *CartController) recoverFromFailedCommit(itemID string) {
	notice := &Notice{
		Level:   NoticeWarning,
		Message: "We couldn't update the quantity. Your cart has been refreshed.",
		ItemID:  itemID,
	}
	if err := c.reconcile(c.ctx); err != nil {
		if errors.Is(err, ErrDisposed) || c.ctx.Err() != nil {
			return
		}
		notice.Level = NoticeError
		notice.Message = "We couldn't update the quantity or refresh your cart. Please try again."
	}
	c.notify(notice)
}

// RemoveItem drops itemID locally right away and deletes it on the backend
// without debouncing. A failed delete is reported but the item is not put
// back; the next full read corrects the cart.
func (c *CartController) RemoveItem(itemID string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if _, ok := c.items[itemID]; !ok {
		c.mu.Unlock()
		return ErrItemNotFound
	}

	c.scheduler.Cancel(itemID)
	delete(c.armed, itemID)
	delete(c.items, itemID)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == itemID })
	delete(c.dirty, itemID)
	c.clearPendingLocked(itemID)
	c.recomputeLocked()
	inflight := c.inflight[itemID]
	view := c.viewLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.emit(Event{Kind: EventStateChanged, View: view})
	go c.deleteRemote(itemID, inflight)
	return nil
}

// deleteRemote waits for a quantity commit of the same item that is still on
// the wire so the backend never sees a patch after the delete.
func (c *CartController) deleteRemote(itemID string, inflight <-chan struct{}) {
	defer c.wg.Done()

	if inflight != nil {
		select {
		case <-inflight:
		case <-c.ctx.Done():
			c.metrics.DeleteFinished(OutcomeDropped)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.commitTimeout)
	defer cancel()
	_, err := c.gateway.DeleteItem(ctx, itemID)
	if err != nil {
		if c.ctx.Err() != nil {
			c.metrics.DeleteFinished(OutcomeDropped)
			return
		}
		c.metrics.DeleteFinished(OutcomeFailure)
		c.logger.Warn("item delete failed", zap.String("item_id", itemID), zap.Error(err))
		c.notify(&Notice{
			Level:   NoticeError,
			Message: "We couldn't remove the item from your cart. Please try again.",
			ItemID:  itemID,
		})
		return
	}

	c.metrics.DeleteFinished(OutcomeSuccess)
	c.logger.Debug("item deleted", zap.String("item_id", itemID))
}

// Refresh discards local state and replaces it with a fresh full read.
func (c *CartController) Refresh(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return c.reconcile(ctx)
}

// reconcile replaces the whole cart with the backend's. Concurrent callers
// share one read, which runs on the controller's own context so a caller
// giving up does not fail it for the others. When the read fails local state
// is kept as is.
func (c *CartController) reconcile(ctx context.Context) error {
	ch := c.sfg.DoChan("reconcile", c.readAndReplace)
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CartController) readAndReplace() (interface{}, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.readTimeout)
	defer cancel()
	snapshot, err := c.readFresh(ctx)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if err != nil {
		c.mu.Unlock()
		c.metrics.Reconciled(OutcomeFailure)
		c.logger.Error("cart reconciliation failed", zap.Error(err))
		return nil, fmt.Errorf("reconcile cart: %w", err)
	}
	c.replaceLocked(snapshot)
	view := c.viewLocked()
	c.mu.Unlock()

	c.metrics.Reconciled(OutcomeSuccess)
	c.logger.Info("cart reconciled", zap.Int("items", len(view.Items)))
	c.emit(Event{Kind: EventStateChanged, View: view})
	return nil, nil
}

// readFresh bypasses any read cache in front of the backend.
func (c *CartController) readFresh(ctx context.Context) (*domain.Snapshot, error) {
	if fr, ok := c.gateway.(gateway.FreshReader); ok {
		return fr.ReadCartFresh(ctx)
	}
	return c.gateway.ReadCart(ctx)
}

// Flush sends every debounced quantity now and waits until no item is
// pending, e.g. before leaving the cart for checkout.
func (c *CartController) Flush(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	if n := c.scheduler.FlushAll(); n > 0 {
		c.logger.Debug("flushed debounced commits", zap.Int("count", n))
	}

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrDisposed
		}
	}
}

// Snapshot returns the current cart as the presentation layer should draw it.
func (c *CartController) Snapshot() domain.CartView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Subscribe registers l for every event until the returned function is called.
func (c *CartController) Subscribe(l Listener) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// Dispose tears the controller down: armed commits are discarded, calls on
// the wire are cancelled and their results ignored. It blocks until every
// background goroutine has returned. Calling it again is a no-op.
func (c *CartController) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	discarded := c.scheduler.CancelAll()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.listenersMu.Lock()
	clear(c.listeners)
	c.listenersMu.Unlock()

	c.logger.Info("cart controller disposed", zap.Int("discarded_commits", discarded))
}

func (c *CartController) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// replaceLocked installs snapshot as the whole local cart. Armed commits and
// pending marks belong to the state being thrown away.
func (c *CartController) replaceLocked(snapshot *domain.Snapshot) {
	c.scheduler.CancelAll()
	clear(c.armed)
	clear(c.dirty)

	c.items = make(map[string]*domain.LineItem, len(snapshot.Items))
	c.order = c.order[:0]
	for _, item := range snapshot.Items {
		if _, dup := c.items[item.ItemID]; dup {
			continue
		}
		c.items[item.ItemID] = &item
		c.order = append(c.order, item.ItemID)
	}
	c.clearAllPendingLocked()
	c.recomputeLocked()

	if !snapshot.Subtotal.IsZero() && !snapshot.Subtotal.Equal(c.subtotal) {
		c.logger.Debug("backend subtotal differs from computed subtotal",
			zap.String("backend", snapshot.Subtotal.String()),
			zap.String("computed", c.subtotal.String()),
		)
	}
}

// recomputeLocked must follow every local mutation of items.
func (c *CartController) recomputeLocked() {
	items := make([]domain.LineItem, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, *c.items[id])
	}
	c.subtotal = domain.Subtotal(items)
	c.version++
}

func (c *CartController) markPendingLocked(itemID string) {
	if len(c.pending) == 0 {
		c.idle = make(chan struct{})
	}
	c.pending[itemID] = struct{}{}
	c.metrics.SetPending(len(c.pending))
}

func (c *CartController) clearPendingLocked(itemID string) {
	if _, ok := c.pending[itemID]; !ok {
		return
	}
	delete(c.pending, itemID)
	if len(c.pending) == 0 {
		close(c.idle)
	}
	c.metrics.SetPending(len(c.pending))
}

func (c *CartController) clearAllPendingLocked() {
	if len(c.pending) == 0 {
		return
	}
	clear(c.pending)
	close(c.idle)
	c.metrics.SetPending(0)
}

func (c *CartController) viewLocked() domain.CartView {
	view := domain.CartView{
		Items:    make([]domain.ItemView, 0, len(c.order)),
		Subtotal: c.subtotal,
		Pending:  len(c.pending),
		Version:  c.version,
	}
	for _, id := range c.order {
		_, pending := c.pending[id]
		view.Items = append(view.Items, domain.NewItemView(*c.items[id], pending))
	}
	return view
}

func (c *CartController) notify(notice *Notice) {
	c.emit(Event{Kind: EventNotice, View: c.Snapshot(), Notice: notice})
}

func (c *CartController) emit(e Event) {
	c.listenersMu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}
