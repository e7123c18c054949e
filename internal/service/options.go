package service

import (
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/debounce"
	"go.uber.org/zap"
)

const (
	DefaultDebounceDelay = 500 * time.Millisecond
	DefaultCommitTimeout = 10 * time.Second
	DefaultReadTimeout   = 10 * time.Second
)

type Option func(*CartController)

func WithLogger(logger *zap.Logger) Option {
	return func(c *CartController) { c.logger = logger.Named("cart") }
}

func WithMetrics(m Metrics) Option {
	return func(c *CartController) { c.metrics = m }
}

// WithDebounceDelay sets how long an item must stay untouched before its
// quantity is sent.
func WithDebounceDelay(d time.Duration) Option {
	return func(c *CartController) { c.delay = d }
}

func WithCommitTimeout(d time.Duration) Option {
	return func(c *CartController) { c.commitTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *CartController) { c.readTimeout = d }
}

func WithScheduler(s *debounce.Scheduler) Option {
	return func(c *CartController) { c.scheduler = s }
}
