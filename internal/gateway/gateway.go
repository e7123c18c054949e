// Package gateway talks to the cart backend.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
)

// Gateway is the request/response boundary to the authoritative cart.
// Any returned error means the operation did not take effect.
type Gateway interface {
	ReadCart(ctx context.Context) (*domain.Snapshot, error)
	// PatchQuantity sets (not adds) the quantity of itemID, so repeating it is harmless.
	// The result carries the current stock ceiling even on success.
	PatchQuantity(ctx context.Context, itemID string, quantity int) (*domain.PatchResult, error)
	DeleteItem(ctx context.Context, itemID string) (*domain.DeleteResult, error)
}

// FreshReader is implemented by gateways that may answer ReadCart from a
// cache. ReadCartFresh always asks the backend.
type FreshReader interface {
	ReadCartFresh(ctx context.Context) (*domain.Snapshot, error)
}

var (
	// ErrRejected is returned when the backend answered but reported success=false.
	ErrRejected = errors.New("cart backend rejected the request")
	// ErrMalformed is returned when a response cannot be understood.
	ErrMalformed = errors.New("malformed cart backend response")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("cart backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("cart backend returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == 429
}
