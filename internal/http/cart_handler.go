package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/fjod/go_cart/cart-sync/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxDelta bounds a single stepper request, mirroring the 1..99 quantity range.
const maxDelta = 99

// CartController is the part of service.CartController the handlers drive.
type CartController interface {
	ApplyQuantityDelta(itemID string, delta int) (bool, error)
	RemoveItem(itemID string) error
	Refresh(ctx context.Context) error
	Flush(ctx context.Context) error
	Snapshot() domain.CartView
	Subscribe(l service.Listener) (unsubscribe func())
}

type CartHandler struct {
	controller CartController
	timeout    time.Duration
	logger     *zap.Logger
}

func NewCartHandler(controller CartController, timeout time.Duration, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		controller: controller,
		timeout:    timeout,
		logger:     logger.Named("http"),
	}
}

type DeltaRequestDTO struct {
	Delta int `json:"delta"`
}

type DeltaResponseDTO struct {
	Applied bool            `json:"applied"`
	Cart    domain.CartView `json:"cart"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

// ApplyDelta is one stepper press. A press that cannot move the quantity is
// not an error: the response says applied=false and carries the unchanged cart.
func (h *CartHandler) ApplyDelta(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id is required")
		return
	}

	var req DeltaRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Delta == 0 || req.Delta > maxDelta || req.Delta < -maxDelta {
		h.respondError(w, http.StatusBadRequest, "invalid_delta", "delta must be non-zero and between -99 and 99")
		return
	}

	applied, err := h.controller.ApplyQuantityDelta(itemID, req.Delta)
	if err != nil {
		h.handleControllerError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, DeltaResponseDTO{
		Applied: applied,
		Cart:    h.controller.Snapshot(),
	})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id is required")
		return
	}

	if err := h.controller.RemoveItem(itemID); err != nil {
		h.handleControllerError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.controller.Refresh(ctx); err != nil {
		h.handleControllerError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

// Flush pushes every debounced quantity to the backend, e.g. before checkout.
func (h *CartHandler) Flush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.controller.Flush(ctx); err != nil {
		h.handleControllerError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *CartHandler) handleControllerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrItemNotFound):
		h.respondError(w, http.StatusNotFound, "item_not_found", "item is not in the cart")
	case errors.Is(err, service.ErrDisposed):
		h.respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusGatewayTimeout, "timeout", "cart backend did not answer in time")
	default:
		h.logger.Error("cart request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadGateway, "backend_unavailable", "cart backend is unavailable")
	}
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
