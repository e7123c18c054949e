package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/service"
	"go.uber.org/zap"
)

const (
	eventBuffer       = 64
	keepAliveInterval = 15 * time.Second
)

// Events streams controller events as server-sent events. The current cart
// is sent first so a client can draw without a separate GET.
//
// Events are dropped for a client that cannot keep up; every state event
// carries the whole view, so the next one it receives is complete.
func (h *CartHandler) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	events := make(chan service.Event, eventBuffer)
	unsubscribe := h.controller.Subscribe(func(e service.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial := service.Event{Kind: service.EventStateChanged, View: h.controller.Snapshot()}
	if err := writeEvent(w, initial); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not flushable", zap.Error(err))
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := writeEvent(w, e); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e service.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
	return err
}
