package service

import "github.com/fjod/go_cart/cart-sync/internal/domain"

type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventNotice       EventKind = "notice"
)

type NoticeLevel string

const (
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, user-facing message. Only failures produce one.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	ItemID  string      `json:"item_id,omitempty"`
}

// Event is delivered to listeners after the controller changed something.
// Events from different goroutines may arrive out of order; View.Version
// tells a listener whether a view is newer than the one it already drew.
type Event struct {
	Kind   EventKind       `json:"kind"`
	View   domain.CartView `json:"view"`
	Notice *Notice         `json:"notice,omitempty"`
}

type Listener func(Event)
