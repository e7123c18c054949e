package service

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	// OutcomeDropped is a response for an item that was removed, or a
	// controller that was disposed, while the request was in flight.
	OutcomeDropped = "dropped"
)

// Metrics receives controller activity. Implementations must be safe for
// concurrent use.
type Metrics interface {
	QuantityDelta(applied bool)
	CommitFinished(outcome string)
	Reconciled(outcome string)
	DeleteFinished(outcome string)
	SetPending(n int)
}

type nopMetrics struct{}

func (nopMetrics) QuantityDelta(bool)    {}
func (nopMetrics) CommitFinished(string) {}
func (nopMetrics) Reconciled(string)     {}
func (nopMetrics) DeleteFinished(string) {}
func (nopMetrics) SetPending(int)        {}
