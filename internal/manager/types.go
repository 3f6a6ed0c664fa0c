package manager

import (
	"sync"
	"time"

	"mantleforge/internal/mint"
)

/*
JSON equivalent:

	{
		requestId: string
		state: string
		reason?: string
		message?: string
		transactionId?: string
		updatedAt: string
	}
*/
type Status struct {
	RequestID     string      `json:"requestId"`
	State         mint.State  `json:"state"`
	Reason        mint.Reason `json:"reason,omitempty"`
	Message       string      `json:"message,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// RequestEntry tracks one mint request while it is in flight and for
// RequestTTL afterwards.
type RequestEntry struct {
	RequestID    string
	SignatureKey string
	UserAddress  string

	mu     sync.Mutex
	status Status
	result *mint.Result
}

func newRequestEntry(req mint.Request, sigKey string) *RequestEntry {
	return &RequestEntry{
		RequestID:    req.RequestID,
		SignatureKey: sigKey,
		UserAddress:  req.UserAddress,
		status: Status{
			RequestID: req.RequestID,
			State:     mint.StateReceived,
			UpdatedAt: time.Now().UTC(),
		},
	}
}

func (e *RequestEntry) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *RequestEntry) Result() *mint.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

func (e *RequestEntry) apply(t mint.Transition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// terminal states are final
	if e.status.State == mint.StateConfirmed || e.status.State == mint.StateFailed {
		return
	}
	e.status.State = t.To
	e.status.Reason = t.Reason
	if t.TxHash != "" {
		e.status.TransactionID = t.TxHash
	}
	e.status.UpdatedAt = t.At.UTC()
}

func (e *RequestEntry) complete(res *mint.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.result = res
	e.status.State = mint.StateConfirmed
	e.status.TransactionID = res.TransactionID
	e.status.UpdatedAt = time.Now().UTC()
}

func (e *RequestEntry) fail(flowErr *mint.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.State = mint.StateFailed
	e.status.Reason = flowErr.Reason
	e.status.Message = flowErr.Message
	if flowErr.TxHash != "" {
		e.status.TransactionID = flowErr.TxHash
	}
	e.status.UpdatedAt = time.Now().UTC()
}
