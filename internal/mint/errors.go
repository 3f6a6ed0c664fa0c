package mint

import (
	"errors"
	"fmt"
)

// State is a step of the mint authorization state machine.
type State string

const (
	StateReceived       State = "Received"
	StateUserSigCheck   State = "UserSigCheck"
	StateRiskResolved   State = "RiskResolved"
	StateOracleResigned State = "OracleResigned"
	StateSubmitted      State = "Submitted"
	StateConfirmed      State = "Confirmed"
	StateFailed         State = "Failed"
)

// Reason classifies a failed flow.
type Reason string

const (
	ReasonInvalidSignature Reason = "InvalidSignature"
	ReasonMalformedField   Reason = "MalformedField"
	ReasonRiskTooHigh      Reason = "RiskTooHigh"
	ReasonLedgerRejected   Reason = "LedgerRejected"
	ReasonTimeout          Reason = "Timeout"
	ReasonInternalError    Reason = "InternalError"
)

// Error is the terminal error of a failed flow. State is the last state the
// flow reached before failing. TxHash is set when a transaction was already
// sent.
type Error struct {
	Reason  Reason
	State   State
	Message string
	Field   string
	TxHash  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Reason, e.State, msg, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Reason, e.State, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by reason, so callers can test
// errors.Is(err, &mint.Error{Reason: mint.ReasonTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf returns the failure reason carried by err, or InternalError for
// errors that did not come out of the flow.
func ReasonOf(err error) Reason {
	var flowErr *Error
	if errors.As(err, &flowErr) {
		return flowErr.Reason
	}
	return ReasonInternalError
}
