package manager

import (
	"time"
)

const (
	// RequestTTL is how long a request's status stays queryable, and how long
	// its signature is guarded against replays through this service.
	RequestTTL = time.Minute * 15

	// RecordTimeout bounds the best-effort history write after a mint.
	RecordTimeout = time.Second * 5
)
