package domain

// Attempt outcomes recorded for the metrics collaborator.
const (
	OutcomeSuccess    = "success"
	OutcomeTransient  = "transient_error"
	OutcomeFatal      = "fatal_error"
	OutcomeReconciled = "reconciled"
	OutcomeExhausted  = "exhausted"
)

// AttemptRecord describes one attempt of a retried operation.
// Records are fire-and-forget: emitting one must never block or fail
// the retry path.
type AttemptRecord struct {
	IdempotencyKey string
	Attempt        int // 1-based
	StartedUnixM   int64
	Outcome        string
	Error          string // empty on success
}
