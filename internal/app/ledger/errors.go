package ledger

import "fmt"

// ErrorKind classifies ledger failures so callers can decide on retry.
type ErrorKind string

const (
	// KindInsufficientBalance means the sender token account cannot cover
	// the transfer. Not retryable.
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	// KindInvalidAccount means the recipient address or a derived token
	// account is malformed. Not retryable.
	KindInvalidAccount ErrorKind = "invalid_account"
	// KindRPCTimeout means the RPC call timed out. Retryable, but only
	// after a signature-status query rules out an accepted submission.
	KindRPCTimeout ErrorKind = "rpc_timeout"
	// KindAccountResolution means creating or resolving an associated
	// token account failed; no transfer was attempted.
	KindAccountResolution ErrorKind = "account_resolution_failed"
	// KindSubmission covers other ledger rejections of the transfer.
	KindSubmission ErrorKind = "submission_failed"
)

// Error is the ledger failure type surfaced by the transfer service.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Only RPC timeouts
// qualify; everything else is surfaced immediately.
func (e *Error) Retryable() bool { return e.Kind == KindRPCTimeout }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
