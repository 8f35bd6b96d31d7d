package recovery

import "context"

// Mode says what a successful recovery means for the caller.
type Mode int

const (
	// ModeRetry re-runs the same operation.
	ModeRetry Mode = iota
	// ModeContinue proceeds with default values.
	ModeContinue
)

// Strategy recovers from one kind of error.
type Strategy interface {
	Mode() Mode
	CanRecover(info *ErrorInfo) bool
	Recover(ctx context.Context, info *ErrorInfo) bool
}

// networkRecoveryLimit caps how many times the network strategy accepts the
// same operation.
const networkRecoveryLimit = 3

// NetworkStrategy asks for the operation to be retried. The wait happens in
// Execute's backoff.
type NetworkStrategy struct{}

func (NetworkStrategy) Mode() Mode { return ModeRetry }

func (NetworkStrategy) CanRecover(info *ErrorInfo) bool {
	return info.RetryCount < networkRecoveryLimit
}

func (NetworkStrategy) Recover(ctx context.Context, _ *ErrorInfo) bool {
	return ctx.Err() == nil
}

// ValidationStrategy lets the run continue with defaults.
type ValidationStrategy struct{}

func (ValidationStrategy) Mode() Mode { return ModeContinue }

func (ValidationStrategy) CanRecover(*ErrorInfo) bool { return true }

func (ValidationStrategy) Recover(context.Context, *ErrorInfo) bool { return true }
