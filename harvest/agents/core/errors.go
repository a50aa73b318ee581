package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAgentExecution covers every way a run can fail to produce output.
	ErrAgentExecution = errors.New("agent execution failed")
	// ErrCancelled means the run was stopped from outside; no result exists.
	ErrCancelled = errors.New("agent run cancelled")
	// ErrShapeMismatch is returned under the strict output policy.
	ErrShapeMismatch = fmt.Errorf("%w: output does not match the protocol shape", ErrAgentExecution)
)

// contextError classifies a finished context. A passed deadline is an
// execution failure; any other cancellation is ErrCancelled carrying the cause.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrAgentExecution, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
