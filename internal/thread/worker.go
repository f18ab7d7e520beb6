package thread

import (
	"context"
	"fmt"
)

// WorkerFunc is the body of a worker goroutine. It receives a context
// cancelled on Stop/shutdown, its own role/index, and the worker-side
// Endpoint of its dedicated sub-channel. A WorkerFunc that panics is
// treated as a crash (§4.2 "Crash handling"); a clean return with a non-nil
// error is logged the same way a nonzero exit code would be.
type WorkerFunc func(ctx context.Context, role Role, index int, conn Endpoint) error

// exitInfo describes how a worker goroutine terminated, standing in for the
// "exit code" of an OS-level worker process.
type exitInfo struct {
	role    Role
	index   int
	err     error
	crashed bool
}

// runWorker executes fn to completion, recovering panics into a crash
// exitInfo so the fabric's restart logic has a single termination path.
func runWorker(ctx context.Context, role Role, index int, conn Endpoint, fn WorkerFunc) (info exitInfo) {
	info = exitInfo{role: role, index: index}
	defer func() {
		if r := recover(); r != nil {
			info.crashed = true
			info.err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := fn(ctx, role, index, conn); err != nil {
		info.err = err
		info.crashed = true
	}
	return info
}
