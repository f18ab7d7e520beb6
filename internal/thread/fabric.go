package thread

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btc-vision/opnet-node/pkg/logging"
)

const (
	// DefaultTimeout is the default 30s request/response correlation
	// window used by Execute (§4.2, §5).
	DefaultTimeout = 30 * time.Second
	// restartBackoff is the fixed delay before a crashed worker is
	// respawned (§3 "WorkerHandle", Dead -> Spawning).
	restartBackoff = 1 * time.Second
	// spawnStagger staggers worker creation to avoid a thundering herd on
	// shared dependencies (§4.2 "spawn(n)").
	spawnStagger = 200 * time.Millisecond
)

// Fabric manages the population of workers for a single declared role.
type Fabric struct {
	role       Role
	parentCtx  context.Context
	factory    func() WorkerFunc
	bufferSize int
	logger     *logrus.Entry

	mu      sync.Mutex
	workers []*WorkerHandle
	rrIndex int
	closed  bool

	pendingMu sync.Mutex
	pending   map[string]chan Envelope

	bus *Bus

	onCrash       func(index int, err error)
	onUnsolicited func(index int, msg Envelope)
}

// OnCrash registers fn to be called whenever a worker terminates abnormally,
// before its replacement is spawned (§4.9 "Crash propagation"). Only one
// handler is supported; a later call replaces an earlier one.
func (f *Fabric) OnCrash(fn func(index int, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCrash = fn
}

// OnUnsolicited registers fn to be called for every envelope a worker sends
// that is neither a ThreadResponse nor a LinkThreadRequest, e.g. a plugin
// worker's SyncStateUpdate push (§4.2 note on "onSyncStateUpdate").
func (f *Fabric) OnUnsolicited(fn func(index int, msg Envelope)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUnsolicited = fn
}

// NewFabric creates a fabric for role. factory is invoked once per spawned
// worker and must return the WorkerFunc that worker will run; this allows
// per-worker closures (e.g. distinct RNG seeds) while sharing one factory.
func NewFabric(ctx context.Context, role Role, bufferSize int, factory func() WorkerFunc) *Fabric {
	return &Fabric{
		role:       role,
		parentCtx:  ctx,
		factory:    factory,
		bufferSize: bufferSize,
		logger:     logging.For("thread-fabric").WithField("role", role),
		pending:    make(map[string]chan Envelope),
	}
}

// Spawn creates n workers, staggered to reduce thundering-herd on shared
// dependencies (§4.2 "spawn(n)").
func (f *Fabric) Spawn(n int) {
	f.mu.Lock()
	base := len(f.workers)
	f.workers = append(f.workers, make([]*WorkerHandle, n)...)
	f.mu.Unlock()

	for i := 0; i < n; i++ {
		index := base + i
		delay := time.Duration(i) * spawnStagger
		if delay == 0 {
			f.spawnOne(index)
			continue
		}
		time.AfterFunc(delay, func() { f.spawnOne(index) })
	}
}

func (f *Fabric) spawnOne(index int) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	fabricSide, workerSide := NewChannelPair(f.bufferSize)
	handle := newWorkerHandle(f.parentCtx, f.role, index, fabricSide)
	for len(f.workers) <= index {
		f.workers = append(f.workers, nil)
	}
	f.workers[index] = handle
	f.mu.Unlock()

	go f.dispatchLoop(handle)
	go func() {
		handle.setState(StateOnline)
		// Models the parent sending SetMessagePort: the worker already
		// owns its endpoint directly since it crosses in-process, but the
		// handshake envelope is still observed for protocol parity.
		handle.conn.TrySend(Envelope{Kind: KindSetMessagePort})
		info := runWorker(handle.ctx, f.role, index, workerSide, f.factory())
		f.onWorkerExit(handle, info)
	}()
}

func (f *Fabric) dispatchLoop(handle *WorkerHandle) {
	for {
		select {
		case <-handle.ctx.Done():
			return
		case msg, ok := <-handle.conn.Recv():
			if !ok {
				return
			}
			f.handleIncoming(handle, msg)
		}
	}
}

func (f *Fabric) handleIncoming(handle *WorkerHandle, msg Envelope) {
	switch msg.Kind {
	case KindThreadResponse:
		f.resolvePending(msg.TaskID, msg)
	case KindLinkThreadRequest:
		if f.bus != nil {
			f.bus.handleLinkRequest(handle, msg)
		}
	default:
		f.mu.Lock()
		handler := f.onUnsolicited
		f.mu.Unlock()
		if handler != nil {
			handler(handle.Index, msg)
			return
		}
		f.logger.WithFields(logrus.Fields{"kind": msg.Kind, "index": handle.Index}).
			Debug("unhandled envelope kind from worker")
	}
}

func (f *Fabric) onWorkerExit(handle *WorkerHandle, info exitInfo) {
	handle.setState(StateDead)
	handle.cancel()
	close(handle.done)

	entry := f.logger.WithFields(logrus.Fields{"index": handle.Index})
	if info.crashed {
		entry.WithError(info.err).Warn("worker crashed, scheduling restart")
	} else {
		entry.Info("worker exited")
	}

	f.mu.Lock()
	closed := f.closed
	crashHandler := f.onCrash
	f.mu.Unlock()
	if info.crashed && crashHandler != nil {
		crashHandler(handle.Index, info.err)
	}
	if closed {
		return
	}
	time.AfterFunc(restartBackoff, func() { f.spawnOne(handle.Index) })
}

// liveWorkers returns the currently Online workers, used for round-robin
// dispatch. Dead/Spawning/Draining workers are excluded.
func (f *Fabric) liveWorkers() []*WorkerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := make([]*WorkerHandle, 0, len(f.workers))
	for _, w := range f.workers {
		if w != nil && w.State() == StateOnline {
			live = append(live, w)
		}
	}
	return live
}

func (f *Fabric) pickWorker() (*WorkerHandle, bool) {
	live := f.liveWorkers()
	if len(live) == 0 {
		return nil, false
	}
	f.mu.Lock()
	idx := f.rrIndex % len(live)
	f.rrIndex++
	f.mu.Unlock()
	return live[idx], true
}

func (f *Fabric) registerPending(taskID string) chan Envelope {
	ch := make(chan Envelope, 1)
	f.pendingMu.Lock()
	f.pending[taskID] = ch
	f.pendingMu.Unlock()
	return ch
}

func (f *Fabric) unregisterPending(taskID string) {
	f.pendingMu.Lock()
	delete(f.pending, taskID)
	f.pendingMu.Unlock()
}

func (f *Fabric) resolvePending(taskID string, msg Envelope) {
	f.pendingMu.Lock()
	ch, ok := f.pending[taskID]
	f.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// Execute round-robins to the next live worker, assigns a fresh task id,
// delivers msg, and blocks until a matching ThreadResponse arrives or
// DefaultTimeout elapses (§4.2 "execute(msg) -> Result").
func (f *Fabric) Execute(msg Envelope) Envelope {
	return f.ExecuteTimeout(msg, DefaultTimeout)
}

// ExecuteTimeout is Execute with an explicit timeout.
func (f *Fabric) ExecuteTimeout(msg Envelope, timeout time.Duration) Envelope {
	handle, ok := f.pickWorker()
	if !ok {
		return Envelope{Kind: KindThreadResponse, Payload: ErrorResult{Error: true, Cause: "no live workers"}}
	}

	taskID := NewTaskID()
	msg.TaskID = taskID
	resultCh := f.registerPending(taskID)
	defer f.unregisterPending(taskID)

	handle.Send(msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-resultCh:
		return resp
	case <-timer.C:
		return Envelope{Kind: KindThreadResponse, TaskID: taskID, Payload: ErrorResult{Error: true, Cause: "timeout"}}
	}
}

// ExecuteOn targets a specific worker index rather than round-robining,
// used by the plugin worker pool to route load/unload requests to the
// worker chosen by its own least-loaded policy (§4.9).
func (f *Fabric) ExecuteOn(index int, msg Envelope, timeout time.Duration) (Envelope, error) {
	f.mu.Lock()
	var handle *WorkerHandle
	if index >= 0 && index < len(f.workers) {
		handle = f.workers[index]
	}
	f.mu.Unlock()
	if handle == nil || handle.State() != StateOnline {
		return Envelope{}, errors.New("target worker not online")
	}

	taskID := NewTaskID()
	msg.TaskID = taskID
	resultCh := f.registerPending(taskID)
	defer f.unregisterPending(taskID)

	handle.Send(msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-resultCh:
		return resp, nil
	case <-timer.C:
		return Envelope{Kind: KindThreadResponse, TaskID: taskID, Payload: ErrorResult{Error: true, Cause: "timeout"}}, nil
	}
}

// ExecuteNoResp is the fire-and-forget variant; a task id is still assigned
// so downstream logs can correlate (§4.2).
func (f *Fabric) ExecuteNoResp(msg Envelope) {
	handle, ok := f.pickWorker()
	if !ok {
		f.logger.Warn("executeNoResp: no live workers")
		return
	}
	if msg.TaskID == "" {
		msg.TaskID = NewTaskID()
	}
	handle.Send(msg)
}

// Shutdown sends ExitThread to every worker, cancels their contexts, and
// waits for each to report done or for ctx to expire.
func (f *Fabric) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	workers := append([]*WorkerHandle(nil), f.workers...)
	f.mu.Unlock()

	for _, w := range workers {
		if w == nil || w.State() == StateDead {
			continue
		}
		w.conn.TrySend(Envelope{Kind: KindExitThread})
		w.Stop()
	}
	for _, w := range workers {
		if w == nil {
			continue
		}
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// LiveCount reports the number of Online workers, mainly for tests and
// health reporting.
func (f *Fabric) LiveCount() int {
	return len(f.liveWorkers())
}

// LiveIndices returns the indices of currently Online workers, used by the
// plugin worker pool to pick a least-loaded target for ExecuteOn.
func (f *Fabric) LiveIndices() []int {
	live := f.liveWorkers()
	out := make([]int, len(live))
	for i, w := range live {
		out[i] = w.Index
	}
	return out
}
