package plugin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btc-vision/opnet-node/internal/thread"
	"github.com/btc-vision/opnet-node/pkg/logging"
)

// ErrPluginNotLoaded is returned by enable/disable/hook calls targeting a
// plugin id the pool has no binding for (§4.9).
var ErrPluginNotLoaded = errors.New("PluginNotLoaded")

// DefaultHookTimeout applies when a hook dispatch omits a per-call timeout
// (§4.9 "Determinism of timeouts").
const DefaultHookTimeout = 30 * time.Second

// LoadPluginRequest is the payload of a LoadPlugin envelope sent to a
// worker.
type LoadPluginRequest struct {
	ID       string
	Bytecode []byte
	Config   map[string]interface{}
}

// HookRequest is the payload of an ExecuteHook envelope.
type HookRequest struct {
	PluginID string
	HookFunc string
	Payload  []byte
}

// HookOutcome is the normalized result of a hook execution (§4.9
// "executeHook ... return {success, durationMs, result?, error?}").
type HookOutcome struct {
	Success    bool
	DurationMs int64
	Result     []byte
	Error      string
}

// CrashObserver is notified when a worker crash invalidates every plugin it
// hosted (§4.9 "Crash propagation").
type CrashObserver interface {
	OnPluginCrash(id, reason string)
}

// SyncStateObserver is notified whenever a worker reports a
// SyncStateUpdate on behalf of one of its plugins.
type SyncStateObserver interface {
	OnSyncStateUpdate(id string, lastSyncedBlock uint64, syncCompleted bool)
}

// SyncStateUpdatePayload is the payload of an unsolicited SyncStateUpdate
// envelope a plugin worker pushes outside the request/response cycle.
type SyncStateUpdatePayload struct {
	PluginID        string
	LastSyncedBlock uint64
	SyncCompleted   bool
}

// Pool is the C9 plugin worker pool: a fixed number of long-lived workers,
// each hosting zero or more sandboxed plugins, fronted by the generic
// worker fabric for dispatch and crash recovery.
type Pool struct {
	fabric   *thread.Fabric
	registry *Registry

	mu          sync.Mutex
	bindings    map[string]int // plugin id -> worker index
	load        map[int]int    // worker index -> number of bound plugins
	crashObs    CrashObserver
	syncObs     SyncStateObserver
	logger      *logrus.Entry
	workerCount int
}

// NewPool creates a pool of workerCount workers, each running runWorker.
func NewPool(ctx context.Context, registry *Registry, workerCount int, crashObs CrashObserver, syncObs SyncStateObserver) *Pool {
	p := &Pool{
		registry:    registry,
		bindings:    make(map[string]int),
		load:        make(map[int]int),
		crashObs:    crashObs,
		syncObs:     syncObs,
		logger:      logging.For("plugin-pool"),
		workerCount: workerCount,
	}
	p.fabric = thread.NewFabric(ctx, thread.RolePlugin, 32, func() thread.WorkerFunc {
		return newPluginWorker(p)
	})
	p.fabric.OnCrash(p.handleWorkerCrash)
	p.fabric.OnUnsolicited(p.handleUnsolicited)
	p.fabric.Spawn(workerCount)
	return p
}

// handleWorkerCrash transitions every plugin bound to the crashed worker to
// Crashed and clears its bindings. Requests still outstanding on that
// worker are not resolved here: each one resolves with the fabric's timeout
// result once its own timeout elapses.
func (p *Pool) handleWorkerCrash(index int, err error) {
	p.mu.Lock()
	var crashed []string
	for id, boundIdx := range p.bindings {
		if boundIdx == index {
			crashed = append(crashed, id)
			delete(p.bindings, id)
		}
	}
	delete(p.load, index)
	p.mu.Unlock()

	reason := "worker crashed"
	if err != nil {
		reason = err.Error()
	}
	for _, id := range crashed {
		p.registry.SetCrashed(id, reason)
		if p.crashObs != nil {
			p.crashObs.OnPluginCrash(id, reason)
		}
	}
}

func (p *Pool) handleUnsolicited(index int, msg thread.Envelope) {
	if msg.Kind != thread.KindSyncStateUpdate {
		return
	}
	update, ok := msg.Payload.(SyncStateUpdatePayload)
	if !ok || p.syncObs == nil {
		return
	}
	p.syncObs.OnSyncStateUpdate(update.PluginID, update.LastSyncedBlock, update.SyncCompleted)
}

// leastLoaded picks the live worker index hosting the fewest plugins.
func (p *Pool) leastLoaded() (int, bool) {
	indices := p.fabric.LiveIndices()
	if len(indices) == 0 {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	best := indices[0]
	bestLoad := p.load[best]
	for _, idx := range indices[1:] {
		if l := p.load[idx]; l < bestLoad {
			best, bestLoad = idx, l
		}
	}
	return best, true
}

// LoadPlugin picks a least-loaded worker, ships the plugin binary and
// config, and binds the plugin id to that worker on success (§4.9
// "loadPlugin").
func (p *Pool) LoadPlugin(record *Record, bytecode []byte, config map[string]interface{}) error {
	idx, ok := p.leastLoaded()
	if !ok {
		return errors.New("plugin pool: no live workers")
	}

	resp, err := p.fabric.ExecuteOn(idx, thread.Envelope{
		Kind:    thread.KindLoadPlugin,
		Payload: LoadPluginRequest{ID: record.ID, Bytecode: bytecode, Config: config},
	}, DefaultHookTimeout)
	if err != nil {
		return err
	}
	if errResult, isErr := resp.Payload.(thread.ErrorResult); isErr && errResult.Error {
		return errors.New("plugin pool: load failed: " + errResult.Cause)
	}

	p.mu.Lock()
	p.bindings[record.ID] = idx
	p.load[idx]++
	p.mu.Unlock()

	record.WorkerIndex = idx
	record.State = StateLoaded
	p.registry.Register(record)
	return nil
}

// UnloadPlugin is idempotent: unloading an unknown id is a no-op (§4.9).
func (p *Pool) UnloadPlugin(id string) error {
	p.mu.Lock()
	idx, ok := p.bindings[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.bindings, id)
	p.load[idx]--
	p.mu.Unlock()

	_, err := p.fabric.ExecuteOn(idx, thread.Envelope{Kind: thread.KindUnloadPlugin, Payload: id}, DefaultHookTimeout)
	p.registry.Unregister(id)
	return err
}

func (p *Pool) workerFor(id string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.bindings[id]
	return idx, ok
}

// EnablePlugin requires a prior LoadPlugin; otherwise ErrPluginNotLoaded
// (§4.9).
func (p *Pool) EnablePlugin(id string) error {
	idx, ok := p.workerFor(id)
	if !ok {
		return ErrPluginNotLoaded
	}
	if _, err := p.fabric.ExecuteOn(idx, thread.Envelope{Kind: thread.KindEnablePlugin, Payload: id}, DefaultHookTimeout); err != nil {
		return err
	}
	p.registry.SetState(id, StateEnabled)
	return nil
}

// DisablePlugin requires a prior LoadPlugin; otherwise ErrPluginNotLoaded
// (§4.9).
func (p *Pool) DisablePlugin(id string) error {
	idx, ok := p.workerFor(id)
	if !ok {
		return ErrPluginNotLoaded
	}
	if _, err := p.fabric.ExecuteOn(idx, thread.Envelope{Kind: thread.KindDisablePlugin, Payload: id}, DefaultHookTimeout); err != nil {
		return err
	}
	p.registry.SetState(id, StateDisabled)
	return nil
}

// ExecuteHook dispatches to the plugin's bound worker and normalizes the
// result, applying timeoutMs or DefaultHookTimeout (§4.9
// "executeHook"/"executeHookWithResult").
func (p *Pool) ExecuteHook(id, hookFunc string, payload []byte, timeoutMs int64) (*HookOutcome, error) {
	idx, ok := p.workerFor(id)
	if !ok {
		return nil, ErrPluginNotLoaded
	}
	timeout := DefaultHookTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	start := nowFunc()
	resp, err := p.fabric.ExecuteOn(idx, thread.Envelope{
		Kind:    thread.KindExecuteHook,
		Payload: HookRequest{PluginID: id, HookFunc: hookFunc, Payload: payload},
	}, timeout)
	duration := nowFunc().Sub(start)
	if err != nil {
		return &HookOutcome{Success: false, DurationMs: duration.Milliseconds(), Error: err.Error()}, nil
	}

	if errResult, isErr := resp.Payload.(thread.ErrorResult); isErr && errResult.Error {
		return &HookOutcome{Success: false, DurationMs: duration.Milliseconds(), Error: errResult.Cause}, nil
	}
	if result, ok := resp.Payload.([]byte); ok {
		return &HookOutcome{Success: true, DurationMs: duration.Milliseconds(), Result: result}, nil
	}
	return &HookOutcome{Success: true, DurationMs: duration.Milliseconds()}, nil
}

// Shutdown drains the underlying fabric.
func (p *Pool) Shutdown(ctx context.Context) error {
	return p.fabric.Shutdown(ctx)
}

// nowFunc is indirected so duration computation stays deterministic and
// testable without relying on wall-clock timing assumptions.
var nowFunc = time.Now
