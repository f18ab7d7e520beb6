package plugin

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btc-vision/opnet-node/pkg/logging"
)

// DispatchMode controls whether a hook's eligible plugins run concurrently
// or in registry order (§4.10).
type DispatchMode int

const (
	ModeParallel DispatchMode = iota
	ModeSequential
)

// HookType names one of the fixed hook kinds (§4.10's table).
type HookType string

const (
	HookLoad               HookType = "Load"
	HookUnload             HookType = "Unload"
	HookEnable             HookType = "Enable"
	HookDisable            HookType = "Disable"
	HookBlockPreProcess    HookType = "BlockPreProcess"
	HookBlockPostProcess   HookType = "BlockPostProcess"
	HookBlockChange        HookType = "BlockChange"
	HookEpochChange        HookType = "EpochChange"
	HookEpochFinalized     HookType = "EpochFinalized"
	HookMempoolTransaction HookType = "MempoolTransaction"
	HookReorg              HookType = "Reorg"
	HookReindexRequired    HookType = "ReindexRequired"
	HookPurgeBlocks        HookType = "PurgeBlocks"
)

type hookConfig struct {
	mode            DispatchMode
	timeout         time.Duration
	permission      string
	continueOnError bool
}

// hookTable is the fixed-at-compile-time per-hook configuration of §4.10.
var hookTable = map[HookType]hookConfig{
	HookLoad:               {mode: ModeSequential, timeout: 30 * time.Second, continueOnError: false},
	HookUnload:             {mode: ModeSequential, timeout: 30 * time.Second, continueOnError: false},
	HookEnable:             {mode: ModeSequential, timeout: 30 * time.Second, continueOnError: false},
	HookDisable:            {mode: ModeSequential, timeout: 30 * time.Second, continueOnError: false},
	HookBlockPreProcess:    {mode: ModeParallel, timeout: 30 * time.Second, permission: PermBlocksPreProcess},
	HookBlockPostProcess:   {mode: ModeParallel, timeout: 30 * time.Second, permission: PermBlocksPostProcess},
	HookBlockChange:        {mode: ModeParallel, timeout: 30 * time.Second, permission: PermBlocksOnChange},
	HookEpochChange:        {mode: ModeParallel, timeout: 30 * time.Second, permission: PermEpochsOnChange},
	HookEpochFinalized:     {mode: ModeParallel, timeout: 30 * time.Second, permission: PermEpochsOnFinalized},
	HookMempoolTransaction: {mode: ModeParallel, timeout: 10 * time.Second, permission: PermMempoolTxFeed},
	HookReorg:              {mode: ModeSequential, timeout: 300 * time.Second, continueOnError: false},
	HookReindexRequired:    {mode: ModeSequential, timeout: 600 * time.Second, continueOnError: false},
	HookPurgeBlocks:        {mode: ModeSequential, timeout: 600 * time.Second, continueOnError: false},
}

// hookFuncName maps a HookType to the plugin-side export name it invokes.
var hookFuncName = map[HookType]string{
	HookBlockPreProcess:    "blockPreProcess",
	HookBlockPostProcess:   "blockPostProcess",
	HookBlockChange:        "blockChange",
	HookEpochChange:        "epochChange",
	HookEpochFinalized:     "epochFinalized",
	HookMempoolTransaction: "mempoolTransaction",
	HookReorg:              "reorg",
	HookReindexRequired:    "reindexRequired",
	HookPurgeBlocks:        "purgeBlocks",
}

// DispatchResult is one plugin's outcome from a hook dispatch.
type DispatchResult struct {
	PluginID string
	Outcome  *HookOutcome
}

// Dispatcher fans hook invocations out across the registry's eligible
// plugins according to the fixed per-hook table (§4.10).
type Dispatcher struct {
	registry *Registry
	pool     *Pool
	logger   *logrus.Entry

	mu     sync.Mutex
	order  []string // registry-insertion order, for Sequential hooks
}

// NewDispatcher creates a Dispatcher over registry and pool.
func NewDispatcher(registry *Registry, pool *Pool) *Dispatcher {
	return &Dispatcher{registry: registry, pool: pool, logger: logging.For("hook-dispatcher")}
}

// NoteRegistered records id's registration order, used to run Sequential
// hooks in registry-insertion order (§4.10).
func (d *Dispatcher) NoteRegistered(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.order {
		if existing == id {
			return
		}
	}
	d.order = append(d.order, id)
}

// Dispatch runs hook across every eligible plugin and returns each result.
// An unknown hook type yields an empty result set and a logged warning
// (§4.10).
func (d *Dispatcher) Dispatch(hook HookType, payload []byte) []DispatchResult {
	cfg, known := hookTable[hook]
	if !known {
		d.logger.WithField("hook", hook).Warn("unknown hook type, dispatching to nobody")
		return nil
	}

	eligible := d.eligiblePlugins(hook, cfg)
	action := d.actionFor(hook, payload, cfg.timeout)

	if cfg.mode == ModeParallel {
		return d.dispatchParallel(eligible, action)
	}
	return d.dispatchSequential(eligible, action, cfg)
}

// actionFor binds hook to the operation actually invoked per plugin id:
// lifecycle hooks drive the pool's load/unload/enable/disable management
// calls, domain hooks invoke the plugin's exported hook function.
func (d *Dispatcher) actionFor(hook HookType, payload []byte, timeout time.Duration) func(id string) (*HookOutcome, error) {
	switch hook {
	case HookLoad:
		// Loading requires per-plugin bytecode and config, which a single
		// broadcast payload cannot carry; callers load plugins directly
		// through Pool.LoadPlugin instead of Dispatcher.Dispatch.
		return func(id string) (*HookOutcome, error) {
			return &HookOutcome{Success: false, Error: "load must go through Pool.LoadPlugin"}, nil
		}
	case HookUnload:
		return func(id string) (*HookOutcome, error) {
			err := d.pool.UnloadPlugin(id)
			return &HookOutcome{Success: err == nil}, err
		}
	case HookEnable:
		return func(id string) (*HookOutcome, error) {
			err := d.pool.EnablePlugin(id)
			return &HookOutcome{Success: err == nil}, err
		}
	case HookDisable:
		return func(id string) (*HookOutcome, error) {
			err := d.pool.DisablePlugin(id)
			return &HookOutcome{Success: err == nil}, err
		}
	default:
		funcName := hookFuncName[hook]
		return func(id string) (*HookOutcome, error) {
			return d.pool.ExecuteHook(id, funcName, payload, timeout.Milliseconds())
		}
	}
}

func (d *Dispatcher) eligiblePlugins(hook HookType, cfg hookConfig) []string {
	if cfg.permission == "" {
		// Lifecycle hooks (Load/Unload/Enable/Disable/Reorg/Reindex/Purge)
		// run against every registered plugin in insertion order,
		// independent of the permission index.
		d.mu.Lock()
		defer d.mu.Unlock()
		return append([]string(nil), d.order...)
	}
	recs := d.registry.GetWithPermission(cfg.permission)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

// dispatchParallel fans action out to every id concurrently and collects
// every result regardless of individual failures (§4.10 "Parallel").
func (d *Dispatcher) dispatchParallel(ids []string, action func(id string) (*HookOutcome, error)) []DispatchResult {
	results := make([]DispatchResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcome, err := action(id)
			if err != nil {
				outcome = &HookOutcome{Success: false, Error: err.Error()}
			}
			results[i] = DispatchResult{PluginID: id, Outcome: outcome}
		}(i, id)
	}
	wg.Wait()
	return results
}

// dispatchSequential runs action against ids in order, halting after the
// first failure unless cfg.continueOnError (§4.10 "Sequential").
func (d *Dispatcher) dispatchSequential(ids []string, action func(id string) (*HookOutcome, error), cfg hookConfig) []DispatchResult {
	var results []DispatchResult
	for _, id := range ids {
		outcome, err := action(id)
		if err != nil {
			outcome = &HookOutcome{Success: false, Error: err.Error()}
		}
		results = append(results, DispatchResult{PluginID: id, Outcome: outcome})
		if !outcome.Success && !cfg.continueOnError {
			break
		}
	}
	return results
}
