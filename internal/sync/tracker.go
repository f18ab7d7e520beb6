// Package sync implements the sync-state tracker (C11): per-plugin
// last-synced-block bookkeeping and the reindex decision engine (§4.11).
package sync

import (
	"sync"
	"time"
)

// SyncStatus classifies a plugin's position relative to the chain tip
// (§4.11).
type SyncStatus int

const (
	NeverSynced SyncStatus = iota
	Synced
	Behind
)

func (s SyncStatus) String() string {
	switch s {
	case NeverSynced:
		return "NeverSynced"
	case Synced:
		return "Synced"
	case Behind:
		return "Behind"
	default:
		return "Unknown"
	}
}

// State is one plugin's persisted sync-state record (§4.2
// "PluginSyncState").
type State struct {
	PluginID         string
	InstalledVersion string
	ChainID          string
	Network          string
	EnabledAtBlock   uint64
	LastSyncedBlock  uint64
	SyncCompleted    bool
	Collections      []string
	UpdatedAt        time.Time
}

// KV is the storage collaborator mutations are persisted through before
// acknowledgement (§4.11 "persisted through the KV collaborator"). Keys are
// plugin ids.
type KV interface {
	Get(pluginID string) (*State, bool, error)
	Put(pluginID string, state *State) error
}

// ReindexDirective requests a plugin reindex from a given block, or absence
// of one requests none (§4.11).
type ReindexDirective struct {
	Enabled   bool
	FromBlock uint64
}

// ReindexAction is the decision getReindexCheck produces.
type ReindexAction int

const (
	ActionNone ReindexAction = iota
	ActionPurge
	ActionSync
)

func (a ReindexAction) String() string {
	switch a {
	case ActionNone:
		return "None"
	case ActionPurge:
		return "Purge"
	case ActionSync:
		return "Sync"
	default:
		return "Unknown"
	}
}

// ReindexCheck is getReindexCheck's result (§4.11, literal scenario S6).
type ReindexCheck struct {
	Action        ReindexAction
	PurgeToBlock  uint64
	RequiresSync  bool
	SyncFromBlock uint64
	SyncToBlock   uint64
}

// GetReindexCheck is a pure function of (directive, lastSyncedBlock)
// (invariant 7, §8): absent/disabled directives decide None; a plugin ahead
// of fromBlock must purge back to it then resync; a plugin behind fromBlock
// syncs forward to it; an exact match needs nothing.
func GetReindexCheck(directive *ReindexDirective, pluginLastSynced uint64) ReindexCheck {
	if directive == nil || !directive.Enabled {
		return ReindexCheck{Action: ActionNone}
	}
	switch {
	case pluginLastSynced > directive.FromBlock:
		return ReindexCheck{
			Action:        ActionPurge,
			PurgeToBlock:  directive.FromBlock,
			RequiresSync:  true,
			SyncFromBlock: directive.FromBlock,
		}
	case pluginLastSynced < directive.FromBlock:
		return ReindexCheck{
			Action:        ActionSync,
			RequiresSync:  true,
			SyncFromBlock: pluginLastSynced,
			SyncToBlock:   directive.FromBlock,
		}
	default:
		return ReindexCheck{Action: ActionNone}
	}
}

// MemoryKV is an in-memory KV, used when no external KV-compatible store is
// configured. No KV-flavored client (redis, badger, bolt) appears anywhere
// in the retrieval pack's dependency surface, so this ambient default is
// deliberately stdlib-backed rather than borrowed from a library the corpus
// never reached for.
type MemoryKV struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{states: make(map[string]*State)}
}

func (m *MemoryKV) Get(pluginID string) (*State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[pluginID]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (m *MemoryKV) Put(pluginID string, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[pluginID] = &cp
	return nil
}

// nowFunc is indirected so tests can pin UpdatedAt.
var nowFunc = time.Now

// Tracker serializes sync-state mutations per plugin and persists them
// through a KV collaborator before acknowledging the caller (§4.11).
type Tracker struct {
	kv KV

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a Tracker backed by kv.
func NewTracker(kv KV) *Tracker {
	return &Tracker{kv: kv, locks: make(map[string]*sync.Mutex)}
}

func (t *Tracker) lockFor(pluginID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[pluginID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[pluginID] = l
	}
	return l
}

// Status computes a plugin's SyncStatus and blocksBehind relative to
// chainTip. NeverSynced when no persisted state exists.
func (t *Tracker) Status(pluginID string, chainTip uint64) (SyncStatus, uint64, error) {
	state, found, err := t.kv.Get(pluginID)
	if err != nil {
		return NeverSynced, 0, err
	}
	if !found {
		return NeverSynced, 0, nil
	}
	if state.LastSyncedBlock >= chainTip {
		return Synced, 0, nil
	}
	return Behind, chainTip - state.LastSyncedBlock, nil
}

// UpdateLastSyncedBlock advances pluginID's lastSyncedBlock, serialized per
// plugin, persisted before returning (§4.11).
func (t *Tracker) UpdateLastSyncedBlock(pluginID string, block uint64) error {
	lock := t.lockFor(pluginID)
	lock.Lock()
	defer lock.Unlock()

	state, found, err := t.kv.Get(pluginID)
	if err != nil {
		return err
	}
	if !found {
		state = &State{PluginID: pluginID}
	}
	state.LastSyncedBlock = block
	state.UpdatedAt = nowFunc()
	return t.kv.Put(pluginID, state)
}

// MarkSyncCompleted flags pluginID's sync-state as complete.
func (t *Tracker) MarkSyncCompleted(pluginID string) error {
	lock := t.lockFor(pluginID)
	lock.Lock()
	defer lock.Unlock()

	state, found, err := t.kv.Get(pluginID)
	if err != nil {
		return err
	}
	if !found {
		state = &State{PluginID: pluginID}
	}
	state.SyncCompleted = true
	state.UpdatedAt = nowFunc()
	return t.kv.Put(pluginID, state)
}

// ResetSyncStateToBlock rewinds pluginID's sync-state to block, clearing
// syncCompleted, used by the Purge branch of a reindex (§4.11).
func (t *Tracker) ResetSyncStateToBlock(pluginID string, block uint64) error {
	lock := t.lockFor(pluginID)
	lock.Lock()
	defer lock.Unlock()

	state, found, err := t.kv.Get(pluginID)
	if err != nil {
		return err
	}
	if !found {
		state = &State{PluginID: pluginID}
	}
	state.LastSyncedBlock = block
	state.SyncCompleted = false
	state.UpdatedAt = nowFunc()
	return t.kv.Put(pluginID, state)
}
