// Package thread implements the typed message envelope (C1) and the worker
// fabric (C2): a process-local message bus that spawns typed worker
// goroutines, multiplexes typed requests/responses by task id, and
// auto-heals crashed workers.
package thread

import "github.com/google/uuid"

// Kind is the closed set of inter-worker message kinds (§4.1). Unknown kinds
// received off the wire are logged and dropped, never fatal.
type Kind string

const (
	KindThreadResponse     Kind = "ThreadResponse"
	KindLinkThread         Kind = "LinkThread"
	KindSetMessagePort     Kind = "SetMessagePort"
	KindLinkThreadRequest  Kind = "LinkThreadRequest"
	KindRpcMethod          Kind = "RpcMethod"
	KindBlockProcessed     Kind = "BlockProcessed"
	KindCurrentIndexerBlock Kind = "CurrentIndexerBlock"
	KindStartIndexer       Kind = "StartIndexer"
	KindExitThread         Kind = "ExitThread"
	KindDeserializeBlock   Kind = "DeserializeBlock"
	KindChainReorg         Kind = "ChainReorg"
	KindGetPeers           Kind = "GetPeers"

	// Plugin family (§4.1).
	KindPluginReady             Kind = "PluginReady"
	KindPluginAllThreadsReady   Kind = "PluginAllThreadsReady"
	KindPluginBlockPreProcess   Kind = "PluginBlockPreProcess"
	KindPluginBlockPostProcess  Kind = "PluginBlockPostProcess"
	KindPluginBlockChange       Kind = "PluginBlockChange"
	KindPluginEpochChange       Kind = "PluginEpochChange"
	KindPluginEpochFinalized    Kind = "PluginEpochFinalized"
	KindPluginReorg             Kind = "PluginReorg"
	KindPluginRegisterRoutes    Kind = "PluginRegisterRoutes"
	KindPluginUnregisterRoutes  Kind = "PluginUnregisterRoutes"
	KindPluginExecuteRoute      Kind = "PluginExecuteRoute"
	KindPluginRouteResult       Kind = "PluginRouteResult"
	KindPluginRegisterOpcodes   Kind = "PluginRegisterOpcodes"
	KindPluginUnregisterOpcodes Kind = "PluginUnregisterOpcodes"
	KindPluginExecuteWsHandler  Kind = "PluginExecuteWsHandler"
	KindPluginWsResult          Kind = "PluginWsResult"

	// Plugin worker pool management (§4.9).
	KindLoadPlugin      Kind = "LoadPlugin"
	KindPluginLoaded    Kind = "PluginLoaded"
	KindPluginErrorMsg  Kind = "PluginError"
	KindUnloadPlugin    Kind = "UnloadPlugin"
	KindEnablePlugin    Kind = "EnablePlugin"
	KindDisablePlugin   Kind = "DisablePlugin"
	KindExecuteHook     Kind = "ExecuteHook"
	KindSyncStateUpdate Kind = "SyncStateUpdate"
)

// Envelope is the tagged union of inter-worker messages, JSON-compatible per
// §6 ("Inter-worker envelope"). Every envelope carrying a TaskID expects at
// most one response bearing the same TaskID.
type Envelope struct {
	Kind     Kind        `json:"type"`
	TaskID   string      `json:"taskId,omitempty"`
	ToServer bool        `json:"toServer,omitempty"`
	Payload  interface{} `json:"data,omitempty"`
	Port     *Endpoint   `json:"-"` // transferable channel endpoint for LinkThread*/SetMessagePort
}

// NewTaskID allocates a fresh random task id for request/response correlation.
func NewTaskID() string {
	return uuid.NewString()
}

// ErrorResult is the synthetic payload returned by Execute on timeout or
// worker crash (§4.2, §7 "Transient").
type ErrorResult struct {
	Error bool   `json:"error"`
	Cause string `json:"cause,omitempty"`
}
