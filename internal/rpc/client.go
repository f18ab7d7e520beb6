// Package rpc implements the RPC fan-out thread (C12): a single long-lived
// worker that owns the Bitcoin-node RPC client, a VM storage collaborator
// (via the header validator), and a bounded sub-pool for heavy Call
// requests (§4.12).
package rpc

import "context"

// TxParams identifies the transaction GetTx looks up.
type TxParams struct {
	Txid string
}

// RawTx is the raw transaction data returned by GetTx.
type RawTx struct {
	Txid          string
	Hex           string
	Confirmations int64
}

// CallRequest is a contract call to execute in the sub-pool.
type CallRequest struct {
	Contract string
	Calldata []byte
	Caller   string
}

// RawCallResult is the unnormalized result returned by the RPC client's
// Call implementation: hex-encoded return data, a decimal gas string, and
// hex-keyed/valued storage and event maps, as they arrive off the wire
// before C12's normalization step.
type RawCallResult struct {
	ReturnHex      string
	Gas            string
	ChangedStorage map[string]map[string]string // contract -> (u256 hex -> u256 hex)
	Events         map[string][]RawEvent        // contract -> events
}

// RawEvent is one contract event before normalization.
type RawEvent struct {
	Name    string
	DataHex string
}

// BroadcastResult is the outcome of BroadcastTransaction (§4.12).
type BroadcastResult struct {
	Success    bool
	Result     string
	Error      string
	Identifier string
}

// Client is the Bitcoin-node RPC collaborator the fan-out thread owns
// exclusively.
type Client interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetRawTransaction(ctx context.Context, params TxParams) (*RawTx, error)
	CallContract(ctx context.Context, req CallRequest) (*RawCallResult, error)
	BroadcastTransaction(ctx context.Context, raw []byte) (*BroadcastResult, error)
}
