package rpc

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btc-vision/opnet-node/internal/consensus"
	"github.com/btc-vision/opnet-node/internal/headers"
	"github.com/btc-vision/opnet-node/internal/thread"
	"github.com/btc-vision/opnet-node/pkg/logging"
)

// NetEvent is a normalized contract event (§4.12 "events become a map of
// contract -> list of NetEvent").
type NetEvent struct {
	Name string
	Data []byte
}

// CallResponse is Call's normalized result: hex strings decoded to byte
// buffers, gas as a big integer, storage and events keyed by contract.
type CallResponse struct {
	Return         []byte
	Gas            *big.Int
	ChangedStorage map[string]map[string]*big.Int
	Events         map[string][]NetEvent
	Error          string
}

// HeaderValidation is ValidateBlockHeaders' result (§4.12).
type HeaderValidation struct {
	HasValidProofs   bool
	StoredBlockHeader *headers.Header
}

// Thread is the C12 RPC fan-out worker: it polls the chain tip into the
// shared consensus height, answers GetTx/ValidateBlockHeaders/Call/
// BroadcastTransaction, and routes heavy Call requests to a bounded
// sub-pool (§4.12).
type Thread struct {
	client    Client
	height    *consensus.Height
	validator *headers.Validator
	subPool   *thread.Fabric
	logger    *logrus.Entry

	pollInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewThread creates a Thread. subWorkerCount sizes the bounded sub-pool used
// for Call requests.
func NewThread(ctx context.Context, client Client, height *consensus.Height, validator *headers.Validator, subWorkerCount int, pollInterval time.Duration) *Thread {
	t := &Thread{
		client:       client,
		height:       height,
		validator:    validator,
		logger:       logging.For("rpc-fanout"),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
	t.subPool = thread.NewFabric(ctx, thread.RoleRPC, 32, func() thread.WorkerFunc {
		return newCallWorker(client)
	})
	t.subPool.Spawn(subWorkerCount)
	return t
}

// Run polls GetBlockCount once per pollInterval, writing the result into
// the shared consensus height, until ctx is cancelled or Stop is called.
// The cache populated here is the source of truth for
// OPNetConsensus.setBlockHeight (§4.12).
func (t *Thread) Run(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			count, err := t.client.GetBlockCount(ctx)
			if err != nil {
				t.logger.WithError(err).Warn("poll GetBlockCount failed")
				continue
			}
			t.height.Set(count)
		}
	}
}

// Stop halts the poll loop.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Shutdown drains the Call sub-pool.
func (t *Thread) Shutdown(ctx context.Context) error {
	t.Stop()
	return t.subPool.Shutdown(ctx)
}

// GetCurrentBlock returns the cached chain tip; the cache, not a fresh RPC
// round trip, is the source of truth (§4.12).
func (t *Thread) GetCurrentBlock() int64 {
	return t.height.CurrentBlock()
}

// GetTx returns the raw transaction, or nil if the node doesn't have it
// (§4.12 "raw transaction or undefined").
func (t *Thread) GetTx(ctx context.Context, params TxParams) (*RawTx, error) {
	return t.client.GetRawTransaction(ctx, params)
}

// ValidateBlockHeaders runs checksum validation and header lookup
// concurrently and joins with safe-all semantics: each branch's failure
// surfaces as a zero value on that branch rather than aborting the other
// (§4.12).
func (t *Thread) ValidateBlockHeaders(partial headers.PartialHeader) HeaderValidation {
	var wg sync.WaitGroup
	var result HeaderValidation

	wg.Add(2)
	go func() {
		defer wg.Done()
		ok, err := t.validator.ValidateBlockChecksum(partial)
		if err != nil {
			t.logger.WithError(err).Debug("validateBlockChecksum branch failed, surfacing as invalid")
			return
		}
		result.HasValidProofs = ok
	}()
	go func() {
		defer wg.Done()
		h, err := t.validator.GetBlockHeader(partial.Height)
		if err != nil {
			t.logger.WithError(err).Debug("getBlockHeader branch failed, surfacing as nil")
			return
		}
		result.StoredBlockHeader = h
	}()
	wg.Wait()
	return result
}

// Call executes req in the sub-pool and normalizes the result (§4.12).
func (t *Thread) Call(req CallRequest) CallResponse {
	resp := t.subPool.Execute(thread.Envelope{Kind: thread.KindRpcMethod, Payload: req})
	if errResult, isErr := resp.Payload.(thread.ErrorResult); isErr && errResult.Error {
		return CallResponse{Error: errResult.Cause}
	}
	raw, ok := resp.Payload.(*RawCallResult)
	if !ok || raw == nil {
		return CallResponse{Error: "malformed call result"}
	}
	return normalizeCallResult(raw)
}

func normalizeCallResult(raw *RawCallResult) CallResponse {
	out := CallResponse{
		ChangedStorage: make(map[string]map[string]*big.Int, len(raw.ChangedStorage)),
		Events:         make(map[string][]NetEvent, len(raw.Events)),
	}
	out.Return = decodeHexLenient(raw.ReturnHex)

	gas := new(big.Int)
	if _, ok := gas.SetString(raw.Gas, 10); !ok {
		gas.SetInt64(0)
	}
	out.Gas = gas

	for contract, slots := range raw.ChangedStorage {
		normalized := make(map[string]*big.Int, len(slots))
		for slot, value := range slots {
			normalized[strings.ToLower(trimHexPrefix(slot))] = decodeU256(value)
		}
		out.ChangedStorage[contract] = normalized
	}

	for contract, events := range raw.Events {
		normalized := make([]NetEvent, len(events))
		for i, e := range events {
			normalized[i] = NetEvent{Name: e.Name, Data: decodeHexLenient(e.DataHex)}
		}
		out.Events[contract] = normalized
	}

	return out
}

func decodeU256(hexVal string) *big.Int {
	v := new(big.Int)
	v.SetBytes(decodeHexLenient(hexVal))
	return v
}

func decodeHexLenient(s string) []byte {
	s = trimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// BroadcastTransaction submits raw and normalizes any RPC exception into a
// success:false result rather than propagating it (§4.12).
func (t *Thread) BroadcastTransaction(ctx context.Context, raw []byte) *BroadcastResult {
	result, err := t.client.BroadcastTransaction(ctx, raw)
	if err != nil {
		return &BroadcastResult{Success: false, Error: err.Error()}
	}
	return result
}
