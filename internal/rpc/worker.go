package rpc

import (
	"context"

	"github.com/btc-vision/opnet-node/internal/thread"
)

// newCallWorker returns the WorkerFunc run by each sub-pool worker: it owns
// no state beyond the shared RPC client and exists purely to bound Call
// concurrency (§4.12 "a bounded pool of sub-workers for heavy Call
// requests").
func newCallWorker(client Client) thread.WorkerFunc {
	return func(ctx context.Context, role thread.Role, index int, conn thread.Endpoint) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-conn.Recv():
				if !ok {
					return nil
				}
				if msg.Kind == thread.KindExitThread {
					return nil
				}
				if msg.Kind != thread.KindRpcMethod {
					continue
				}
				handleCall(ctx, client, conn, msg)
			}
		}
	}
}

func handleCall(ctx context.Context, client Client, conn thread.Endpoint, msg thread.Envelope) {
	req, ok := msg.Payload.(CallRequest)
	if !ok {
		conn.Send(thread.Envelope{
			Kind: thread.KindThreadResponse, TaskID: msg.TaskID,
			Payload: thread.ErrorResult{Error: true, Cause: "malformed CallRequest payload"},
		})
		return
	}
	result, err := client.CallContract(ctx, req)
	if err != nil {
		conn.Send(thread.Envelope{
			Kind: thread.KindThreadResponse, TaskID: msg.TaskID,
			Payload: thread.ErrorResult{Error: true, Cause: err.Error()},
		})
		return
	}
	conn.Send(thread.Envelope{Kind: thread.KindThreadResponse, TaskID: msg.TaskID, Payload: result})
}
