package plugin

import (
	"context"

	"github.com/btc-vision/opnet-node/internal/thread"
)

// pluginWorkerState is the per-goroutine state of a single plugin pool
// worker: the sandboxes it currently hosts, keyed by plugin id.
type pluginWorkerState struct {
	pool      *Pool
	sandboxes map[string]*Sandbox
	enabled   map[string]bool
}

// newPluginWorker returns the WorkerFunc run by each plugin pool worker
// goroutine. It owns its sandboxes exclusively; the pool only ever talks to
// it through envelopes (§4.9).
func newPluginWorker(pool *Pool) thread.WorkerFunc {
	return func(ctx context.Context, role thread.Role, index int, conn thread.Endpoint) error {
		state := &pluginWorkerState{pool: pool, sandboxes: make(map[string]*Sandbox), enabled: make(map[string]bool)}
		defer state.closeAll()

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
				state.handle(conn, msg)
			}
		}
	}
}

func (s *pluginWorkerState) closeAll() {
	for _, sb := range s.sandboxes {
		sb.Close()
	}
}

func (s *pluginWorkerState) handle(conn thread.Endpoint, msg thread.Envelope) {
	if msg.TaskID == "" {
		return
	}
	switch msg.Kind {
	case thread.KindLoadPlugin:
		s.handleLoad(conn, msg)
	case thread.KindUnloadPlugin:
		s.handleUnload(conn, msg)
	case thread.KindEnablePlugin:
		s.handleSetEnabled(conn, msg, true)
	case thread.KindDisablePlugin:
		s.handleSetEnabled(conn, msg, false)
	case thread.KindExecuteHook:
		s.handleExecuteHook(conn, msg)
	default:
		conn.Send(thread.Envelope{
			Kind: thread.KindThreadResponse, TaskID: msg.TaskID,
			Payload: thread.ErrorResult{Error: true, Cause: "unhandled kind"},
		})
	}
}

func (s *pluginWorkerState) handleLoad(conn thread.Endpoint, msg thread.Envelope) {
	req, ok := msg.Payload.(LoadPluginRequest)
	if !ok {
		conn.Send(errorResponse(msg.TaskID, "malformed LoadPlugin payload"))
		return
	}
	sb, err := NewSandbox(req.Bytecode)
	if err != nil {
		conn.Send(errorResponse(msg.TaskID, err.Error()))
		return
	}
	s.sandboxes[req.ID] = sb
	conn.Send(thread.Envelope{Kind: thread.KindThreadResponse, TaskID: msg.TaskID, Payload: true})
}

func (s *pluginWorkerState) handleUnload(conn thread.Endpoint, msg thread.Envelope) {
	id, _ := msg.Payload.(string)
	if sb, ok := s.sandboxes[id]; ok {
		sb.Close()
		delete(s.sandboxes, id)
	}
	delete(s.enabled, id)
	conn.Send(thread.Envelope{Kind: thread.KindThreadResponse, TaskID: msg.TaskID, Payload: true})
}

func (s *pluginWorkerState) handleSetEnabled(conn thread.Endpoint, msg thread.Envelope, enabled bool) {
	id, _ := msg.Payload.(string)
	if _, ok := s.sandboxes[id]; !ok {
		conn.Send(errorResponse(msg.TaskID, ErrPluginNotLoaded.Error()))
		return
	}
	s.enabled[id] = enabled
	conn.Send(thread.Envelope{Kind: thread.KindThreadResponse, TaskID: msg.TaskID, Payload: true})
}

func (s *pluginWorkerState) handleExecuteHook(conn thread.Endpoint, msg thread.Envelope) {
	req, ok := msg.Payload.(HookRequest)
	if !ok {
		conn.Send(errorResponse(msg.TaskID, "malformed ExecuteHook payload"))
		return
	}
	sb, ok := s.sandboxes[req.PluginID]
	if !ok {
		conn.Send(errorResponse(msg.TaskID, ErrPluginNotLoaded.Error()))
		return
	}
	result, err := sb.Call(req.HookFunc, req.Payload)
	if err != nil {
		conn.Send(errorResponse(msg.TaskID, err.Error()))
		return
	}
	conn.Send(thread.Envelope{Kind: thread.KindThreadResponse, TaskID: msg.TaskID, Payload: result})
}

func errorResponse(taskID, cause string) thread.Envelope {
	return thread.Envelope{
		Kind: thread.KindThreadResponse, TaskID: taskID,
		Payload: thread.ErrorResult{Error: true, Cause: cause},
	}
}
