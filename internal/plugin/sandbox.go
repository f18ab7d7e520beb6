package plugin

import (
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Sandbox hosts a single compiled plugin module in an isolated wasmer
// store, matching §4.9's per-worker plugin hosting. Instantiation happens
// once at load time; hook calls reuse the instance.
//
// ABI: a hook export takes (ptr i32, len i32) describing the JSON payload
// already written into the module's memory, and returns an i64 packing the
// result pointer in the high 32 bits and its length in the low 32 bits.
// alloc/dealloc exports manage that memory on the plugin's behalf.
type Sandbox struct {
	engine   *wasmer.Engine
	store    *wasmer.Store
	instance *wasmer.Instance
	memory   *wasmer.Memory
}

// NewSandbox compiles and instantiates bytecode.
func NewSandbox(bytecode []byte) (*Sandbox, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	mod, err := wasmer.NewModule(store, bytecode)
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: compile: %w", err)
	}

	imports := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: instantiate: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("plugin sandbox: wasm memory export missing")
	}

	return &Sandbox{engine: engine, store: store, instance: instance, memory: mem}, nil
}

// Call invokes the exported hook function and returns the JSON-encoded
// result bytes it writes into linear memory.
func (s *Sandbox) Call(hookFunc string, payload []byte) ([]byte, error) {
	alloc, err := s.instance.Exports.GetFunction("alloc")
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: alloc export missing: %w", err)
	}
	dealloc, err := s.instance.Exports.GetFunction("dealloc")
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: dealloc export missing: %w", err)
	}
	fn, err := s.instance.Exports.GetFunction(hookFunc)
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: hook export %q missing: %w", hookFunc, err)
	}

	ptrRaw, err := alloc(int32(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: alloc call: %w", err)
	}
	ptr, ok := ptrRaw.(int32)
	if !ok {
		return nil, errors.New("plugin sandbox: alloc did not return i32")
	}

	mem := s.memory.Data()
	copy(mem[ptr:int(ptr)+len(payload)], payload)

	resultRaw, err := fn(ptr, int32(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("plugin sandbox: hook call: %w", err)
	}
	packed, ok := resultRaw.(int64)
	if !ok {
		return nil, errors.New("plugin sandbox: hook did not return packed i64")
	}

	resultPtr := int32(packed >> 32)
	resultLen := int32(packed & 0xFFFFFFFF)
	mem = s.memory.Data()
	out := make([]byte, resultLen)
	copy(out, mem[resultPtr:resultPtr+resultLen])

	if _, err := dealloc(resultPtr, resultLen); err != nil {
		return nil, fmt.Errorf("plugin sandbox: dealloc call: %w", err)
	}

	return out, nil
}

// Close releases the sandbox's wasmer store.
func (s *Sandbox) Close() {
	s.store.Close()
	s.engine.Close()
}
