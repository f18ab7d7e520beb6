package plugin

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchParallelCollectsAllRegardlessOfFailure(t *testing.T) {
	d := &Dispatcher{}
	ids := []string{"a", "b", "c"}
	action := func(id string) (*HookOutcome, error) {
		if id == "b" {
			return nil, errors.New("boom")
		}
		return &HookOutcome{Success: true}, nil
	}

	results := d.dispatchParallel(ids, action)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	byID := make(map[string]*DispatchResult)
	for i := range results {
		byID[results[i].PluginID] = &results[i]
	}
	if !byID["a"].Outcome.Success || !byID["c"].Outcome.Success {
		t.Fatalf("expected a and c to succeed, got %+v", results)
	}
	if byID["b"].Outcome.Success || byID["b"].Outcome.Error != "boom" {
		t.Fatalf("expected b to carry the error, got %+v", byID["b"])
	}
}

func TestDispatchSequentialHaltsOnFirstFailure(t *testing.T) {
	d := &Dispatcher{}
	ids := []string{"a", "b", "c"}
	var called []string
	action := func(id string) (*HookOutcome, error) {
		called = append(called, id)
		if id == "a" {
			return &HookOutcome{Success: false, Error: "nope"}, nil
		}
		return &HookOutcome{Success: true}, nil
	}

	results := d.dispatchSequential(ids, action, hookConfig{continueOnError: false})
	if len(results) != 1 {
		t.Fatalf("expected dispatch to halt after first failure, got %d results", len(results))
	}
	if len(called) != 1 {
		t.Fatalf("expected only the first plugin to be invoked, got %v", called)
	}
}

func TestDispatchSequentialContinuesOnErrorWhenConfigured(t *testing.T) {
	d := &Dispatcher{}
	ids := []string{"a", "b"}
	action := func(id string) (*HookOutcome, error) {
		return &HookOutcome{Success: id != "a"}, nil
	}

	results := d.dispatchSequential(ids, action, hookConfig{continueOnError: true})
	if len(results) != 2 {
		t.Fatalf("expected both plugins to run, got %d results", len(results))
	}
}

func TestDispatchUnknownHookTypeReturnsNilAndWarns(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil)
	results := d.Dispatch(HookType("bogus"), nil)
	if results != nil {
		t.Fatalf("expected nil results for unknown hook type, got %+v", results)
	}
}

func TestDispatchEnableUnregisteredPluginYieldsPluginNotLoaded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewRegistry()
	pool := NewPool(ctx, registry, 1, nil, nil)
	d := NewDispatcher(registry, pool)
	d.NoteRegistered("ghost")

	results := d.Dispatch(HookEnable, nil)
	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %+v", results)
	}
	if results[0].PluginID != "ghost" {
		t.Fatalf("expected ghost, got %s", results[0].PluginID)
	}
	if results[0].Outcome.Success || results[0].Outcome.Error != ErrPluginNotLoaded.Error() {
		t.Fatalf("expected PluginNotLoaded outcome, got %+v", results[0].Outcome)
	}
}

func TestDispatchLoadIsRejectedThroughGenericDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewRegistry()
	pool := NewPool(ctx, registry, 1, nil, nil)
	d := NewDispatcher(registry, pool)
	d.NoteRegistered("p1")

	results := d.Dispatch(HookLoad, nil)
	if len(results) != 1 || results[0].Outcome.Success {
		t.Fatalf("expected load dispatch to fail, got %+v", results)
	}
}
