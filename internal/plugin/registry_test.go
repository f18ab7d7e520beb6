package plugin

import "testing"

func TestRegistryGetWithPermissionExcludesMissingAndDisabled(t *testing.T) {
	r := NewRegistry()
	r.Register(&Record{ID: "a", Permissions: map[string]bool{PermMempoolTxFeed: true}, State: StateEnabled})
	r.Register(&Record{ID: "b", Permissions: map[string]bool{PermMempoolTxFeed: true}, State: StateDisabled})
	r.Register(&Record{ID: "c", Permissions: map[string]bool{PermDatabase: true}, State: StateEnabled})

	got := r.GetWithPermission(PermMempoolTxFeed)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only enabled plugin 'a', got %+v", got)
	}
}

func TestRegistryGetEnabled(t *testing.T) {
	r := NewRegistry()
	r.Register(&Record{ID: "a", State: StateEnabled})
	r.Register(&Record{ID: "b", State: StateCrashed})

	got := r.GetEnabled()
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only 'a' enabled, got %+v", got)
	}
}

func TestRegistryUnregisterClearsPermissionIndexAndMarksUnloaded(t *testing.T) {
	r := NewRegistry()
	r.Register(&Record{ID: "a", Permissions: map[string]bool{PermDatabase: true}, State: StateEnabled, WorkerIndex: 3})
	r.Unregister("a")

	if got := r.GetWithPermission(PermDatabase); len(got) != 0 {
		t.Fatalf("expected empty permission index after unregister, got %+v", got)
	}
	rec := r.Get("a")
	if rec == nil {
		t.Fatalf("expected record to persist with Unloaded state")
	}
	if rec.State != StateUnloaded {
		t.Fatalf("expected StateUnloaded, got %v", rec.State)
	}
	if rec.WorkerIndex != 0 {
		t.Fatalf("expected worker binding cleared, got %d", rec.WorkerIndex)
	}
}

func TestRegistrySetState(t *testing.T) {
	r := NewRegistry()
	r.Register(&Record{ID: "a", State: StateLoaded})
	r.SetState("a", StateEnabled)
	if r.Get("a").State != StateEnabled {
		t.Fatalf("expected state transition to persist")
	}
}

func TestRegistrySetCrashedRecordsReason(t *testing.T) {
	r := NewRegistry()
	r.Register(&Record{ID: "a", State: StateEnabled})
	r.SetCrashed("a", "panic: out of bounds")

	rec := r.Get("a")
	if rec.State != StateCrashed {
		t.Fatalf("expected StateCrashed, got %v", rec.State)
	}
	if rec.LastCrashReason != "panic: out of bounds" {
		t.Fatalf("expected crash reason recorded, got %q", rec.LastCrashReason)
	}
}
