package health

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dashcache/dashcache/pkg/types"
)

func TestTracker_Register(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.Register("orders")

	if state := tracker.State("orders"); state != StateHealthy {
		t.Errorf("Expected initial state healthy, got %s", state)
	}
	if state := tracker.State("unknown"); state != StateHealthy {
		t.Errorf("Expected untracked resource to be healthy, got %s", state)
	}
	if len(tracker.Resources()) != 1 {
		t.Errorf("Expected 1 resource, got %d", len(tracker.Resources()))
	}
}

func TestTracker_Degradation(t *testing.T) {
	tracker := NewTracker(Config{ErrorThreshold: 3, UnavailableThreshold: 5})

	for i := 0; i < 2; i++ {
		tracker.RecordError("orders", fmt.Errorf("error %d", i))
	}
	if state := tracker.State("orders"); state != StateHealthy {
		t.Errorf("Expected healthy below threshold, got %s", state)
	}

	tracker.RecordError("orders", fmt.Errorf("error 2"))
	if state := tracker.State("orders"); state != StateDegraded {
		t.Errorf("Expected degraded at threshold, got %s", state)
	}

	tracker.RecordError("orders", fmt.Errorf("error 3"))
	tracker.RecordError("orders", fmt.Errorf("error 4"))
	if state := tracker.State("orders"); state != StateUnavailable {
		t.Errorf("Expected unavailable, got %s", state)
	}
	if tracker.Ready() {
		t.Error("Expected not ready with an unavailable resource")
	}

	rh, err := tracker.Resource("orders")
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if rh.ConsecutiveErrors != 5 || rh.LastErrorMessage != "error 4" {
		t.Errorf("Unexpected resource health: %+v", rh)
	}
}

func TestTracker_Recovery(t *testing.T) {
	tracker := NewTracker(Config{ErrorThreshold: 2, UnavailableThreshold: 4})

	for i := 0; i < 3; i++ {
		tracker.RecordError("orders", fmt.Errorf("boom"))
	}
	if tracker.State("orders") != StateDegraded {
		t.Fatalf("Expected degraded, got %s", tracker.State("orders"))
	}

	tracker.RecordSuccess("orders")

	rh, _ := tracker.Resource("orders")
	if rh.State != StateHealthy || rh.ConsecutiveErrors != 0 || rh.LastErrorMessage != "" {
		t.Errorf("Expected full recovery, got %+v", rh)
	}
}

func TestTracker_ObserveLoad(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewTracker(Config{ErrorThreshold: 1, Clock: func() time.Time { return now }})

	var observer types.CacheObserver = tracker
	observer.ObserveLoad("orders", 120*time.Millisecond, nil)
	observer.ObserveCacheEvent("orders", types.CacheStaleHit)
	observer.ObserveCacheEvent("orders", types.CacheHit)
	observer.ObserveLoad("kpis", 0, fmt.Errorf("upstream 503"))

	orders, err := tracker.Resource("orders")
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if orders.LastLoad != 120*time.Millisecond {
		t.Errorf("Expected last load 120ms, got %v", orders.LastLoad)
	}
	if orders.StaleServes != 1 {
		t.Errorf("Expected 1 stale serve, got %d", orders.StaleServes)
	}
	if !orders.LastCheck.Equal(now) {
		t.Errorf("Expected injected clock time, got %v", orders.LastCheck)
	}

	if tracker.State("kpis") != StateDegraded {
		t.Errorf("Expected kpis degraded, got %s", tracker.State("kpis"))
	}
	if tracker.Overall() != StateDegraded {
		t.Errorf("Expected overall degraded, got %s", tracker.Overall())
	}
}

func TestTracker_StateChangeCallback(t *testing.T) {
	tracker := NewTracker(Config{ErrorThreshold: 1, UnavailableThreshold: 2})

	type change struct{ from, to HealthState }
	var mu sync.Mutex
	var changes []change
	tracker.OnStateChange(func(resource string, oldState, newState HealthState, err error) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{oldState, newState})
	})

	tracker.RecordError("orders", fmt.Errorf("a"))
	tracker.RecordError("orders", fmt.Errorf("b"))
	tracker.RecordError("orders", fmt.Errorf("c"))
	tracker.RecordSuccess("orders")
	tracker.RecordSuccess("orders")

	want := []change{
		{StateHealthy, StateDegraded},
		{StateDegraded, StateUnavailable},
		{StateUnavailable, StateHealthy},
	}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d changes, got %d: %v", len(want), len(changes), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: expected %v, got %v", i, want[i], changes[i])
		}
	}
}

func TestTracker_Resources(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.Register("users")
	tracker.Register("orders")
	tracker.Register("orders")

	got := tracker.Resources()
	if len(got) != 2 || got[0].Name != "orders" || got[1].Name != "users" {
		t.Errorf("Expected sorted [orders users], got %+v", got)
	}

	if _, err := tracker.Resource("missing"); err == nil {
		t.Error("Expected error for untracked resource")
	}
}

func TestNewTracker_Thresholds(t *testing.T) {
	tracker := NewTracker(Config{ErrorThreshold: 20})
	if tracker.config.UnavailableThreshold < tracker.config.ErrorThreshold {
		t.Errorf("Unavailable threshold %d below error threshold %d",
			tracker.config.UnavailableThreshold, tracker.config.ErrorThreshold)
	}
}

func TestHealthState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]HealthState{"state": StateDegraded})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"state":"degraded"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}
	var decoded map[string]HealthState
	if err := json.Unmarshal(data, &decoded); err != nil || decoded["state"] != StateDegraded {
		t.Errorf("Round trip failed: %v %v", decoded, err)
	}
	if err := json.Unmarshal([]byte(`{"state":"sleepy"}`), &decoded); err == nil {
		t.Error("Expected error for unknown state")
	}
	if HealthState(42).String() != "unknown" {
		t.Error("Expected unknown for out-of-range state")
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resource := fmt.Sprintf("r%d", i%5)
			if i%2 == 0 {
				tracker.RecordError(resource, fmt.Errorf("boom"))
			} else {
				tracker.ObserveLoad(resource, time.Millisecond, nil)
			}
			_ = tracker.Overall()
			_ = tracker.Resources()
		}(i)
	}
	wg.Wait()

	if len(tracker.Resources()) != 5 {
		t.Errorf("Expected 5 resources, got %d", len(tracker.Resources()))
	}
}
