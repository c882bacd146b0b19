package progress

import (
	"sync"
	"testing"
)

type mockTaskMetrics struct {
	mu      sync.Mutex
	sources []string
}

func (m *mockTaskMetrics) RecordTaskCompleted(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source)
}

func TestTracker_StartsAtZero(t *testing.T) {
	tr := NewTracker(5, nil)

	got := tr.Get("user-1")
	if got.Current != 0 || got.Total != 5 {
		t.Errorf("初期値 = %+v, want {Current:0 Total:5}", got)
	}
}

func TestTracker_IncrementCapsAtGoal(t *testing.T) {
	tr := NewTracker(5, nil)

	for i := 0; i < 8; i++ {
		tr.Increment("user-1")
	}

	got := tr.Get("user-1")
	if got.Current != 5 {
		t.Errorf("Current = %d, want 5 (目標値で頭打ち)", got.Current)
	}
}

func TestTracker_UsersAreIndependent(t *testing.T) {
	tr := NewTracker(5, nil)

	tr.Increment("user-1")
	tr.Increment("user-1")
	tr.Increment("user-2")

	if got := tr.Get("user-1").Current; got != 2 {
		t.Errorf("user-1 Current = %d, want 2", got)
	}
	if got := tr.Get("user-2").Current; got != 1 {
		t.Errorf("user-2 Current = %d, want 1", got)
	}
}

func TestTracker_CompleteTaskRecordsMetrics(t *testing.T) {
	m := &mockTaskMetrics{}
	tr := NewTracker(2, m)

	tr.CompleteTask("user-1", "vocab")
	tr.CompleteTask("user-1", "writing")
	tr.CompleteTask("user-1", "mock_reading")

	if got := tr.Get("user-1").Current; got != 2 {
		t.Errorf("Current = %d, want 2", got)
	}
	if len(m.sources) != 3 {
		t.Fatalf("メトリクス記録回数 = %d, want 3", len(m.sources))
	}
	if m.sources[1] != "writing" {
		t.Errorf("2回目の記録 = %s, want writing", m.sources[1])
	}
}

func TestTracker_InvalidGoalDefaultsToOne(t *testing.T) {
	tr := NewTracker(0, nil)

	if got := tr.Increment("user-1"); got.Total != 1 || got.Current != 1 {
		t.Errorf("Increment = %+v, want {Current:1 Total:1}", got)
	}
}

func TestTracker_ConcurrentIncrements(t *testing.T) {
	tr := NewTracker(100, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.CompleteTask("user-1", "vocab")
		}()
	}
	wg.Wait()

	if got := tr.Get("user-1").Current; got != 50 {
		t.Errorf("Current = %d, want 50", got)
	}
}
