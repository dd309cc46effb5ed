package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
)

type recordingListener struct {
	events []Event
}

func (l *recordingListener) OnRegistryEvent(ev Event) {
	l.events = append(l.events, ev)
}

func create(t *testing.T, r *Registry, id, owner string, activity models.Activity) Agent {
	t.Helper()
	agent, err := r.Create(CreateParams{
		ID:               id,
		DisplayName:      id,
		Activity:         activity,
		OwnerKey:         owner,
		OwnerDisplayName: owner,
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return agent
}

func TestCreateDeriveStateAndSpawn(t *testing.T) {
	r := New()
	listener := &recordingListener{}
	r.AddListener(listener)

	agent := create(t, r, "s1", "alice", "coding")
	if agent.State != models.StateWorking {
		t.Errorf("state = %s, want WORKING", agent.State)
	}
	if len(listener.events) != 1 || listener.events[0].Type != EventSpawn {
		t.Fatalf("events = %+v, want one spawn", listener.events)
	}
	if listener.events[0].Agent.ID != "s1" {
		t.Errorf("spawn agent id = %s", listener.events[0].Agent.ID)
	}
}

func TestDuplicateCreateLeavesOriginalUnmodified(t *testing.T) {
	r := New()
	original := create(t, r, "s1", "alice", "coding")

	_, err := r.Create(CreateParams{ID: "s1", DisplayName: "imposter", Activity: "idle", OwnerKey: "bob"})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second create err = %v, want ErrExists", err)
	}

	got, ok := r.Get("s1")
	if !ok {
		t.Fatal("original agent gone")
	}
	if got.DisplayName != original.DisplayName || got.OwnerKey != "alice" || got.Activity != "coding" {
		t.Errorf("original mutated: %+v", got)
	}
}

func TestUpdateOwnershipAndEvents(t *testing.T) {
	r := New()
	listener := &recordingListener{}
	r.AddListener(listener)
	create(t, r, "s1", "alice", "coding")

	if _, err := r.Update("missing", "reading", 0, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
	if _, err := r.Update("s1", "reading", 0, "bob"); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-owner update err = %v, want ErrForbidden", err)
	}

	// Same derived state, different activity: the event still fires.
	before := len(listener.events)
	agent, err := r.Update("s1", "reading", 12.5, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if agent.State != models.StateWorking || agent.ContextUsage != 12.5 {
		t.Errorf("updated agent = %+v", agent)
	}
	if len(listener.events) != before+1 || listener.events[before].Type != EventUpdate {
		t.Errorf("update did not emit exactly one update event")
	}
}

func TestRemoveOwnership(t *testing.T) {
	r := New()
	create(t, r, "s1", "alice", "coding")

	if err := r.Remove("s1", "bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-owner remove err = %v, want ErrForbidden", err)
	}
	if _, ok := r.Get("s1"); !ok {
		t.Fatal("agent removed by non-owner")
	}

	if err := r.Remove("s1", "alice"); err != nil {
		t.Fatalf("owner remove: %v", err)
	}
	if _, ok := r.Get("s1"); ok {
		t.Fatal("agent still present after remove")
	}
	if err := r.Remove("s1", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestVariantAssignmentRoundRobin(t *testing.T) {
	r := New()
	a := create(t, r, "s1", "alice", "coding")
	b := create(t, r, "s2", "alice", "coding")
	c := create(t, r, "s3", "bob", "coding")

	if a.VariantIndex != 0 || b.VariantIndex != 1 {
		t.Errorf("alice variants = %d, %d; want 0, 1", a.VariantIndex, b.VariantIndex)
	}
	if c.VariantIndex != 0 {
		t.Errorf("bob first variant = %d, want 0", c.VariantIndex)
	}

	explicit := 7
	d, err := r.Create(CreateParams{ID: "s4", DisplayName: "s4", Activity: "coding", OwnerKey: "alice", VariantIndex: &explicit})
	if err != nil {
		t.Fatal(err)
	}
	if d.VariantIndex != 7 {
		t.Errorf("explicit variant = %d, want 7", d.VariantIndex)
	}
}

func TestIdleActionLifecycle(t *testing.T) {
	r := New()
	create(t, r, "s1", "alice", "idle")

	if !r.AssignIdleAction("s1", "coffee") {
		t.Fatal("assign to idle agent failed")
	}
	if r.AssignIdleAction("s1", "pace") {
		t.Fatal("second assign succeeded, want refusal")
	}

	// Any transition out of IDLE clears the action.
	agent, err := r.Update("s1", "coding", 0, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if agent.IdleAction != nil {
		t.Error("idle action survived transition to WORKING")
	}

	// Back to idle: assignable again.
	if _, err := r.Update("s1", "idle", 0, "alice"); err != nil {
		t.Fatal(err)
	}
	if !r.AssignIdleAction("s1", "nap") {
		t.Error("re-assign after returning to idle failed")
	}
}

func TestWithSnapshotBlocksMutation(t *testing.T) {
	r := New()
	create(t, r, "s1", "alice", "coding")

	started := make(chan struct{})
	finished := make(chan struct{})
	r.WithSnapshot(func(agents []Agent) {
		if len(agents) != 1 {
			t.Errorf("snapshot size = %d, want 1", len(agents))
		}
		go func() {
			close(started)
			create(t, r, "s2", "alice", "coding")
			close(finished)
		}()
		<-started
		// The concurrent create must not complete while the snapshot
		// callback runs.
		select {
		case <-finished:
			t.Error("mutation completed during snapshot callback")
		case <-time.After(50 * time.Millisecond):
		}
	})
	<-finished
}
