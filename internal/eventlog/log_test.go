package eventlog

import (
	"context"
	"testing"

	"github.com/agentkernel/kernel/pkg/models"
)

type stubSigner struct{}

func (stubSigner) Sign(lastEventID uint64) (string, error) { return "sig", nil }
func (stubSigner) Verify(signature string) (uint64, error) { return 0, nil }

func TestLog_AppendAssignsMonotonicIDs(t *testing.T) {
	l := New(NewMemoryStore(), stubSigner{}, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry, err := l.Append(ctx, models.EventEntry{Type: models.EventActivation})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if entry.ID != uint64(i+1) {
			t.Errorf("entry %d: ID = %d, want %d", i, entry.ID, i+1)
		}
	}
}

func TestLog_SubscribersNotifiedInOrderSynchronously(t *testing.T) {
	l := New(NewMemoryStore(), stubSigner{}, 0)
	ctx := context.Background()

	var got []uint64
	l.Subscribe(func(e models.EventEntry) { got = append(got, e.ID) })
	l.Subscribe(func(e models.EventEntry) { got = append(got, e.ID*100) })

	if _, err := l.Append(ctx, models.EventEntry{Type: models.EventActivation}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	want := []uint64{1, 100}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLog_UnsubscribeStopsNotifications(t *testing.T) {
	l := New(NewMemoryStore(), stubSigner{}, 0)
	ctx := context.Background()

	count := 0
	unsubscribe := l.Subscribe(func(models.EventEntry) { count++ })
	l.Append(ctx, models.EventEntry{Type: models.EventActivation})
	unsubscribe()
	l.Append(ctx, models.EventEntry{Type: models.EventActivation})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestLog_CheckpointIntervalTriggersAutomatically(t *testing.T) {
	l := New(NewMemoryStore(), stubSigner{}, 2)
	ctx := context.Background()

	l.Append(ctx, models.EventEntry{Type: models.EventActivation})
	if len(l.Checkpoints()) != 0 {
		t.Fatalf("checkpoint fired early: %v", l.Checkpoints())
	}
	l.Append(ctx, models.EventEntry{Type: models.EventActivation})
	cps := l.Checkpoints()
	if len(cps) != 1 || cps[0].LastEventID != 2 {
		t.Errorf("checkpoints = %+v, want one at event 2", cps)
	}
}

func TestLog_ExplicitCheckpoint(t *testing.T) {
	l := New(NewMemoryStore(), stubSigner{}, 0)
	ctx := context.Background()

	l.Append(ctx, models.EventEntry{Type: models.EventActivation})
	cp, err := l.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.LastEventID != 1 {
		t.Errorf("LastEventID = %d, want 1", cp.LastEventID)
	}
}

func TestLog_Clear(t *testing.T) {
	l := New(NewMemoryStore(), stubSigner{}, 0)
	ctx := context.Background()

	l.Append(ctx, models.EventEntry{Type: models.EventActivation})
	l.Checkpoint(ctx)
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snap, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot after clear = %v, want empty", snap)
	}
	if len(l.Checkpoints()) != 0 {
		t.Errorf("checkpoints after clear = %v, want empty", l.Checkpoints())
	}

	entry, err := l.Append(ctx, models.EventEntry{Type: models.EventActivation})
	if err != nil {
		t.Fatalf("Append after clear: %v", err)
	}
	if entry.ID != 1 {
		t.Errorf("ID after clear = %d, want 1 (ids restart)", entry.ID)
	}
}
