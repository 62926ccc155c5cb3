package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "stats.sqlite"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)

	reports := []*model.WorkerStats{
		{WorkerID: "worker-0", Pending: 3, Active: 1, Timestamp: time.Now().Add(-time.Second)},
		{WorkerID: "worker-1", Pending: 0, Active: 2, Timestamp: time.Now()},
	}
	for _, rep := range reports {
		if err := db.Record(rep); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(got))
	}
	// Newest first
	if got[0].WorkerID != "worker-1" || got[1].WorkerID != "worker-0" {
		t.Errorf("Wrong order: %s, %s", got[0].WorkerID, got[1].WorkerID)
	}
	if got[1].Pending != 3 {
		t.Errorf("Pending count lost: %d", got[1].Pending)
	}
}

func TestSinkDrainsStatsChannel(t *testing.T) {
	db := openTestDB(t)
	q := ipc.NewQueue()
	sink := NewSink(db, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	q.Put(&model.WorkerStats{WorkerID: "worker-7", Pending: 5})

	deadline := time.After(2 * time.Second)
	for {
		got, err := db.Recent(1)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(got) == 1 {
			if got[0].WorkerID != "worker-7" {
				t.Errorf("Wrong worker recorded: %s", got[0].WorkerID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Sink never recorded the report")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	q.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sink did not stop on channel close")
	}
}

func TestForwardKVEvents(t *testing.T) {
	q := ipc.NewQueue()
	got := make(chan *model.KVCacheEvent, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ForwardKVEvents(ctx, q, func(ev *model.KVCacheEvent) { got <- ev })

	q.Put(&model.KVCacheEvent{WorkerID: "worker-0", Event: "block_evicted"})

	select {
	case ev := <-got:
		if ev.Event != "block_evicted" {
			t.Errorf("Wrong event forwarded: %s", ev.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Event never forwarded")
	}
}
