package jobhost

import (
	"context"
	"errors"
	"testing"
	"time"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLStore)(nil)

func TestMemoryStore_EnqueueAndListOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := s.Enqueue(ctx, 1, nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	if _, err := s.Enqueue(ctx, 2, nil); err != nil {
		t.Fatalf("Enqueue other queue: %v", err)
	}

	jobs, err := s.ListQueued(ctx, 1, 3)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("ListQueued returned %d jobs, want 3", len(jobs))
	}
	for i, job := range jobs {
		if job.ID != ids[i] {
			t.Errorf("jobs[%d].ID = %d, want %d (oldest first)", i, job.ID, ids[i])
		}
		if job.Queue != 1 || job.Status != StatusQueued {
			t.Errorf("jobs[%d] = queue %d status %v", i, job.Queue, job.Status)
		}
	}

	if jobs, _ := s.ListQueued(ctx, 1, 0); jobs != nil {
		t.Fatalf("ListQueued with limit 0 returned %v", jobs)
	}
}

func TestMemoryStore_ClaimGuards(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := NewMemoryStore()
	id, _ := s.Enqueue(ctx, 1, nil)

	claimed, err := s.Claim(ctx, id, 0, "w1", now)
	if err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v), want (true, nil)", claimed, err)
	}
	job, _ := s.Get(ctx, id)
	if job.Status != StatusRunning || job.Worker != "w1" || job.Attempts != 1 || job.Version != 1 {
		t.Fatalf("after claim: %+v", job)
	}

	// Stale version and non-queued status both miss without error.
	if claimed, err := s.Claim(ctx, id, 0, "w2", now); err != nil || claimed {
		t.Fatalf("second claim at stale version = (%v, %v), want (false, nil)", claimed, err)
	}
	if claimed, err := s.Claim(ctx, id, 1, "w2", now); err != nil || claimed {
		t.Fatalf("claim of running job = (%v, %v), want (false, nil)", claimed, err)
	}
	if claimed, err := s.Claim(ctx, 999, 0, "w2", now); err != nil || claimed {
		t.Fatalf("claim of missing job = (%v, %v), want (false, nil)", claimed, err)
	}
}

func TestMemoryStore_HeartbeatGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Enqueue(ctx, 1, nil)
	s.Claim(ctx, id, 0, "w1", time.Now().UTC())

	at := time.Now().UTC().Add(time.Minute)
	applied, err := s.Heartbeat(ctx, id, "w1", at, nil)
	if err != nil || !applied {
		t.Fatalf("Heartbeat = (%v, %v), want (true, nil)", applied, err)
	}
	job, _ := s.Get(ctx, id)
	if !job.HeartbeatAt.Equal(at) {
		t.Fatalf("HeartbeatAt = %v, want %v", job.HeartbeatAt, at)
	}
	if job.Progress != nil {
		t.Fatalf("nil progress should leave blob untouched, got %q", job.Progress)
	}

	if applied, _ := s.Heartbeat(ctx, id, "intruder", at, nil); applied {
		t.Fatal("heartbeat from non-owner applied")
	}

	applied, _ = s.Heartbeat(ctx, id, "w1", at, []byte("half-done"))
	if !applied {
		t.Fatal("heartbeat with progress missed")
	}
	job, _ = s.Get(ctx, id)
	if string(job.Progress) != "half-done" {
		t.Fatalf("Progress = %q, want half-done", job.Progress)
	}
}

func TestMemoryStore_CompleteGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Enqueue(ctx, 1, nil)
	s.Claim(ctx, id, 0, "w1", time.Now().UTC())

	if _, err := s.Complete(ctx, id, "w1", StatusRunning, time.Now().UTC(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Complete with non-terminal status = %v, want ErrInvalidArgument", err)
	}
	if applied, _ := s.Complete(ctx, id, "intruder", StatusCompleted, time.Now().UTC(), nil); applied {
		t.Fatal("complete from non-owner applied")
	}

	doneAt := time.Now().UTC().Add(time.Hour)
	applied, err := s.Complete(ctx, id, "w1", StatusCompleted, doneAt, []byte("result"))
	if err != nil || !applied {
		t.Fatalf("Complete = (%v, %v), want (true, nil)", applied, err)
	}
	job, _ := s.Get(ctx, id)
	if job.Status != StatusCompleted || !job.HeartbeatAt.Equal(doneAt) || string(job.Progress) != "result" {
		t.Fatalf("after complete: %+v", job)
	}

	if applied, _ := s.Complete(ctx, id, "w1", StatusFailed, doneAt, nil); applied {
		t.Fatal("complete of already-terminal job applied")
	}
}

func TestMemoryStore_ReclaimSplitsByAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	stale := now.Add(-10 * time.Minute)

	retry := s.Put(Job{Queue: 1, Status: StatusRunning, Worker: "dead", HeartbeatAt: stale, Attempts: 2})
	spent := s.Put(Job{Queue: 1, Status: StatusRunning, Worker: "dead", HeartbeatAt: stale, Attempts: 5})
	fresh := s.Put(Job{Queue: 1, Status: StatusRunning, Worker: "alive", HeartbeatAt: now, Attempts: 1})
	other := s.Put(Job{Queue: 2, Status: StatusRunning, Worker: "dead", HeartbeatAt: stale, Attempts: 1})

	requeued, failed, err := s.ReclaimStalled(ctx, 1, now.Add(-5*time.Minute), 5)
	if err != nil {
		t.Fatalf("ReclaimStalled: %v", err)
	}
	if requeued != 1 || failed != 1 {
		t.Fatalf("ReclaimStalled = (%d, %d), want (1, 1)", requeued, failed)
	}

	job, _ := s.Get(ctx, retry)
	if job.Status != StatusQueued || job.Worker != "" {
		t.Fatalf("retryable job after reclaim: %+v", job)
	}
	job, _ = s.Get(ctx, spent)
	if job.Status != StatusFailed || job.Worker != "" {
		t.Fatalf("spent job after reclaim: %+v", job)
	}
	if !job.HeartbeatAt.After(stale) {
		t.Fatalf("failed job's liveness timestamp not reset: %v", job.HeartbeatAt)
	}
	job, _ = s.Get(ctx, fresh)
	if job.Status != StatusRunning || job.Worker != "alive" {
		t.Fatalf("fresh job touched by reclaim: %+v", job)
	}
	job, _ = s.Get(ctx, other)
	if job.Status != StatusRunning {
		t.Fatalf("other queue touched by reclaim: %+v", job)
	}
}

func TestMemoryStore_CountAndRetention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	s.Put(Job{Queue: 1, Status: StatusQueued, HeartbeatAt: now})
	s.Put(Job{Queue: 1, Status: StatusQueued, HeartbeatAt: now})
	s.Put(Job{Queue: 1, Status: StatusCompleted, HeartbeatAt: old})
	s.Put(Job{Queue: 2, Status: StatusFailed, HeartbeatAt: old})
	s.Put(Job{Queue: 2, Status: StatusCompleted, HeartbeatAt: now})
	s.Put(Job{Queue: 2, Status: StatusRunning, HeartbeatAt: old})

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	want := []QueueCount{
		{Queue: 1, Status: StatusQueued, Count: 2},
		{Queue: 1, Status: StatusCompleted, Count: 1},
		{Queue: 2, Status: StatusRunning, Count: 1},
		{Queue: 2, Status: StatusCompleted, Count: 1},
		{Queue: 2, Status: StatusFailed, Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("CountByStatus = %+v, want %+v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}

	deleted, err := s.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteFinishedBefore: %v", err)
	}
	// The old running job stays: retention only touches terminal jobs.
	if deleted != 2 {
		t.Fatalf("DeleteFinishedBefore = %d, want 2", deleted)
	}
	counts, _ = s.CountByStatus(ctx)
	total := int64(0)
	for _, c := range counts {
		total += c.Count
	}
	if total != 4 {
		t.Fatalf("%d jobs left after retention, want 4", total)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	if _, err := NewMemoryStore().Get(context.Background(), 12); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}
