package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Saluana/or3-chat-sub013/internal/domain"
)

func newTestMemory(maxActive int) *MemoryStore {
	return NewMemory(maxActive, 10*time.Minute, 24*time.Hour)
}

func testParams(owner string) domain.CreateJobParams {
	return domain.CreateJobParams{
		OwnerID:   owner,
		ThreadID:  "thread-1",
		MessageID: "message-1",
		Model:     "gpt-4o-mini",
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, err := s.CreateJob(ctx, testParams("owner-a"))
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	if job.ID == "" {
		t.Fatal("CreateJob returned empty id")
	}
	if job.Status != domain.JobStatusStreaming {
		t.Fatalf("status mismatch: got %q want %q", job.Status, domain.JobStatusStreaming)
	}

	got, err := s.GetJob(ctx, job.ID, "owner-a")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if got.ThreadID != "thread-1" || got.MessageID != "message-1" {
		t.Fatalf("job metadata mismatch: %+v", got)
	}
	if got.Content != "" || got.ChunksReceived != 0 {
		t.Fatalf("new job should be empty, got %+v", got)
	}
}

func TestMemoryGetHidesForeignJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, err := s.CreateJob(ctx, testParams("owner-a"))
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}

	_, foreignErr := s.GetJob(ctx, job.ID, "owner-b")
	_, unknownErr := s.GetJob(ctx, "no-such-id", "owner-a")

	if !errors.Is(foreignErr, domain.ErrNotFound) {
		t.Fatalf("foreign owner: got %v, want ErrNotFound", foreignErr)
	}
	if !errors.Is(unknownErr, domain.ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", unknownErr)
	}
	// The two failure modes must be the same error so callers cannot probe
	// for the existence of other owners' jobs.
	if foreignErr.Error() != unknownErr.Error() {
		t.Fatalf("errors should be indistinguishable: %q vs %q", foreignErr, unknownErr)
	}
}

func TestMemoryAppendsAccumulateInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))
	if err := s.UpdateJob(ctx, job.ID, domain.JobDelta{ContentDelta: "Hel", Chunks: 1}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.UpdateJob(ctx, job.ID, domain.JobDelta{ContentDelta: "lo ", Chunks: 2}); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if err := s.CompleteJob(ctx, job.ID, "Hel"+"lo "+"world"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID, "owner-a")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if got.Content != "Hello world" {
		t.Fatalf("content mismatch: got %q want %q", got.Content, "Hello world")
	}
	if got.ChunksReceived != 3 {
		t.Fatalf("chunks mismatch: got %d want 3", got.ChunksReceived)
	}
	if got.Status != domain.JobStatusComplete {
		t.Fatalf("status mismatch: got %q", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set on completion")
	}
}

func TestMemoryTerminalJobsAreFrozen(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)
	current := time.Now()
	s.now = func() time.Time { return current }

	job, _ := s.CreateJob(ctx, testParams("owner-a"))
	s.UpdateJob(ctx, job.ID, domain.JobDelta{ContentDelta: "partial", Chunks: 1})
	if err := s.CompleteJob(ctx, job.ID, "partial"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	first, _ := s.GetJob(ctx, job.ID, "owner-a")

	// Late flushes, repeat completions and failures must all bounce off.
	current = current.Add(time.Minute)
	if err := s.UpdateJob(ctx, job.ID, domain.JobDelta{ContentDelta: " more", Chunks: 1}); err != nil {
		t.Fatalf("late append should be silent, got %v", err)
	}
	if err := s.CompleteJob(ctx, job.ID, "partial but longer"); err != nil {
		t.Fatalf("repeat complete should be silent, got %v", err)
	}
	if err := s.FailJob(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("fail after complete should be silent, got %v", err)
	}

	got, _ := s.GetJob(ctx, job.ID, "owner-a")
	if got.Content != "partial" {
		t.Fatalf("terminal content changed: got %q", got.Content)
	}
	if got.Status != domain.JobStatusComplete {
		t.Fatalf("terminal status changed: got %q", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("terminal error set: got %q", got.ErrorMessage)
	}
	if !got.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("CompletedAt moved: got %v want %v", got.CompletedAt, first.CompletedAt)
	}
}

func TestMemoryCompleteKeepsLongerAccumulated(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))
	s.UpdateJob(ctx, job.ID, domain.JobDelta{ContentDelta: "Hello world", Chunks: 2})

	// A final content shorter than what already landed must not shrink it.
	if err := s.CompleteJob(ctx, job.ID, "Hello"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := s.GetJob(ctx, job.ID, "owner-a")
	if got.Content != "Hello world" {
		t.Fatalf("content shrank: got %q", got.Content)
	}
}

func TestMemoryCapacity(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(1)

	first, err := s.CreateJob(ctx, testParams("owner-a"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	if _, err := s.CreateJob(ctx, testParams("owner-b")); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("second create: got %v, want ErrCapacityExceeded", err)
	}

	if err := s.CompleteJob(ctx, first.ID, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.CreateJob(ctx, testParams("owner-b")); err != nil {
		t.Fatalf("create after slot freed: %v", err)
	}
}

func TestMemoryAbort(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))
	s.UpdateJob(ctx, job.ID, domain.JobDelta{ContentDelta: "so far", Chunks: 1})

	if _, err := s.AbortJob(ctx, job.ID, "owner-b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign abort: got %v, want ErrNotFound", err)
	}
	if _, err := s.AbortJob(ctx, "no-such-id", "owner-a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown abort: got %v, want ErrNotFound", err)
	}

	aborted, err := s.AbortJob(ctx, job.ID, "owner-a")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if !aborted {
		t.Fatal("first abort should report the transition")
	}

	again, err := s.AbortJob(ctx, job.ID, "owner-a")
	if err != nil {
		t.Fatalf("repeat abort: %v", err)
	}
	if again {
		t.Fatal("repeat abort should be a no-op")
	}

	got, _ := s.GetJob(ctx, job.ID, "owner-a")
	if got.Status != domain.JobStatusAborted {
		t.Fatalf("status mismatch: got %q", got.Status)
	}
	if got.Content != "so far" {
		t.Fatalf("abort dropped accumulated content: got %q", got.Content)
	}
}

func TestMemoryAbortAfterCompleteIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))
	s.CompleteJob(ctx, job.ID, "done")

	aborted, err := s.AbortJob(ctx, job.ID, "owner-a")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if aborted {
		t.Fatal("abort after completion should not transition")
	}
	got, _ := s.GetJob(ctx, job.ID, "owner-a")
	if got.Status != domain.JobStatusComplete {
		t.Fatalf("status mismatch: got %q", got.Status)
	}
}

func TestMemoryCleanupExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(8, 10*time.Minute, time.Hour)
	current := time.Now()
	s.now = func() time.Time { return current }

	stale, _ := s.CreateJob(ctx, testParams("owner-a"))
	s.UpdateJob(ctx, stale.ID, domain.JobDelta{ContentDelta: "stuck", Chunks: 1})

	current = current.Add(5 * time.Minute)
	fresh, _ := s.CreateJob(ctx, testParams("owner-b"))

	finished, _ := s.CreateJob(ctx, testParams("owner-c"))
	s.CompleteJob(ctx, finished.ID, "old result")

	// Past the stream timeout for the first job, not yet past retention.
	current = current.Add(6 * time.Minute)
	res, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(res.TimedOut) != 1 || res.TimedOut[0].ID != stale.ID {
		t.Fatalf("timed out mismatch: %+v", res.TimedOut)
	}
	if res.TimedOut[0].Status != domain.JobStatusError {
		t.Fatalf("timed out status: got %q", res.TimedOut[0].Status)
	}
	if res.TimedOut[0].Content != "stuck" {
		t.Fatalf("timed out content dropped: got %q", res.TimedOut[0].Content)
	}
	if res.Deleted != 0 {
		t.Fatalf("deleted too early: got %d", res.Deleted)
	}

	got, _ := s.GetJob(ctx, stale.ID, "owner-a")
	if got.Status != domain.JobStatusError {
		t.Fatalf("force-failed status not persisted: got %q", got.Status)
	}

	fresher, _ := s.GetJob(ctx, fresh.ID, "owner-b")
	if fresher.Status != domain.JobStatusStreaming {
		t.Fatalf("fresh stream touched by cleanup: got %q", fresher.Status)
	}

	// Past retention for everything terminal.
	current = current.Add(2 * time.Hour)
	res, err = s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	// The fresh job times out in this pass; the two older terminal jobs age out.
	if len(res.TimedOut) != 1 || res.TimedOut[0].ID != fresh.ID {
		t.Fatalf("second pass timed out mismatch: %+v", res.TimedOut)
	}
	if res.Deleted != 2 {
		t.Fatalf("deleted mismatch: got %d want 2", res.Deleted)
	}
	if _, err := s.GetJob(ctx, finished.ID, "owner-c"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired job still readable: %v", err)
	}

	// An immediate repeat finds nothing: the job force-failed a moment ago
	// has not aged past retention yet.
	res, err = s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("third cleanup: %v", err)
	}
	if len(res.TimedOut) != 0 || res.Deleted != 0 {
		t.Fatalf("repeat pass should be a no-op, got %+v", res)
	}
}

func TestMemoryBindCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))

	fired := make(chan struct{})
	s.BindCancel(job.ID, func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("cancel fired before abort")
	default:
	}

	if _, err := s.AbortJob(ctx, job.ID, "owner-a"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	select {
	case <-fired:
	default:
		t.Fatal("abort did not fire the bound cancel")
	}
}

func TestMemoryBindCancelOnTerminalFiresImmediately(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))
	s.CompleteJob(ctx, job.ID, "done")

	fired := make(chan struct{})
	s.BindCancel(job.ID, func() { close(fired) })
	select {
	case <-fired:
	default:
		t.Fatal("binding to a terminal job must fire the cancel")
	}
}

func TestMemoryConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestMemory(4)

	job, _ := s.CreateJob(ctx, testParams("owner-a"))

	const workers = 16
	const appends = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < appends; i++ {
				delta := domain.JobDelta{ContentDelta: fmt.Sprintf("[%d.%d]", w, i), Chunks: 1}
				if err := s.UpdateJob(ctx, job.ID, delta); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := s.GetJob(ctx, job.ID, "owner-a")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if got.ChunksReceived != workers*appends {
		t.Fatalf("chunks mismatch: got %d want %d", got.ChunksReceived, workers*appends)
	}
	// Every append is atomic, so the total length is exactly the sum of the
	// individual delta lengths even under contention.
	want := 0
	for w := 0; w < workers; w++ {
		for i := 0; i < appends; i++ {
			want += len(fmt.Sprintf("[%d.%d]", w, i))
		}
	}
	if len(got.Content) != want {
		t.Fatalf("content length mismatch: got %d want %d", len(got.Content), want)
	}
}
