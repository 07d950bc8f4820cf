package queue

import (
	"testing"
	"time"

	"github.com/cwsf/cwsf/internal/config"
)

func newJob(id string, priority int, createdAt time.Time) *Job {
	return &Job{
		JobID:     id,
		Config:    &config.Config{SiteName: id},
		Priority:  priority,
		CreatedAt: createdAt,
	}
}

func TestDequeueOrdersByPriorityThenCreatedAt(t *testing.T) {
	q := New()
	t0 := time.Unix(0, 0)

	q.Enqueue(newJob("A", 5, t0.Add(1*time.Second)))
	q.Enqueue(newJob("B", 1, t0.Add(2*time.Second)))
	q.Enqueue(newJob("C", 5, t0.Add(3*time.Second)))

	var order []string
	for {
		job := q.Dequeue()
		if job == nil {
			break
		}
		order = append(order, job.JobID)
	}

	want := []string{"B", "A", "C"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected dequeue order %v, got %v", want, order)
		}
	}
}

func TestEnqueuePendingUpsertReplacesValueNotHeapEntry(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))

	replacement := newJob("A", 10, t0)
	replacement.Config.BaseURL = "http://updated"
	q.Enqueue(replacement)

	if q.Size() != 1 {
		t.Fatalf("expected size 1 after upsert, got %d", q.Size())
	}

	job := q.Dequeue()
	if job == nil || job.Config.BaseURL != "http://updated" {
		t.Fatalf("expected upserted config to survive dequeue, got %+v", job)
	}
	if q.Dequeue() != nil {
		t.Fatal("expected no second job after a single upserted enqueue")
	}
}

func TestEnqueuePendingUpsertWithPriorityChangeStillDequeues(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))
	q.Enqueue(newJob("B", 5, t0.Add(time.Second)))

	q.Enqueue(newJob("A", 1, t0.Add(2*time.Second)))

	if q.Size() != 2 {
		t.Fatalf("expected size 2 after upsert, got %d", q.Size())
	}

	job := q.Dequeue()
	if job == nil || job.JobID != "A" {
		t.Fatalf("expected A first after its priority dropped to 1, got %+v", job)
	}
	job2 := q.Dequeue()
	if job2 == nil || job2.JobID != "B" {
		t.Fatalf("expected B second, got %+v", job2)
	}
	if q.Dequeue() != nil {
		t.Fatal("expected A's stale old-priority heap entry to be discarded")
	}
}

func TestEnqueueRunningUpdatesSnapshotWithoutRequeue(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))
	q.Dequeue()

	replacement := newJob("A", 10, t0)
	replacement.Config.BaseURL = "http://updated"
	q.Enqueue(replacement)

	if q.Size() != 0 {
		t.Fatalf("expected enqueueing a RUNNING job_id not to re-enqueue it, got size %d", q.Size())
	}
	jobs := q.ListJobs()
	if len(jobs) != 1 || jobs[0].Config.BaseURL != "http://updated" {
		t.Fatalf("expected running snapshot updated in place, got %+v", jobs)
	}
}

func TestUpdatePendingWithPriorityChangePushesNewHeapEntry(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))
	q.Enqueue(newJob("B", 5, t0.Add(time.Second)))

	q.Update("A", &config.Config{SiteName: "A", BaseURL: "http://updated"}, 1)

	job := q.Dequeue()
	if job == nil || job.JobID != "A" {
		t.Fatalf("expected A to dequeue first after priority change, got %+v", job)
	}
	if job.Config.BaseURL != "http://updated" {
		t.Fatalf("expected updated config on dequeued job, got %+v", job.Config)
	}

	job2 := q.Dequeue()
	if job2 == nil || job2.JobID != "B" {
		t.Fatalf("expected B second, got %+v", job2)
	}
	if q.Dequeue() != nil {
		t.Fatal("expected the stale heap entry for A's old priority to be discarded")
	}
}

func TestRemovePendingDeletesEntry(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))
	q.Remove("A")

	if q.Size() != 0 {
		t.Fatalf("expected size 0 after removing pending job, got %d", q.Size())
	}
	if q.Dequeue() != nil {
		t.Fatal("expected no job to dequeue after removal")
	}
}

func TestRemoveRunningMarksCancelled(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))
	q.Dequeue()
	q.Remove("A")

	jobs := q.ListJobs()
	if len(jobs) != 1 || jobs[0].Status != StatusCancelled {
		t.Fatalf("expected running job marked cancelled, got %+v", jobs)
	}
}

func TestCompleteRemovesFromRunning(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Enqueue(newJob("A", 10, t0))
	q.Dequeue()
	q.Complete("A", true)

	if len(q.ListJobs()) != 0 {
		t.Fatal("expected completed job to leave the queue entirely")
	}
}
