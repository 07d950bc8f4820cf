// Package queue implements the keyed, priority-ordered job queue that sits
// between the config watcher and the orchestrator: a container/heap
// min-heap plus mutex-guarded pending and running maps, with stale heap
// entries discarded lazily at dequeue.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cwsf/cwsf/internal/config"
)

// Status is a Job's lifecycle state within the queue.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCancelled
	StatusCompleted
	StatusFailed
)

// Job is one scheduled scrape, keyed by JobID (equal to the site's
// SiteName) for upsert and removal.
type Job struct {
	JobID     string
	Config    *config.Config
	Priority  int
	CreatedAt time.Time
	Status    Status
}

// heapEntry is the min-heap key tuple (priority, created_at, job_id).
// Entries go stale when their job is updated, removed, or re-pushed with a
// new priority; dequeue discards stale entries lazily rather than
// rewriting the heap in place.
type heapEntry struct {
	priority  int
	createdAt time.Time
	jobID     string
}

type entryHeap []heapEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if !h[i].createdAt.Equal(h[j].createdAt) {
		return h[i].createdAt.Before(h[j].createdAt)
	}
	return h[i].jobID < h[j].jobID
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(heapEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe priority job queue. A single mutex guards the
// heap and both side maps; no call suspends while holding it.
type Queue struct {
	mu      sync.Mutex
	heap    *entryHeap
	pending map[string]*Job
	running map[string]*Job
}

// New creates an empty Queue.
func New() *Queue {
	h := &entryHeap{}
	heap.Init(h)
	return &Queue{
		heap:    h,
		pending: make(map[string]*Job),
		running: make(map[string]*Job),
	}
}

// Enqueue adds or updates a job. A job_id already RUNNING has its running
// snapshot's config replaced but is not re-enqueued; the in-flight
// execution keeps its original config. A job_id already PENDING keeps its
// CreatedAt (so the existing heap entry stays valid) and has its config
// replaced in place; only a priority change pushes a fresh heap entry,
// leaving the old one to go stale. A genuinely new job_id gets both a map
// entry and a heap entry.
func (q *Queue) Enqueue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.running[job.JobID]; ok {
		existing.Config = job.Config
		return
	}

	if existing, ok := q.pending[job.JobID]; ok {
		existing.Config = job.Config
		if job.Priority != existing.Priority {
			existing.Priority = job.Priority
			heap.Push(q.heap, heapEntry{priority: existing.Priority, createdAt: existing.CreatedAt, jobID: job.JobID})
		}
		return
	}

	job.Status = StatusPending
	q.pending[job.JobID] = job
	heap.Push(q.heap, heapEntry{priority: job.Priority, createdAt: job.CreatedAt, jobID: job.JobID})
}

// Dequeue pops heap entries until it finds one whose job_id is still
// PENDING with matching identity, discarding stale entries along the way.
// The returned Job transitions PENDING -> RUNNING. Returns nil if no
// PENDING job is available.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		entry := heap.Pop(q.heap).(heapEntry)
		job, ok := q.pending[entry.jobID]
		if !ok || job.Status != StatusPending {
			continue
		}
		if job.Priority != entry.priority || !job.CreatedAt.Equal(entry.createdAt) {
			continue
		}
		delete(q.pending, entry.jobID)
		job.Status = StatusRunning
		q.running[entry.jobID] = job
		return job
	}
	return nil
}

// Remove deletes a PENDING job outright (the heap entry goes stale and is
// discarded at dequeue). A RUNNING job is instead marked CANCELLED;
// cancellation is advisory, and completion of the in-flight work is
// best-effort.
func (q *Queue) Remove(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[jobID]; ok {
		delete(q.pending, jobID)
		return
	}
	if job, ok := q.running[jobID]; ok {
		job.Status = StatusCancelled
	}
}

// Update replaces the config on a PENDING job. If the resulting priority
// differs from the job's current priority, a new heap entry is pushed for
// the updated priority and the old heap entry is left to go stale. A
// RUNNING job's update is deferred: the running snapshot's config changes,
// but the in-flight execution is unaffected until it finishes.
func (q *Queue) Update(jobID string, newConfig *config.Config, newPriority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.pending[jobID]; ok {
		oldPriority := job.Priority
		job.Config = newConfig
		job.Priority = newPriority
		if newPriority != oldPriority {
			heap.Push(q.heap, heapEntry{priority: newPriority, createdAt: job.CreatedAt, jobID: jobID})
		}
		return
	}
	if job, ok := q.running[jobID]; ok {
		job.Config = newConfig
	}
}

// Complete marks a RUNNING job COMPLETED or FAILED and removes it from the
// running set.
func (q *Queue) Complete(jobID string, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.running[jobID]
	if !ok {
		return
	}
	delete(q.running, jobID)
	if success {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusFailed
	}
}

// ListJobs returns every PENDING and RUNNING job. Order is unspecified.
func (q *Queue) ListJobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.pending)+len(q.running))
	for _, j := range q.pending {
		jobs = append(jobs, j)
	}
	for _, j := range q.running {
		jobs = append(jobs, j)
	}
	return jobs
}

// Size returns the count of PENDING jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
