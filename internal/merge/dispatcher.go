package merge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"thirdcoast.systems/shelf/internal/metadata"
)

var (
	// ErrQueueFull is returned when no queue slot is free.
	ErrQueueFull = errors.New("merge: job queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("merge: dispatcher closed")
)

// finishedRetention is how long finished jobs stay queryable.
const finishedRetention = time.Hour

// State is the lifecycle stage of a job.
type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Merger is the work a dispatcher runs.
type Merger interface {
	FinalPath(part metadata.VideoPart, targetDir string) string
	DownloadAndMerge(ctx context.Context, bvid string, part metadata.VideoPart, targetDir string) (string, error)
}

// Request names one part to merge into TargetDir.
type Request struct {
	BVID      string
	Part      metadata.VideoPart
	TargetDir string
}

// Job tracks one submitted Request.
type Job struct {
	ID      string
	Request Request
	// Path is the final file the job produces.
	Path string

	mu        sync.Mutex
	state     State
	err       error
	createdAt time.Time
	updatedAt time.Time
	done      chan struct{}
}

// Status is a point-in-time view of a job.
type Status struct {
	ID        string    `json:"id"`
	BVID      string    `json:"bvid"`
	Page      int       `json:"page"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newJob(req Request, path string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Path:      path,
		state:     StatePending,
		createdAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
	}
}

// Status returns a snapshot.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Status{
		ID:        j.ID,
		BVID:      j.Request.BVID,
		Page:      j.Request.Part.Page,
		Title:     j.Request.Part.Title,
		State:     j.state,
		CreatedAt: j.createdAt,
		UpdatedAt: j.updatedAt,
	}
	if j.state == StateCompleted {
		s.Path = j.Path
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

// Done is closed once the job completed or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. Abandoning the wait does
// not cancel the job.
func (j *Job) Wait(ctx context.Context) (string, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return "", j.err
	}
	return j.Path, nil
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.updatedAt = time.Now()
	j.mu.Unlock()
}

func (j *Job) finish(path string, err error) {
	j.mu.Lock()
	if err != nil {
		j.state = StateFailed
		j.err = err
	} else {
		j.state = StateCompleted
		j.Path = path
	}
	j.updatedAt = time.Now()
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) finishedBefore(t time.Time) bool {
	select {
	case <-j.done:
	default:
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.updatedAt.Before(t)
}

// Dispatcher runs merge jobs on a fixed pool of workers. Requests for a
// final path that already has a pending or running job join that job.
type Dispatcher struct {
	merger  Merger
	workers int
	queue   chan *Job

	mu     sync.Mutex
	jobs   map[string]*Job
	active map[string]*Job
	closed bool

	wg sync.WaitGroup
}

// NewDispatcher returns a dispatcher with workers goroutines and room for
// queueSize waiting jobs. Call Start to begin processing.
func NewDispatcher(merger Merger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		merger:  merger,
		workers: workers,
		queue:   make(chan *Job, queueSize),
		jobs:    make(map[string]*Job),
		active:  make(map[string]*Job),
	}
}

// Start launches the workers. Jobs run under ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for job := range d.queue {
				d.run(ctx, worker, job)
			}
		}(i)
	}
	slog.Info("merge dispatcher started", "workers", d.workers, "queue", cap(d.queue))
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit queues req, or returns the pending or running job for the same
// final path.
func (d *Dispatcher) Submit(req Request) (*Job, error) {
	path := d.merger.FinalPath(req.Part, req.TargetDir)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if job, ok := d.active[path]; ok {
		return job, nil
	}
	d.pruneLocked(time.Now().Add(-finishedRetention))

	job := newJob(req, path)
	select {
	case d.queue <- job:
	default:
		return nil, ErrQueueFull
	}
	d.jobs[job.ID] = job
	d.active[path] = job
	slog.Debug("queued merge job", "job", job.ID, "bvid", req.BVID, "page", req.Part.Page)
	return job, nil
}

// Job looks up a job by id.
func (d *Dispatcher) Job(id string) (*Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[id]
	return job, ok
}

func (d *Dispatcher) run(ctx context.Context, worker int, job *Job) {
	job.setState(StateDownloading)
	req := job.Request

	path, err := d.merger.DownloadAndMerge(ctx, req.BVID, req.Part, req.TargetDir)
	if err != nil {
		slog.Error("merge job failed", "job", job.ID, "worker", worker, "bvid", req.BVID, "page", req.Part.Page, "error", err)
	} else {
		slog.Info("merge job completed", "job", job.ID, "worker", worker, "path", path)
	}

	d.mu.Lock()
	delete(d.active, job.Path)
	d.mu.Unlock()
	job.finish(path, err)
}

func (d *Dispatcher) pruneLocked(cutoff time.Time) {
	for id, job := range d.jobs {
		if job.finishedBefore(cutoff) {
			delete(d.jobs, id)
		}
	}
}
