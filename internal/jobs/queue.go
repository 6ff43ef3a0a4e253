package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/camctl/internal/events"
	"github.com/danmuck/camctl/internal/observability"
	"github.com/danmuck/camctl/internal/streamer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull   = errors.New("jobs: queue full")
	ErrQueueClosed = errors.New("jobs: queue closed")
)

const (
	defaultSize    = 8
	defaultHistory = 32
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is a snapshot of one submitted command.
type Job struct {
	ID        string               `json:"id"`
	Operation streamer.Operation   `json:"operation"`
	State     State                `json:"state"`
	Error     string               `json:"error,omitempty"`
	ErrorKind string               `json:"error_kind,omitempty"`
	Run       streamer.RunSnapshot `json:"run"`
	Submitted time.Time            `json:"submitted"`
	Started   time.Time            `json:"started,omitzero"`
	Finished  time.Time            `json:"finished,omitzero"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

// Executor runs one installer command. *streamer.Installer satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd streamer.Command, observe streamer.Observer) error
}

type Config struct {
	Executor Executor
	// Size bounds the jobs waiting behind the running one.
	Size int
	// History bounds the finished jobs kept for Get and List.
	History int
	Hub     *events.Hub
	Logger  *zerolog.Logger
}

type entry struct {
	id  string
	cmd streamer.Command
}

// Queue runs installer commands one at a time on a single worker.
type Queue struct {
	exec    Executor
	hub     *events.Hub
	logger  zerolog.Logger
	history int

	mu       sync.Mutex
	jobs     map[string]*Job
	finished []string
	closed   bool
	pending  chan entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the worker. Call Close to stop it.
func New(cfg Config) *Queue {
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	history := cfg.History
	if history <= 0 {
		history = defaultHistory
	}
	logger := log.Logger.With().Str("component", "jobs").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		exec:    cfg.Executor,
		hub:     cfg.Hub,
		logger:  logger,
		history: history,
		jobs:    make(map[string]*Job),
		pending: make(chan entry, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.work()
	return q
}

// Submit enqueues cmd and returns its queued snapshot without waiting.
func (q *Queue) Submit(cmd streamer.Command) (Job, error) {
	if cmd == nil {
		return Job{}, ErrUnknownCommand
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, ErrQueueClosed
	}
	job := &Job{
		ID:        uuid.NewString(),
		Operation: cmd.Operation(),
		State:     StateQueued,
		Run:       streamer.RunSnapshot{Operation: cmd.Operation(), State: streamer.RunPending},
		Submitted: time.Now().UTC(),
	}
	select {
	case q.pending <- entry{id: job.ID, cmd: cmd}:
	default:
		q.mu.Unlock()
		q.logger.Warn().Str("operation", string(cmd.Operation())).Msg("rejected: queue full")
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	snap := *job
	depth := len(q.pending)
	q.mu.Unlock()

	observability.SetJobsQueued(depth)
	q.logger.Info().Str("job", snap.ID).Str("operation", string(snap.Operation)).Msg("job queued")
	q.publish(snap)
	return snap, nil
}

// Get returns the job with id, if it is still tracked.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns every tracked job, oldest submission first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	q.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out
}

// Close stops accepting jobs and waits for the queued ones to finish. If ctx
// ends first the running job's context is canceled and ctx.Err is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer close(q.done)
	for e := range q.pending {
		observability.SetJobsQueued(len(q.pending))
		q.run(e)
	}
}

func (q *Queue) run(e entry) {
	q.update(e.id, func(job *Job) {
		job.State = StateRunning
		job.Started = time.Now().UTC()
	})
	logger := q.logger.With().Str("job", e.id).Str("operation", string(e.cmd.Operation())).Logger()
	logger.Info().Msg("job started")

	var err error
	if q.exec == nil {
		err = errors.New("jobs: no executor configured")
	} else if q.ctx.Err() != nil {
		err = q.ctx.Err()
	} else {
		err = q.exec.Execute(q.ctx, e.cmd, func(snap streamer.RunSnapshot) {
			q.update(e.id, func(job *Job) { job.Run = snap })
		})
	}

	q.update(e.id, func(job *Job) {
		job.Finished = time.Now().UTC()
		if err != nil {
			job.State = StateFailed
			job.Error = err.Error()
			job.ErrorKind = streamer.ErrorKind(err)
			return
		}
		job.State = StateSucceeded
	})
	if err != nil {
		logger.Error().Err(err).Str("kind", streamer.ErrorKind(err)).Msg("job failed")
	} else {
		logger.Info().Msg("job succeeded")
	}
	q.retire(e.id)
}

func (q *Queue) update(id string, fn func(job *Job)) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	fn(job)
	snap := *job
	q.mu.Unlock()
	q.publish(snap)
}

// retire records id as finished and forgets the oldest finished jobs past
// the history bound.
func (q *Queue) retire(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished = append(q.finished, id)
	for len(q.finished) > q.history {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}
}

func (q *Queue) publish(job Job) {
	if q.hub == nil {
		return
	}
	q.hub.Publish(events.Message{Type: events.TypeJob, Content: job, Time: time.Now().UTC()})
}
