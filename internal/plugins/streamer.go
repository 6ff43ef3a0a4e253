package plugins

import (
	"context"
	"encoding/json"

	"github.com/danmuck/camctl/internal/jobs"
	"github.com/danmuck/camctl/internal/streamer"
)

// StreamerID is the identifier the camera streamer plugin registers under.
const StreamerID = "camera_streamer"

// StatusReader reports installer status. *streamer.Installer satisfies it.
type StatusReader interface {
	Status(ctx context.Context) streamer.Status
}

// JobQueue accepts and tracks installer jobs. *jobs.Queue satisfies it.
type JobQueue interface {
	Submit(cmd streamer.Command) (jobs.Job, error)
	Get(id string) (jobs.Job, bool)
	List() []jobs.Job
}

// Streamer exposes the camera streamer installer as a plugin. Commands are
// queued; the returned value is the queued job.
type Streamer struct {
	status StatusReader
	queue  JobQueue
}

var (
	_ Plugin    = (*Streamer)(nil)
	_ JobSource = (*Streamer)(nil)
)

func NewStreamer(status StatusReader, queue JobQueue) *Streamer {
	return &Streamer{status: status, queue: queue}
}

func (s *Streamer) Identifier() string {
	return StreamerID
}

func (s *Streamer) Status(ctx context.Context) (any, error) {
	return s.status.Status(ctx), nil
}

func (s *Streamer) Commands() map[string][]string {
	return jobs.Commands()
}

func (s *Streamer) Command(_ context.Context, name string, payload json.RawMessage) (any, error) {
	cmd, err := jobs.Decode(name, payload)
	if err != nil {
		return nil, err
	}
	job, err := s.queue.Submit(cmd)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Streamer) Jobs() []jobs.Job {
	return s.queue.List()
}

func (s *Streamer) Job(id string) (jobs.Job, bool) {
	return s.queue.Get(id)
}
