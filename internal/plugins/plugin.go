package plugins

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danmuck/camctl/internal/jobs"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrJobNotFound    = errors.New("job not found")
)

// Plugin is a host-facing component with a status view and named commands.
type Plugin interface {
	Identifier() string
	Status(ctx context.Context) (any, error)
	// Commands maps each command name to its required payload fields.
	Commands() map[string][]string
	Command(ctx context.Context, name string, payload json.RawMessage) (any, error)
}

// JobSource is implemented by plugins whose commands run as queued jobs.
type JobSource interface {
	Jobs() []jobs.Job
	Job(id string) (jobs.Job, bool)
}
