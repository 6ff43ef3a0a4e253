package streamer

import (
	"fmt"
	"sync"
	"time"
)

// StepState is the lifecycle marker of one step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// RunState is the lifecycle marker of a whole operation.
type RunState string

const (
	RunPending RunState = "pending"
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunFailed  RunState = "failed"
)

// StepRecord is the observable record of one step.
type StepRecord struct {
	Name     string    `json:"name"`
	State    StepState `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Started  time.Time `json:"started,omitzero"`
	Finished time.Time `json:"finished,omitzero"`
}

// RunSnapshot is a copy of a run safe to hand to other goroutines.
type RunSnapshot struct {
	Operation Operation    `json:"operation"`
	State     RunState     `json:"state"`
	Reason    string       `json:"reason,omitempty"`
	Steps     []StepRecord `json:"steps"`
}

// Observer is called after every transition with a fresh snapshot.
type Observer func(RunSnapshot)

// Run is the linear state machine behind one operation:
// Pending -> Step1 -> ... -> Done, with Failed absorbing from any step.
type Run struct {
	mu      sync.Mutex
	op      Operation
	state   RunState
	reason  string
	steps   []StepRecord
	index   map[string]int
	observe Observer
	now     func() time.Time
}

func newRun(op Operation, observe Observer) *Run {
	return &Run{
		op:      op,
		state:   RunPending,
		index:   make(map[string]int),
		observe: observe,
		now:     time.Now,
	}
}

// plan appends pending steps. Planning after a failure is ignored.
func (r *Run) plan(names ...string) {
	r.mu.Lock()
	if r.state == RunFailed || r.state == RunDone {
		r.mu.Unlock()
		return
	}
	for _, name := range names {
		if _, ok := r.index[name]; ok {
			continue
		}
		r.index[name] = len(r.steps)
		r.steps = append(r.steps, StepRecord{Name: name, State: StepPending})
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Run) start(name string) error {
	r.mu.Lock()
	step, err := r.transition(name, StepPending, StepRunning)
	if err == nil {
		step.Started = r.now()
		r.state = RunRunning
	}
	r.mu.Unlock()
	if err == nil {
		r.notify()
	}
	return err
}

func (r *Run) succeed(name string) error {
	r.mu.Lock()
	step, err := r.transition(name, StepRunning, StepSucceeded)
	if err == nil {
		step.Finished = r.now()
	}
	r.mu.Unlock()
	if err == nil {
		r.notify()
	}
	return err
}

// fail moves the step to Failed, the run to Failed, and every later pending
// step to Skipped.
func (r *Run) fail(name string, cause error) error {
	r.mu.Lock()
	step, err := r.transition(name, StepRunning, StepFailed)
	if err == nil {
		step.Finished = r.now()
		if cause != nil {
			step.Reason = cause.Error()
			r.reason = cause.Error()
		}
		r.state = RunFailed
		for i := range r.steps {
			if r.steps[i].State == StepPending {
				r.steps[i].State = StepSkipped
			}
		}
	}
	r.mu.Unlock()
	if err == nil {
		r.notify()
	}
	return err
}

// finish closes the run. A run that did not fail is Done.
func (r *Run) finish() {
	r.mu.Lock()
	if r.state == RunFailed || r.state == RunDone {
		r.mu.Unlock()
		return
	}
	r.state = RunDone
	r.mu.Unlock()
	r.notify()
}

func (r *Run) transition(name string, from, to StepState) (*StepRecord, error) {
	if r.state == RunFailed || r.state == RunDone {
		return nil, fmt.Errorf("run %s is %s", r.op, r.state)
	}
	i, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown step %q", name)
	}
	step := &r.steps[i]
	if step.State != from {
		return nil, fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, step.State)
	}
	step.State = to
	return step, nil
}

// Snapshot copies the current run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSnapshot{
		Operation: r.op,
		State:     r.state,
		Reason:    r.reason,
		Steps:     append([]StepRecord(nil), r.steps...),
	}
}

func (r *Run) notify() {
	if r.observe == nil {
		return
	}
	r.observe(r.Snapshot())
}
