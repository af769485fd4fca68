package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/calibration"
)

// Job is one in-flight calibration run.
//
// Progress is kept in a single-slot mailbox: a new event replaces an unread
// one, so the worker never blocks on a slow reader.
type Job struct {
	// ID identifies the run.
	ID string

	// CameraID is the record the run belongs to.
	CameraID int

	// Settings and Board are the values the run was started with.
	Settings Settings
	Board    board.Definition

	StartedAt time.Time

	gen uint64

	mu      sync.Mutex
	latest  calibration.Progress
	has     bool
	updates chan struct{}
	done    chan struct{}
}

func newJob(id int, s Settings, b board.Definition, gen uint64) *Job {
	return &Job{
		ID:        uuid.NewString(),
		CameraID:  id,
		Settings:  s,
		Board:     b,
		StartedAt: time.Now(),
		gen:       gen,
		updates:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// publish stores p as the latest event and signals readers without blocking.
func (j *Job) publish(p calibration.Progress) {
	j.mu.Lock()
	j.latest = p
	j.has = true
	j.mu.Unlock()

	select {
	case j.updates <- struct{}{}:
	default:
	}
}

// Latest returns the most recent progress event, if any.
func (j *Job) Latest() (calibration.Progress, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latest, j.has
}

// Updates is signalled when a new event is stored. Signals coalesce.
func (j *Job) Updates() <-chan struct{} {
	return j.updates
}

// Done is closed once the run's result has been applied or discarded.
func (j *Job) Done() <-chan struct{} {
	return j.done
}
