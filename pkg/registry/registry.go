// Package registry manages an ordered collection of cameras that share one
// calibration board, and supervises their calibration runs.
//
// Records are mutated only through Registry methods. Each run executes on its
// own goroutine and reports back through a completion channel that Run drains;
// a run never writes to its record directly.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/calibration"
	"github.com/teslashibe/camcal/pkg/frame"
	"github.com/teslashibe/camcal/pkg/geometry"
)

// completionBuffer bounds how many finished runs may wait for Run.
const completionBuffer = 16

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithOpener replaces the video opener. The default is frame.Open.
func WithOpener(open frame.Opener) Option {
	return func(r *Registry) {
		r.opener = open
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithPreviewHeight bounds the height of run previews. 0 disables them.
func WithPreviewHeight(h int) Option {
	return func(r *Registry) {
		r.previewHeight = h
	}
}

// WithBoard sets the initial board. Invalid boards are ignored.
func WithBoard(d board.Definition) Option {
	return func(r *Registry) {
		if d.Validate() == nil {
			r.board = d
		}
	}
}

type record struct {
	settings Settings
	outcome  Outcome
	job      *Job

	// gen increments on every edit that invalidates a calibration.
	gen uint64
}

func (rec *record) snapshot() Record {
	return Record{Settings: rec.settings, Outcome: rec.outcome}
}

type completion struct {
	job    *Job
	result *calibration.Result
	err    error
}

// Registry is the camera collection.
type Registry struct {
	geo           geometry.Primitives
	opener        frame.Opener
	logger        *slog.Logger
	base          *slog.Logger // untagged, handed to engines
	metrics       *Metrics
	previewHeight int

	mu       sync.RWMutex
	board    board.Definition
	records  []*record
	lastID   int
	onChange func(Record)
	closed   bool

	completions chan completion
	ctx         context.Context
	cancel      context.CancelFunc
	workers     sync.WaitGroup
}

// New creates an empty registry with the default board.
func New(geo geometry.Primitives, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		geo:           geo,
		opener:        frame.Open,
		logger:        slog.Default(),
		previewHeight: calibration.DefaultPreviewHeight,
		board:         board.Default(),
		completions:   make(chan completion, completionBuffer),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.base = r.logger
	r.logger = r.logger.With("component", "registry")
	return r
}

// SetOnChange sets the callback invoked after a run's result is applied.
// It runs on the goroutine calling Run.
func (r *Registry) SetOnChange(fn func(Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Add creates a camera from template and returns its id.
//
// Ids are allocated from a high-water mark and never reused. An empty name
// becomes "Camera {id}", probing upward past names already present.
func (r *Registry) Add(template Settings) (int, error) {
	if err := template.Validate(); err != nil {
		return 0, err
	}
	s := template

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	id := r.lastID + 1
	if s.Name == "" {
		s.Name = r.freeName(id)
	} else if r.nameInUse(s.Name) {
		return 0, fmt.Errorf("%w: %q", ErrNameTaken, s.Name)
	}

	r.lastID = id
	s.ID = id
	r.records = append(r.records, &record{settings: s, outcome: notRun()})
	return id, nil
}

func (r *Registry) freeName(n int) string {
	for {
		name := fmt.Sprintf("Camera %d", n)
		if !r.nameInUse(name) {
			return name
		}
		n++
	}
}

func (r *Registry) nameInUse(name string) bool {
	for _, rec := range r.records {
		if rec.settings.Name == name {
			return true
		}
	}
	return false
}

func (r *Registry) find(id int) *record {
	for _, rec := range r.records {
		if rec.settings.ID == id {
			return rec
		}
	}
	return nil
}

// Update replaces a camera's settings. Changing the video path, rotation or
// either flip discards the previous calibration. A run in flight keeps going
// but its result will not be applied.
func (r *Registry) Update(id int, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.find(id)
	if rec == nil {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	changed := rec.settings.geometryChanged(s)
	rec.settings = s
	if changed {
		rec.gen++
		if rec.job == nil {
			rec.outcome = notRun()
		}
	}
	return nil
}

// Delete removes a camera. Remaining ids are unchanged.
func (r *Registry) Delete(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.records, func(rec *record) bool { return rec.settings.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	r.records = slices.Delete(r.records, i, i+1)
	return nil
}

// SetBoard replaces the shared board. Existing outcomes are kept.
func (r *Registry) SetBoard(d board.Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.board = d
	return nil
}

// Board returns the shared board.
func (r *Registry) Board() board.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.board
}

// Get returns a snapshot of one camera.
func (r *Registry) Get(id int) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.find(id)
	if rec == nil {
		return Record{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return rec.snapshot(), nil
}

// List returns snapshots of all cameras in creation order.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.snapshot()
	}
	return out
}

// Job returns the in-flight run of a camera.
func (r *Registry) Job(id int) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.find(id)
	if rec == nil || rec.job == nil {
		return nil, false
	}
	return rec.job, true
}

// Jobs returns every in-flight run.
func (r *Registry) Jobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Job
	for _, rec := range r.records {
		if rec.job != nil {
			out = append(out, rec.job)
		}
	}
	return out
}

// StartCalibration starts a run for a camera and returns immediately.
// The run uses copies of the camera's settings and the board as they are now.
func (r *Registry) StartCalibration(id int) (*Job, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	rec := r.find(id)
	switch {
	case rec == nil:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	case rec.job != nil:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: camera %d", ErrAlreadyRunning, id)
	case rec.settings.VideoPath == "":
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: camera %d", ErrNoVideo, id)
	}

	job := newJob(id, rec.settings, r.board, rec.gen)
	rec.job = job
	rec.outcome = Outcome{
		Status:    Running,
		Message:   MessageRunning,
		RunID:     job.ID,
		StartedAt: job.StartedAt,
	}
	r.workers.Add(1)
	r.mu.Unlock()

	r.metrics.runStarted()
	r.logger.Info("calibration started",
		"camera_id", id,
		"run_id", job.ID,
		"video", job.Settings.VideoPath,
		"board", job.Board.String(),
		"distortion", job.Settings.DistortionMode,
	)

	go r.work(job)
	return job, nil
}

// StartAll starts every idle camera. It returns the started ids in order and
// the reason each other camera was not started.
func (r *Registry) StartAll() ([]int, map[int]error) {
	r.mu.RLock()
	ids := make([]int, len(r.records))
	for i, rec := range r.records {
		ids[i] = rec.settings.ID
	}
	r.mu.RUnlock()

	var started []int
	errs := make(map[int]error)
	for _, id := range ids {
		if _, err := r.StartCalibration(id); err != nil {
			errs[id] = err
			continue
		}
		started = append(started, id)
	}
	return started, errs
}

func (r *Registry) work(job *Job) {
	defer r.workers.Done()
	res, err := r.execute(job)
	r.completions <- completion{job: job, result: res, err: err}
}

// execute runs the engine. Panics become failures.
func (r *Registry) execute(job *Job) (res *calibration.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &calibration.Error{Phase: "worker", Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	src, err := r.opener(job.Settings.VideoPath)
	if err != nil {
		return nil, &calibration.Error{Phase: calibration.PhaseOpening, Err: err}
	}
	defer src.Close()

	eng := calibration.New(r.geo, calibration.Config{
		Board:         job.Board,
		Orientation:   job.Settings.Orientation(),
		SampleRate:    job.Settings.SampleRate,
		Distortion:    job.Settings.DistortionMode,
		PreviewHeight: r.previewHeight,
		Logger:        r.base.With("camera_id", job.CameraID, "run_id", job.ID),
	})
	return eng.Run(r.ctx, src, job.publish)
}

// Run applies finished runs to their records until ctx is done.
// Only one goroutine should call Run.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-r.completions:
			r.apply(c)
		}
	}
}

func (r *Registry) apply(c completion) {
	job := c.job
	status := "discarded"
	var snap *Record

	r.mu.Lock()
	rec := r.find(job.CameraID)
	switch {
	case rec == nil || rec.job != job:
		r.logger.Info("discarding result of removed camera", "camera_id", job.CameraID, "run_id", job.ID)
	case rec.gen != job.gen:
		rec.job = nil
		rec.outcome = notRun()
		s := rec.snapshot()
		snap = &s
		r.logger.Info("discarding stale result", "camera_id", job.CameraID, "run_id", job.ID)
	default:
		rec.job = nil
		if c.err != nil {
			rec.outcome = failed(c.err)
			status = "failed"
			r.logger.Warn("calibration failed",
				"camera_id", job.CameraID,
				"run_id", job.ID,
				"error", c.err,
			)
		} else {
			rec.outcome = succeeded(c.result)
			status = "succeeded"
			r.logger.Info("calibration succeeded",
				"camera_id", job.CameraID,
				"run_id", job.ID,
				"frames", rec.outcome.FramesWithCorners,
				"rms", c.result.RMS,
			)
		}
		rec.outcome.RunID = job.ID
		rec.outcome.StartedAt = job.StartedAt
		rec.outcome.FinishedAt = time.Now()
		s := rec.snapshot()
		snap = &s
	}
	cb := r.onChange
	r.mu.Unlock()

	r.metrics.runFinished(status, time.Since(job.StartedAt))
	if snap != nil && cb != nil {
		cb(*snap)
	}
	close(job.done)
}

// Close stops accepting runs, asks in-flight runs to stop and waits for them.
// Their results are discarded.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	stopped := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(stopped)
	}()

	for {
		select {
		case c := <-r.completions:
			r.discard(c)
		case <-stopped:
			for {
				select {
				case c := <-r.completions:
					r.discard(c)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Registry) discard(c completion) {
	r.mu.Lock()
	if rec := r.find(c.job.CameraID); rec != nil && rec.job == c.job {
		rec.job = nil
		rec.outcome = notRun()
	}
	r.mu.Unlock()

	r.metrics.runFinished("discarded", time.Since(c.job.StartedAt))
	close(c.job.done)
}
