package engine

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/pspdemo/isoload/internal/app"
	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/infra/logger"
)

// progressBuffer is how many streaming progress events may queue up before new
// ones are dropped. Two extra slots stay free: one for the completed progress
// event and one for the terminal event.
const progressBuffer = 64

// Recorder persists acquisition attempts.
type Recorder interface {
	SaveAcquisition(ctx context.Context, rec *domain.AcquisitionRecord) error
}

// Coordinator runs at most one acquisition at a time.
type Coordinator struct {
	mu sync.Mutex

	locator   app.Locator
	opener    app.SourceOpener
	extractor app.Extractor
	recorder  Recorder
	log       *logger.Logger

	destDir string
	timeout time.Duration

	baseCtx context.Context
	status  domain.Status
	active  *run
	worker  chan struct{}
}

type run struct {
	record *domain.AcquisitionRecord
	job    *domain.ExtractionJob
	cancel context.CancelFunc
	events chan domain.Event
	done   chan struct{}
}

// NewCoordinator wires the coordinator from the shared application context.
func NewCoordinator(appCtx *app.Context) *Coordinator {
	m := &Coordinator{
		locator:   appCtx.Locator,
		opener:    appCtx.Opener,
		extractor: appCtx.Extractor,
		log:       appCtx.Logger,
		baseCtx:   context.Background(),
		status:    domain.Status{State: domain.StateIdle, Percent: domain.PercentUnknown},
	}

	if appCtx.Store != nil {
		m.recorder = appCtx.Store
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	if appCtx.Config != nil {
		m.destDir = appCtx.Config.Storage.Root
		m.timeout = appCtx.Config.Extract.Timeout
	}

	return m
}

// SetBaseContext sets the parent of every job context. Canceling it aborts the
// running job, which is how the server shuts down.
func (m *Coordinator) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseCtx = ctx
}

// Ensure makes sure the payload is present. Resolution happens on the calling
// goroutine; extraction, when needed, runs on a single background goroutine.
// The returned channel yields progress events followed by exactly one Ready or
// Failed event, then is closed. ErrInFlight is returned while another run is active.
func (m *Coordinator) Ensure(ctx context.Context) (<-chan domain.Event, error) {
	m.mu.Lock()
	if m.status.State.Active() {
		m.mu.Unlock()
		return nil, domain.ErrInFlight
	}

	r := &run{
		record: &domain.AcquisitionRecord{
			ID:        ksuid.New().String(),
			State:     domain.StateResolving,
			StartedAt: time.Now().UTC(),
		},
		events: make(chan domain.Event, progressBuffer+2),
	}
	m.active = r
	m.status = domain.Status{ID: r.record.ID, State: domain.StateResolving, Percent: domain.PercentUnknown}
	m.mu.Unlock()

	loc, err := m.locator.Resolve(ctx)
	if err != nil {
		m.log.Error("Could not resolve payload source: %v", err)
		m.finalize(r, "", err)
		return r.events, nil
	}

	r.record.Mode = loc.Mode
	r.record.Source = loc.Origin()

	if !loc.NeedsExtraction() {
		m.log.Info("Payload already present: %s", loc.Path)
		m.finalize(r, loc.Path, nil)
		return r.events, nil
	}

	m.mu.Lock()
	var jobCtx context.Context
	if m.timeout > 0 {
		jobCtx, r.cancel = context.WithTimeout(m.baseCtx, m.timeout)
	} else {
		jobCtx, r.cancel = context.WithCancel(m.baseCtx)
	}
	m.status.State = domain.StateExtracting
	m.status.Mode = loc.Mode
	m.status.Source = r.record.Source
	r.record.State = domain.StateExtracting
	r.done = make(chan struct{})
	m.worker = r.done
	m.mu.Unlock()

	m.save(r.record)

	go m.runJob(jobCtx, r, loc)

	return r.events, nil
}

func (m *Coordinator) runJob(ctx context.Context, r *run, loc domain.PayloadLocation) {
	defer close(r.done)
	defer r.cancel()

	m.log.Info("Acquiring payload from %s (%s)", loc.Origin(), loc.Mode)

	src, size, err := m.opener.Open(ctx, loc)
	if err != nil {
		m.finalize(r, "", err)
		return
	}

	job := domain.NewExtractionJob(r.record.ID, src, loc.Mode, m.destDir, size)
	r.record.ExpectedBytes = size

	m.mu.Lock()
	r.job = job
	m.mu.Unlock()

	path, err := m.extractor.Extract(ctx, job, func(ev domain.ProgressEvent) {
		m.progress(r, ev)
	})
	m.finalize(r, path, err)
}

// progress runs on the worker goroutine. It never blocks: when the consumer
// lags, streaming events are dropped. The completed event may use the first
// reserved slot, the terminal slot always stays free.
func (m *Coordinator) progress(r *run, ev domain.ProgressEvent) {
	m.mu.Lock()
	m.status.BytesWritten = ev.BytesWritten
	m.status.Percent = ev.Percent
	m.mu.Unlock()

	limit := cap(r.events) - 2
	if ev.State == domain.JobCompleted {
		limit = cap(r.events) - 1
	}
	if len(r.events) >= limit {
		return
	}
	r.events <- domain.Event{Kind: domain.EventProgress, JobID: r.record.ID, Progress: ev}
}

// finalize records the outcome and delivers the terminal event.
func (m *Coordinator) finalize(r *run, path string, err error) {
	now := time.Now().UTC()

	m.mu.Lock()
	rec := r.record
	rec.FinishedAt = now
	if r.job != nil {
		rec.BytesWritten = r.job.BytesWritten()
	}

	ev := domain.Event{JobID: rec.ID}
	if err != nil {
		kind := domain.KindOf(err)
		rec.State = domain.StateFailed
		rec.ErrorKind = kind
		rec.Error = err.Error()
		if kind == domain.KindCanceled {
			rec.Error = "Cancelled: " + err.Error()
		}

		m.status.State = domain.StateFailed
		m.status.ErrorKind = kind
		m.status.Error = rec.Error

		ev.Kind = domain.EventFailed
		ev.Err = err
	} else {
		rec.State = domain.StateReady
		rec.PayloadPath = path

		m.status.State = domain.StateReady
		m.status.Path = path
		m.status.Percent = 100

		ev.Kind = domain.EventReady
		ev.Path = path
		ev.Progress = domain.ProgressEvent{
			BytesWritten: rec.BytesWritten,
			Percent:      100,
			State:        domain.JobCompleted,
		}
	}
	m.status.Mode = rec.Mode
	m.status.Source = rec.Source
	m.status.BytesWritten = rec.BytesWritten
	m.active = nil
	m.mu.Unlock()

	if err != nil {
		m.log.Error("Acquisition %s failed (%s): %v", rec.ID, rec.ErrorKind, err)
	} else {
		m.log.Info("Acquisition %s ready: %s", rec.ID, path)
	}

	m.save(rec)

	// the reserved slot guarantees this never blocks
	r.events <- ev
	close(r.events)
}

func (m *Coordinator) save(rec *domain.AcquisitionRecord) {
	if m.recorder == nil {
		return
	}

	snapshot := *rec
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.recorder.SaveAcquisition(ctx, &snapshot); err != nil {
		m.log.Warn("Failed to record acquisition %s: %v", rec.ID, err)
	}
}

// Cancel aborts the running extraction. The partial payload stays on disk.
func (m *Coordinator) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.cancel == nil {
		return false
	}

	m.active.cancel()
	return true
}

// Status returns a snapshot for the UI. Bytes are read live from the running job.
func (m *Coordinator) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status
	if m.active != nil && m.active.job != nil {
		st.BytesWritten = m.active.job.BytesWritten()
	}
	return st
}

// Wait blocks until the background worker is done or ctx ends. It reports
// whether the worker finished.
func (m *Coordinator) Wait(ctx context.Context) bool {
	m.mu.Lock()
	done := m.worker
	m.mu.Unlock()

	if done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
