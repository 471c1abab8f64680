package domain

import (
	"io"
	"sync/atomic"
)

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// PercentUnknown is reported when the expected size of the source is unknown.
const PercentUnknown = -1

// ExtractionJob is one run of the stream extractor.
type ExtractionJob struct {
	ID string

	// Source is owned by the job until it reaches a terminal state.
	Source io.ReadCloser
	Origin SourceMode

	DestinationDir string

	// ExpectedTotal <= 0 means unknown.
	ExpectedTotal int64

	bytesWritten atomic.Int64
	state        atomic.Value
}

func NewExtractionJob(id string, src io.ReadCloser, origin SourceMode, destDir string, expectedTotal int64) *ExtractionJob {
	j := &ExtractionJob{
		ID:             id,
		Source:         src,
		Origin:         origin,
		DestinationDir: destDir,
		ExpectedTotal:  expectedTotal,
	}
	j.state.Store(JobPending)
	return j
}

// BytesWritten is safe to call from any goroutine.
func (j *ExtractionJob) BytesWritten() int64 { return j.bytesWritten.Load() }

// AddWritten must only be called by the job's writer.
func (j *ExtractionJob) AddWritten(n int64) int64 { return j.bytesWritten.Add(n) }

func (j *ExtractionJob) State() JobState { return j.state.Load().(JobState) }

func (j *ExtractionJob) SetState(s JobState) { j.state.Store(s) }

// Terminal reports whether the job reached Completed or Failed.
func (j *ExtractionJob) Terminal() bool {
	s := j.State()
	return s == JobCompleted || s == JobFailed
}

// Percent computes the weighted streaming percentage for the current byte count.
// The result never exceeds weight, so 100 is only reported once the job completes.
func (j *ExtractionJob) Percent(weight int) int {
	if j.ExpectedTotal <= 0 {
		return PercentUnknown
	}
	p := int(int64(weight) * j.BytesWritten() / j.ExpectedTotal)
	if p > weight {
		p = weight
	}
	return p
}

// ProgressEvent is emitted to the caller while a job runs. Purely observational.
type ProgressEvent struct {
	BytesWritten int64    `json:"bytes_written"`
	Percent      int      `json:"percent"`
	State        JobState `json:"state"`
}
