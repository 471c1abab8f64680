package domain

import "time"

// AcquisitionState is the coordinator's view of an Ensure run.
type AcquisitionState string

const (
	StateIdle       AcquisitionState = "idle"
	StateResolving  AcquisitionState = "resolving"
	StateExtracting AcquisitionState = "extracting"
	StateReady      AcquisitionState = "ready"
	StateFailed     AcquisitionState = "failed"
)

// Active reports whether a run in this state blocks a new Ensure.
func (s AcquisitionState) Active() bool {
	return s == StateResolving || s == StateExtracting
}

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventReady    EventKind = "ready"
	EventFailed   EventKind = "failed"
)

// Event is delivered to the caller of Ensure. Ready and Failed are terminal
// and always the last event of a run.
type Event struct {
	Kind     EventKind
	JobID    string
	Progress ProgressEvent
	Path     string
	Err      error
}

// Terminal reports whether the event ends the run.
func (e Event) Terminal() bool { return e.Kind == EventReady || e.Kind == EventFailed }

// Status is a point-in-time snapshot of the coordinator, safe to hand to the UI.
type Status struct {
	ID           string           `json:"id,omitempty"`
	State        AcquisitionState `json:"state"`
	Mode         SourceMode       `json:"mode,omitempty"`
	Source       string           `json:"source,omitempty"`
	Path         string           `json:"path,omitempty"`
	BytesWritten int64            `json:"bytes_written"`
	Percent      int              `json:"percent"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// AcquisitionRecord is the persisted history entry of one Ensure run.
type AcquisitionRecord struct {
	ID            string           `json:"id"`
	Mode          SourceMode       `json:"mode"`
	Source        string           `json:"source"`
	State         AcquisitionState `json:"state"`
	PayloadPath   string           `json:"payload_path,omitempty"`
	BytesWritten  int64            `json:"bytes_written"`
	ExpectedBytes int64            `json:"expected_bytes"`
	ErrorKind     ErrorKind        `json:"error_kind,omitempty"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at,omitempty"`
}
