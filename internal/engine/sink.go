package engine

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pspdemo/isoload/internal/domain"
)

// Sink receives the outcome of an Ensure run on the consumer's goroutine.
type Sink interface {
	OnProgress(percent int, state domain.JobState)
	OnReady(path string)
	OnFailed(kind domain.ErrorKind, err error)
}

// Drain forwards events to sink until the channel closes and returns the
// terminal error, if any. A Ready event carrying a completed progress that the
// sink has not seen yet is reported to OnProgress first.
func Drain(events <-chan domain.Event, sink Sink) error {
	var final error
	last := domain.PercentUnknown
	for ev := range events {
		switch ev.Kind {
		case domain.EventProgress:
			last = ev.Progress.Percent
			sink.OnProgress(ev.Progress.Percent, ev.Progress.State)
		case domain.EventReady:
			if ev.Progress.Percent == 100 && last != 100 {
				sink.OnProgress(100, ev.Progress.State)
			}
			sink.OnReady(ev.Path)
		case domain.EventFailed:
			final = ev.Err
			sink.OnFailed(domain.KindOf(ev.Err), ev.Err)
		}
	}
	return final
}

// CLIProgress renders a single-line progress bar. Byte counts are read from
// the coordinator since the sink only sees percentages.
type CLIProgress struct {
	out     io.Writer
	status  func() domain.Status
	started time.Time
	last    time.Time
}

func NewCLIProgress(out io.Writer, status func() domain.Status) *CLIProgress {
	return &CLIProgress{out: out, status: status, started: time.Now()}
}

func (p *CLIProgress) OnProgress(percent int, state domain.JobState) {
	final := state == domain.JobCompleted
	// redraw at most a few times per second
	if !final && time.Since(p.last) < 200*time.Millisecond {
		return
	}
	p.last = time.Now()
	p.render(percent, final)
}

func (p *CLIProgress) OnReady(path string) {
	fmt.Fprintf(p.out, "\nPayload ready: %s\n", path)
}

func (p *CLIProgress) OnFailed(kind domain.ErrorKind, err error) {
	fmt.Fprintf(p.out, "\nAcquisition failed (%s): %v\n", kind, err)
}

func (p *CLIProgress) render(percent int, final bool) {
	var current int64
	if p.status != nil {
		current = p.status().BytesWritten
	}

	elapsed := time.Since(p.started)
	seconds := elapsed.Seconds()
	if seconds < 0.1 {
		seconds = 0.1
	}
	speed := uint64(float64(current) / seconds)

	// Progress Bar [====>   ]
	const barWidth = 20
	var bar, pct string
	if percent == domain.PercentUnknown {
		bar = strings.Repeat("?", barWidth)
		pct = "  ?.?"
	} else {
		completed := percent * barWidth / 100
		bar = strings.Repeat("=", completed)
		if completed < barWidth {
			bar += ">" + strings.Repeat(" ", barWidth-completed-1)
		}
		pct = fmt.Sprintf("%5.1f", float64(percent))
	}

	speedLabel := "Speed"
	if final {
		speedLabel = "Avg"
	}

	// [Bar] 50% | Speed: 12 MiB/s | Time: 3s | 500 MiB
	fmt.Fprintf(p.out, "\r[%s] %s%% | %s: %s/s | Time: %-7s | %s      ",
		bar, pct, speedLabel, humanize.IBytes(speed), elapsed.Truncate(time.Second), humanize.IBytes(uint64(current)))
}
