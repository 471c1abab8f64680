package extraction

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/infra/logger"
)

const (
	DefaultChunkSize      = 32 * 1024
	DefaultProgressWeight = 75
)

// ProgressFunc receives one event per chunk written and a final event at 100%.
type ProgressFunc = func(domain.ProgressEvent)

type Options struct {
	// PayloadName is the file name written under the job's destination.
	// Entry names inside the container are never used for naming.
	PayloadName string

	ChunkSize int

	// ProgressWeight caps the percentage reported while streaming so that 100
	// is only seen once the file is closed.
	ProgressWeight int

	Logger *logger.Logger
}

// Extractor unpacks the first file entry of a zip stream into a single payload file.
type Extractor struct {
	payloadName string
	chunkSize   int
	weight      int
	log         *logger.Logger
}

func New(opts Options) *Extractor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ProgressWeight <= 0 || opts.ProgressWeight > 100 {
		opts.ProgressWeight = DefaultProgressWeight
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Extractor{
		payloadName: opts.PayloadName,
		chunkSize:   opts.ChunkSize,
		weight:      opts.ProgressWeight,
		log:         opts.Logger,
	}
}

// PayloadPath is where a job writing into destDir puts the payload.
func (e *Extractor) PayloadPath(destDir string) string {
	return filepath.Join(destDir, e.payloadName)
}

// Extract runs job to completion. The job's source is always closed on return.
// On failure the partial payload and its in-progress marker are left on disk.
func (e *Extractor) Extract(ctx context.Context, job *domain.ExtractionJob, onProgress ProgressFunc) (string, error) {
	defer job.Source.Close()

	if onProgress == nil {
		onProgress = func(domain.ProgressEvent) {}
	}

	dest := e.PayloadPath(job.DestinationDir)

	if err := os.MkdirAll(job.DestinationDir, 0755); err != nil {
		return e.fail(job, domain.NewError(domain.KindFilesystem, "create destination", err))
	}

	if Complete(dest) {
		e.log.Info("Skipping: %s (already extracted)", dest)
		e.complete(job, onProgress)
		return dest, nil
	}

	src := &sourceReader{ctx: ctx, r: job.Source, started: func() { job.SetState(domain.JobRunning) }}
	zr := newEntryReader(src)

	written := false
	for {
		hdr, err := zr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.fail(job, e.classify(ctx, job, "read container", err))
		}

		if hdr.IsDir() {
			e.makeDir(job.DestinationDir, hdr.Name)
			continue
		}

		if written {
			// Only the first file entry is the payload; Next drains the rest
			e.log.Debug("Discarding extra entry %s", hdr.Name)
			continue
		}

		e.log.Info("Extracting %s -> %s", hdr.Name, dest)
		if err := e.writePayload(ctx, job, zr, dest, onProgress); err != nil {
			return e.fail(job, err)
		}
		written = true
	}

	if !written {
		return e.fail(job, domain.NewError(domain.KindFormat, "read container", domain.ErrNoPayloadEntry))
	}

	if err := clearMarker(dest); err != nil {
		return e.fail(job, domain.NewError(domain.KindFilesystem, "clear marker", err))
	}

	e.log.Info("Completed: %s (%s)", dest, humanize.IBytes(uint64(job.BytesWritten())))
	e.complete(job, onProgress)
	return dest, nil
}

func (e *Extractor) writePayload(ctx context.Context, job *domain.ExtractionJob, r io.Reader, dest string, onProgress ProgressFunc) error {
	if err := beginMarker(dest); err != nil {
		return domain.NewError(domain.KindFilesystem, "create marker", err)
	}

	f, err := createPayloadFile(dest)
	if err != nil {
		return domain.NewError(domain.KindFilesystem, "create payload", err)
	}

	buf := make([]byte, e.chunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Abort()
				return domain.NewError(domain.KindFilesystem, "write payload", werr)
			}

			total := job.AddWritten(int64(n))
			onProgress(domain.ProgressEvent{
				BytesWritten: total,
				Percent:      job.Percent(e.weight),
				State:        domain.JobRunning,
			})
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Abort()
			return e.classify(ctx, job, "read payload", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return domain.NewError(domain.KindFilesystem, "close payload", err)
	}

	return nil
}

// makeDir mirrors a directory entry under destDir. Names escaping destDir are skipped.
func (e *Extractor) makeDir(destDir, name string) {
	rel := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		e.log.Warn("Skipping unsafe directory entry %q", name)
		return
	}

	if err := os.MkdirAll(filepath.Join(destDir, rel), 0755); err != nil {
		e.log.Warn("Failed to create folder %s: %v", rel, err)
	}
}

// classify maps a read-side failure to the kind reported to the caller.
func (e *Extractor) classify(ctx context.Context, job *domain.ExtractionJob, op string, err error) error {
	if ctx.Err() != nil {
		return domain.NewError(domain.KindCanceled, op, ctx.Err())
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	var se *sourceError
	switch {
	case errors.As(err, &se):
		if job.Origin == domain.ModeRemote {
			return domain.NewError(domain.KindNetwork, op, se.err)
		}
		return domain.NewError(domain.KindFilesystem, op, se.err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		// a remote body that stops early is a truncated transfer
		if job.Origin == domain.ModeRemote {
			return domain.NewError(domain.KindNetwork, op, err)
		}
		return domain.NewError(domain.KindFormat, op, err)
	default:
		return domain.NewError(domain.KindFormat, op, err)
	}
}

func (e *Extractor) fail(job *domain.ExtractionJob, err error) (string, error) {
	job.SetState(domain.JobFailed)
	e.log.Error("Extraction failed after %s: %v", humanize.IBytes(uint64(job.BytesWritten())), err)
	return "", err
}

func (e *Extractor) complete(job *domain.ExtractionJob, onProgress ProgressFunc) {
	job.SetState(domain.JobCompleted)
	onProgress(domain.ProgressEvent{
		BytesWritten: job.BytesWritten(),
		Percent:      100,
		State:        domain.JobCompleted,
	})
}

// sourceError marks failures of the underlying byte source, as opposed to
// failures of the container format.
type sourceError struct {
	err error
}

func (s *sourceError) Error() string { return s.err.Error() }
func (s *sourceError) Unwrap() error { return s.err }

// sourceReader stops reading once ctx is done and tags source failures.
type sourceReader struct {
	ctx     context.Context
	r       io.Reader
	started func()
}

func (s *sourceReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := s.r.Read(p)
	if n > 0 && s.started != nil {
		s.started()
		s.started = nil
	}

	if err != nil && err != io.EOF {
		return n, &sourceError{err: err}
	}
	return n, err
}
