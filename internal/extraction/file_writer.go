package extraction

import (
	"fmt"
	"os"
)

// payloadFile is the single destination handle of a job. Only the job's
// worker touches it.
type payloadFile struct {
	path    string
	file    *os.File
	written int64
}

func createPayloadFile(path string) (*payloadFile, error) {
	// Truncate: a leftover from an interrupted run is rewritten from scratch
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open payload file: %w", err)
	}
	return &payloadFile{path: path, file: f}, nil
}

func (p *payloadFile) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	p.written += int64(n)
	return n, err
}

// Close syncs to disk and releases the handle. The file must be exactly as
// long as what was written.
func (p *payloadFile) Close() error {
	if err := p.file.Truncate(p.written); err != nil {
		p.file.Close()
		return fmt.Errorf("failed to truncate to final size: %w", err)
	}

	if err := p.file.Sync(); err != nil {
		p.file.Close()
		return fmt.Errorf("failed to sync payload: %w", err)
	}

	return p.file.Close()
}

// Abort releases the handle and leaves the partial file on disk.
func (p *payloadFile) Abort() {
	_ = p.file.Close()
}
