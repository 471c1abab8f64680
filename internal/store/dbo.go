package store

import (
	"database/sql"
	"time"

	"github.com/pspdemo/isoload/internal/domain"
)

// acquisitionDBO maps to the acquisitions table
type acquisitionDBO struct {
	ID            string         `db:"id"`
	Mode          sql.NullString `db:"mode"`
	Source        sql.NullString `db:"source"`
	State         string         `db:"state"`
	PayloadPath   sql.NullString `db:"payload_path"`
	BytesWritten  int64          `db:"bytes_written"`
	ExpectedBytes int64          `db:"expected_bytes"`
	ErrorKind     sql.NullString `db:"error_kind"`
	Error         sql.NullString `db:"error"`
	StartedAt     int64          `db:"started_at"`
	FinishedAt    int64          `db:"finished_at"`
}

// Mapper: DBO to Domain AcquisitionRecord
func (r *acquisitionDBO) ToDomain() *domain.AcquisitionRecord {
	rec := &domain.AcquisitionRecord{
		ID:            r.ID,
		Mode:          domain.SourceMode(r.Mode.String),
		Source:        r.Source.String,
		State:         domain.AcquisitionState(r.State),
		PayloadPath:   r.PayloadPath.String,
		BytesWritten:  r.BytesWritten,
		ExpectedBytes: r.ExpectedBytes,
		ErrorKind:     domain.ErrorKind(r.ErrorKind.String),
		Error:         r.Error.String,
		StartedAt:     time.UnixMilli(r.StartedAt).UTC(),
	}
	if r.FinishedAt > 0 {
		rec.FinishedAt = time.UnixMilli(r.FinishedAt).UTC()
	}
	return rec
}

// Mapper: Domain AcquisitionRecord to DBO
func (r *acquisitionDBO) FromDomain(rec *domain.AcquisitionRecord) {
	r.ID = rec.ID
	r.Mode = nullString(string(rec.Mode))
	r.Source = nullString(rec.Source)
	r.State = string(rec.State)
	r.PayloadPath = nullString(rec.PayloadPath)
	r.BytesWritten = rec.BytesWritten
	r.ExpectedBytes = rec.ExpectedBytes
	r.ErrorKind = nullString(string(rec.ErrorKind))
	r.Error = nullString(rec.Error)

	r.StartedAt = 0
	if !rec.StartedAt.IsZero() {
		r.StartedAt = rec.StartedAt.UnixMilli()
	}
	r.FinishedAt = 0
	if !rec.FinishedAt.IsZero() {
		r.FinishedAt = rec.FinishedAt.UnixMilli()
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
