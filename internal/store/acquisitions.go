package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pspdemo/isoload/internal/domain"
)

// ErrNotFound is returned when no acquisition has the requested ID.
var ErrNotFound = errors.New("acquisition not found")

const defaultListLimit = 50

const acquisitionColumns = `id, mode, source, state, payload_path, bytes_written, expected_bytes, error_kind, error, started_at, finished_at`

// SaveAcquisition inserts the record or overwrites the previous state of the same run.
func (s *PersistentStore) SaveAcquisition(ctx context.Context, rec *domain.AcquisitionRecord) error {
	var dbo acquisitionDBO
	dbo.FromDomain(rec)

	query := s.rebind(`
		INSERT INTO acquisitions (` + acquisitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			source = excluded.source,
			state = excluded.state,
			payload_path = excluded.payload_path,
			bytes_written = excluded.bytes_written,
			expected_bytes = excluded.expected_bytes,
			error_kind = excluded.error_kind,
			error = excluded.error,
			finished_at = excluded.finished_at`)

	_, err := s.db.ExecContext(ctx, query,
		dbo.ID, dbo.Mode, dbo.Source, dbo.State, dbo.PayloadPath,
		dbo.BytesWritten, dbo.ExpectedBytes, dbo.ErrorKind, dbo.Error,
		dbo.StartedAt, dbo.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save acquisition %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PersistentStore) GetAcquisition(ctx context.Context, id string) (*domain.AcquisitionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+acquisitionColumns+` FROM acquisitions WHERE id = ? LIMIT 1`), id)

	var dbo acquisitionDBO
	if err := scanAcquisition(row, &dbo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return dbo.ToDomain(), nil
}

// ListAcquisitions returns the most recent runs first. KSUIDs sort by creation time.
func (s *PersistentStore) ListAcquisitions(ctx context.Context, limit int) ([]*domain.AcquisitionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+acquisitionColumns+` FROM acquisitions ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.AcquisitionRecord
	for rows.Next() {
		var dbo acquisitionDBO
		if err := scanAcquisition(rows, &dbo); err != nil {
			return nil, err
		}
		recs = append(recs, dbo.ToDomain())
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAcquisition(row scanner, dbo *acquisitionDBO) error {
	return row.Scan(
		&dbo.ID, &dbo.Mode, &dbo.Source, &dbo.State, &dbo.PayloadPath,
		&dbo.BytesWritten, &dbo.ExpectedBytes, &dbo.ErrorKind, &dbo.Error,
		&dbo.StartedAt, &dbo.FinishedAt,
	)
}
