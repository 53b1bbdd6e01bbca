// Package store keeps a history of training and validation runs in a
// SQLite database: the artifacts (by fingerprint), one record per run,
// the feature matrix rows and the spectrum statuses of each run.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/524D/mztemplate/internal/pipeline"
	"github.com/524D/mztemplate/internal/template"
)

// ErrNotFound is returned for unknown fingerprints and run IDs
var ErrNotFound = errors.New("not found in store")

// Fixed width, so that the text column sorts chronologically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is an open run database
type Store struct {
	db         *sql.DB
	rowStmt    *sql.Stmt
	statusStmt *sql.Stmt
}

// Run describes one training or validation run
type Run struct {
	ID          uuid.UUID
	Phase       string // pipeline.PhaseTrain or pipeline.PhaseApply
	Fingerprint string // Artifact that was produced or applied
	Input       string
	Started     time.Time
	Duration    time.Duration
	Processed   int
	Total       int
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ArtifactTable (
		Fingerprint TEXT PRIMARY KEY,
		FormatVersion INTEGER,
		Features INTEGER,
		CalibrationScale DOUBLE,
		TrainingSpectra INTEGER,
		Body BLOB
	);

	CREATE TABLE IF NOT EXISTS RunTable (
		RunId TEXT PRIMARY KEY,
		Phase TEXT,
		Fingerprint TEXT REFERENCES ArtifactTable(Fingerprint),
		Input TEXT,
		Started TEXT,
		DurationSeconds DOUBLE,
		Processed INTEGER,
		Total INTEGER
	);

	CREATE TABLE IF NOT EXISTS RowTable (
		RunId TEXT REFERENCES RunTable(RunId),
		Position INTEGER,
		SpectrumId TEXT,
		GroupLabel TEXT,
		blobValues BLOB,
		PRIMARY KEY (RunId, Position)
	);

	CREATE TABLE IF NOT EXISTS StatusTable (
		RunId TEXT REFERENCES RunTable(RunId),
		Position INTEGER,
		SpectrumId TEXT,
		Code TEXT,
		Message TEXT,
		PRIMARY KEY (RunId, Position)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	s.rowStmt, err = s.db.Prepare(`
		INSERT INTO RowTable (RunId, Position, SpectrumId, GroupLabel, blobValues)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare row statement: %w", err)
	}
	s.statusStmt, err = s.db.Prepare(`
		INSERT INTO StatusTable (RunId, Position, SpectrumId, Code, Message)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare status statement: %w", err)
	}
	return nil
}

// Close closes the statements and the database
func (s *Store) Close() error {
	if s.rowStmt != nil {
		s.rowStmt.Close()
	}
	if s.statusStmt != nil {
		s.statusStmt.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SaveArtifact stores a and returns its fingerprint. Storing the same
// artifact twice keeps one copy.
func (s *Store) SaveArtifact(ctx context.Context, a template.Artifact) (string, error) {
	fp, err := a.Fingerprint()
	if err != nil {
		return "", err
	}
	var body bytes.Buffer
	if err := template.WriteArtifact(&body, a); err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ArtifactTable
			(Fingerprint, FormatVersion, Features, CalibrationScale, TrainingSpectra, Body)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fp, a.FormatVersion, a.Template.Len(), a.CalibrationScale, a.TrainingSpectra, body.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to insert artifact: %w", err)
	}
	return fp, nil
}

// LoadArtifact reads the artifact with the given fingerprint
func (s *Store) LoadArtifact(ctx context.Context, fingerprint string) (template.Artifact, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT Body FROM ArtifactTable WHERE Fingerprint = ?`, fingerprint).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return template.Artifact{}, fmt.Errorf("artifact %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return template.Artifact{}, fmt.Errorf("failed to read artifact: %w", err)
	}
	return template.ReadArtifact(bytes.NewReader(body))
}

// SaveRun stores a run with its matrix rows and statuses in one
// transaction, and returns the run ID. A zero run.ID gets a new UUID.
func (s *Store) SaveRun(ctx context.Context, run Run, m *template.Matrix, rep *pipeline.Report) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	id := run.ID.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO RunTable
			(RunId, Phase, Fingerprint, Input, Started, DurationSeconds, Processed, Total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, run.Phase, run.Fingerprint, run.Input, run.Started.UTC().Format(timeFormat),
		run.Duration.Seconds(), run.Processed, run.Total)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run: %w", err)
	}

	if m != nil {
		rowStmt := tx.StmtContext(ctx, s.rowStmt)
		for i, r := range m.Rows {
			_, err := rowStmt.ExecContext(ctx, id, i, r.SpectrumID, r.Group, encodeFloat64(r.Values))
			if err != nil {
				return uuid.Nil, fmt.Errorf("failed to insert row %s: %w", r.SpectrumID, err)
			}
		}
	}
	if rep != nil {
		statusStmt := tx.StmtContext(ctx, s.statusStmt)
		for i, st := range rep.Statuses {
			var msg string
			if st.Err != nil {
				msg = st.Err.Error()
			}
			_, err := statusStmt.ExecContext(ctx, id, i, st.SpectrumID, st.Code.String(), msg)
			if err != nil {
				return uuid.Nil, fmt.Errorf("failed to insert status %s: %w", st.SpectrumID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run.ID, nil
}

// Runs returns the runs that produced or applied the artifact with the
// given fingerprint, oldest first. An empty fingerprint returns all runs.
func (s *Store) Runs(ctx context.Context, fingerprint string) ([]Run, error) {
	q := `SELECT RunId, Phase, Fingerprint, Input, Started, DurationSeconds, Processed, Total
		FROM RunTable`
	var args []any
	if fingerprint != "" {
		q += ` WHERE Fingerprint = ?`
		args = append(args, fingerprint)
	}
	q += ` ORDER BY Started, RunId`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			id      string
			started string
			secs    float64
		)
		if err := rows.Scan(&id, &r.Phase, &r.Fingerprint, &r.Input, &started,
			&secs, &r.Processed, &r.Total); err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run %q: %w", id, err)
		}
		if r.Started, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		r.Duration = time.Duration(secs * float64(time.Second))
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StatusCounts returns the number of spectra per status code of a run
func (s *Store) StatusCounts(ctx context.Context, runID uuid.UUID) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT Code, COUNT(*) FROM StatusTable WHERE RunId = ? GROUP BY Code
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			code string
			n    int
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to read status: %w", err)
		}
		counts[code] = n
	}
	return counts, rows.Err()
}

// encodeFloat64 encodes values as a little-endian float64 blob
func encodeFloat64(values []float64) []byte {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}
