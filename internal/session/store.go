package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

// Report summarises an ingest run for ingest_report.json.
type Report struct {
	SessionID string       `json:"session_id"`
	RunID     string       `json:"run_id,omitempty"`
	Keyword   string       `json:"keyword"`
	State     ingest.State `json:"state"`
	Attempts  int          `json:"attempts"`
	Pages     int          `json:"pages"`
	Records   int          `json:"records"`
	Selected  int          `json:"selected"`
	Elapsed   string       `json:"elapsed"`
	Rejected  record.Tally `json:"rejected"`
	// Explanation is set when the run produced no records.
	Explanation string    `json:"explanation,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewReport builds the report for res. selected is the size of the premium
// set, zero when selection did not run.
func (s *Session) NewReport(res *ingest.Result, selected int, finished time.Time) Report {
	return Report{
		SessionID:   s.ID,
		Keyword:     s.Keyword,
		State:       res.State,
		Attempts:    res.Attempts,
		Pages:       res.Pages,
		Records:     len(res.Records),
		Selected:    selected,
		Elapsed:     res.Elapsed.Round(time.Millisecond).String(),
		Rejected:    res.Tally,
		Explanation: res.Explain(),
		FinishedAt:  finished,
	}
}

// WriteRecords writes records to data/notes.json and returns the path.
func (s *Session) WriteRecords(records []*record.Record) (string, error) {
	path := s.Path(NotesFile)
	if records == nil {
		records = []*record.Record{}
	}
	return path, WriteJSON(path, records)
}

// WriteReport writes data/ingest_report.json and returns the path.
func (s *Session) WriteReport(r Report) (string, error) {
	path := s.Path(ReportFile)
	return path, WriteJSON(path, r)
}

// LoadRecords reads a notes.json written by WriteRecords.
func LoadRecords(path string) ([]*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	var records []*record.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records from %s: %w", path, err)
	}
	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// WriteJSON writes v as two-space indented JSON without HTML escaping. The
// file is replaced atomically.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, buf.Bytes())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
