package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/ingest"
	"github.com/fyrsmithlabs/feedcurate/internal/logging"
)

// DebugDumper writes raw response pages to dir as
// debug_response_<YYYYMMDD_HHMMSS>_<seq>.json. It satisfies
// ingest.PageRecorder; the loop decides how many pages to hand over.
type DebugDumper struct {
	dir    string
	now    func() time.Time
	logger *logging.Logger
}

var _ ingest.PageRecorder = (*DebugDumper)(nil)

// NewDebugDumper creates a dumper writing into dir.
func NewDebugDumper(dir string, logger *logging.Logger) *DebugDumper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DebugDumper{dir: dir, now: time.Now, logger: logger}
}

// RecordPage writes payload, pretty-printed when it is valid JSON and
// verbatim otherwise.
func (d *DebugDumper) RecordPage(ctx context.Context, seq int, payload ingest.RawPayload) error {
	name := fmt.Sprintf("debug_response_%s_%d.json", d.now().Format(TimestampLayout), seq)
	path := filepath.Join(d.dir, name)

	var buf bytes.Buffer
	data := []byte(payload)
	if err := json.Indent(&buf, payload, "", "  "); err == nil {
		buf.WriteByte('\n')
		data = buf.Bytes()
	}

	if err := writeAtomic(path, data); err != nil {
		return err
	}
	d.logger.Debug(ctx, "debug page written", zap.String("path", path), zap.Int("seq", seq))
	return nil
}
