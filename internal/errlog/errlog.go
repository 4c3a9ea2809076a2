// Package errlog writes the per-run error side-channel: a JSON-lines error
// log and a CSV dump of offending rows.
package errlog

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
)

// Sink receives a copy of every entry, typically the run store.
type Sink interface {
	AddErrorEntry(ctx context.Context, runID string, e model.ErrorLogEntry) error
}

// Log is the append-only error side-channel for one run.
type Log struct {
	mu      sync.Mutex
	logger  *zap.Logger
	logFile *os.File
	rowFile *os.File
	rows    *csv.Writer
	sink    Sink
	runID   string
	counts  map[resilience.Kind]int
	now     func() time.Time
}

// Paths returns the error log and row dump paths for an output file name.
func Paths(dir, outputName string) (logPath, rowPath string) {
	base := filepath.Base(outputName)
	base = base[:len(base)-len(filepath.Ext(base))]
	return filepath.Join(dir, "error_log_"+base+".txt"), filepath.Join(dir, "error_log_"+base+".csv")
}

// Open creates dir if needed and opens both side files in append mode.
// sink may be nil.
func Open(dir, outputName, runID string, sink Sink) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "errlog: create %s", dir)
	}
	logPath, rowPath := Paths(dir, outputName)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "errlog: open %s", logPath)
	}
	rowFile, err := os.OpenFile(rowPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logFile.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "errlog: open %s", rowPath)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(logFile), zapcore.DebugLevel)

	return &Log{
		logger:  zap.New(core),
		logFile: logFile,
		rowFile: rowFile,
		rows:    csv.NewWriter(rowFile),
		sink:    sink,
		runID:   runID,
		counts:  make(map[resilience.Kind]int),
		now:     time.Now,
	}, nil
}

// Record appends one entry. context identifies what failed, usually a URL
// or batch number.
func (l *Log) Record(ctx context.Context, where string, err error) {
	if l == nil || err == nil {
		return
	}
	kind := resilience.KindOf(err)
	entry := model.ErrorLogEntry{
		Kind:      string(kind),
		Context:   where,
		Message:   err.Error(),
		Timestamp: l.now().UTC(),
	}

	l.mu.Lock()
	l.counts[kind]++
	l.logger.Error(entry.Message,
		zap.String("kind", entry.Kind),
		zap.String("context", entry.Context),
	)
	l.mu.Unlock()

	if l.sink != nil {
		if serr := l.sink.AddErrorEntry(ctx, l.runID, entry); serr != nil {
			zap.L().Warn("errlog: store entry failed", zap.Error(serr))
		}
	}
}

// DumpRow appends one offending row to the CSV dump.
func (l *Log) DumpRow(row ...string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rows.Write(row); err != nil {
		zap.L().Warn("errlog: dump row failed", zap.Error(err))
		return
	}
	l.rows.Flush()
}

// Counts returns the number of entries recorded per failure kind.
func (l *Log) Counts() map[resilience.Kind]int {
	out := make(map[resilience.Kind]int)
	if l == nil {
		return out
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Close flushes and closes both side files.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.logger.Sync()
	l.rows.Flush()
	var errs []error
	if err := l.rows.Error(); err != nil {
		errs = append(errs, err)
	}
	if err := l.logFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.rowFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return eris.Wrap(errs[0], "errlog: close")
	}
	return nil
}
