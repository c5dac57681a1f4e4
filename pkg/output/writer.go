package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for photometry fetches.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WritePhotometry emits one detection record.
	WritePhotometry(ctx context.Context, rec *PhotometryRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteSummary emits a per-fetch summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WriteBatchSummary emits the final batch summary record.
	WriteBatchSummary(ctx context.Context, sum *BatchSummaryRecord) error

	// WriteCacheEntry emits a cache listing record.
	WriteCacheEntry(ctx context.Context, entry *CacheEntryRecord) error

	// ForFetch returns a Writer sharing this writer's output that stamps
	// records with fetchID.
	ForFetch(fetchID string) Writer

	// Close flushes any buffered output and releases resources.
	Close() error
}

// sink is the shared, serialized destination behind one or more
// JSONLWriters.
type sink struct {
	w   io.Writer
	mu  sync.Mutex
	now func() time.Time

	// closed indicates the writer has been closed.
	closed bool
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output), including
// across the per-fetch writers returned by ForFetch.
type JSONLWriter struct {
	sink    *sink
	fetchID string
	source  string
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - fetchID: Default correlation ID; may be empty
//   - source: Photometry service identifier (e.g., "atlas")
func NewJSONLWriter(w io.Writer, fetchID, source string) *JSONLWriter {
	return &JSONLWriter{
		sink:    &sink{w: w, now: time.Now},
		fetchID: fetchID,
		source:  source,
	}
}

// ForFetch returns a writer for one fetch's records.
func (jw *JSONLWriter) ForFetch(fetchID string) Writer {
	return &JSONLWriter{sink: jw.sink, fetchID: fetchID, source: jw.source}
}

// WritePhotometry emits one detection record.
func (jw *JSONLWriter) WritePhotometry(ctx context.Context, rec *PhotometryRecord) error {
	return jw.writeRecord(ctx, TypePhotometry, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a per-fetch summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WriteBatchSummary(ctx context.Context, sum *BatchSummaryRecord) error {
	return jw.writeRecord(ctx, TypeBatchSummary, sum)
}

func (jw *JSONLWriter) WriteCacheEntry(ctx context.Context, entry *CacheEntryRecord) error {
	return jw.writeRecord(ctx, TypeCacheEntry, entry)
}

// Close marks the writer (and every ForFetch view of it) as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.sink.mu.Lock()
	defer jw.sink.mu.Unlock()

	jw.sink.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire write to ensure atomic line
// writes.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the payload outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	s := jw.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:    recordType,
		TS:      s.now().UTC(),
		FetchID: jw.fetchID,
		Source:  jw.source,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(s.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
