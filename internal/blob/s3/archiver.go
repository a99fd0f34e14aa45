package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/superpull/auctiond/internal/domain"
)

// BlobWriter is the narrow upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// AuditLogger records archival runs for the operational audit trail.
type AuditLogger interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Archiver drains the durable auction event stream into S3 in JSONL batches.
// Each batch is uploaded before the stream is trimmed, so a failed upload
// leaves the events in place for the next run. The checkpoint is the stream
// ID of the last archived entry, held in memory; restarting the process
// re-reads from the stream head, which can duplicate a batch in S3 but never
// loses one.
type Archiver struct {
	stream    domain.EventStream
	writer    BlobWriter
	audit     AuditLogger
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	lastID    string
}

// NewArchiver creates an Archiver reading from stream and writing to writer.
// audit may be nil to skip audit logging.
func NewArchiver(stream domain.EventStream, writer BlobWriter, audit AuditLogger, interval time.Duration, batchSize int, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Archiver{
		stream:    stream,
		writer:    writer,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run archives batches on a fixed interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ArchiveOnce reads up to one batch from the event stream, uploads it, and
// trims the archived range. It returns the number of events archived; zero
// with a nil error means the stream had nothing new.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	msgs, err := a.stream.Read(ctx, a.lastID, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: read event stream: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	first, last := msgs[0].ID, msgs[len(msgs)-1].ID

	var buf bytes.Buffer
	for _, m := range msgs {
		buf.Write(m.Payload)
		buf.WriteByte('\n')
	}

	path := archivePath(time.Now().UTC(), first, last)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", path, err)
	}

	// Trim only after the upload succeeded.
	if err := a.stream.Trim(ctx, last); err != nil {
		return len(msgs), fmt.Errorf("s3blob: trim event stream: %w", err)
	}
	a.lastID = last

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":  path,
			"count": len(msgs),
			"first": first,
			"last":  last,
		}); err != nil {
			return len(msgs), fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "archived event batch",
		slog.String("path", path),
		slog.Int("count", len(msgs)),
	)
	return len(msgs), nil
}

// archivePath builds the S3 key for one batch, partitioned by day with the
// stream ID range in the object name.
//
//	archive/events/2026-08-29/1693300000000-0_1693300100000-0.jsonl
func archivePath(now time.Time, first, last string) string {
	return fmt.Sprintf("archive/events/%s/%s_%s.jsonl", now.Format("2006-01-02"), first, last)
}
