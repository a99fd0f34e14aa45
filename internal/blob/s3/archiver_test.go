package s3blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superpull/auctiond/internal/domain"
)

type fakeStream struct {
	msgs      []domain.StreamMessage
	readErr   error
	trimmedTo string
}

func (s *fakeStream) Read(_ context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	start := 0
	for i, m := range s.msgs {
		if m.ID == lastID {
			start = i + 1
		}
	}
	end := start + count
	if end > len(s.msgs) {
		end = len(s.msgs)
	}
	return s.msgs[start:end], nil
}

func (s *fakeStream) Trim(_ context.Context, upToID string) error {
	s.trimmedTo = upToID
	return nil
}

type fakeWriter struct {
	paths  []string
	bodies []string
	err    error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.paths = append(w.paths, path)
	w.bodies = append(w.bodies, string(body))
	return nil
}

type fakeAudit struct {
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func archiverLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func streamWith(ids ...string) *fakeStream {
	s := &fakeStream{}
	for _, id := range ids {
		s.msgs = append(s.msgs, domain.StreamMessage{
			ID:      id,
			Payload: []byte(`{"id":"` + id + `"}`),
		})
	}
	return s
}

func TestArchiveOnceUploadsAndTrims(t *testing.T) {
	stream := streamWith("1-0", "2-0", "3-0")
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	a := NewArchiver(stream, writer, audit, time.Minute, 500, archiverLogger())

	n, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, writer.paths, 1)
	assert.Contains(t, writer.paths[0], "archive/events/")
	assert.Contains(t, writer.paths[0], "1-0_3-0.jsonl")

	lines := strings.Split(strings.TrimSpace(writer.bodies[0]), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, `{"id":"1-0"}`, lines[0])

	assert.Equal(t, "3-0", stream.trimmedTo)
	assert.Equal(t, []string{"archive.events"}, audit.events)
}

func TestArchiveOnceEmptyStream(t *testing.T) {
	a := NewArchiver(streamWith(), &fakeWriter{}, nil, time.Minute, 500, archiverLogger())

	n, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveOnceBatchLimit(t *testing.T) {
	stream := streamWith("1-0", "2-0", "3-0")
	writer := &fakeWriter{}
	a := NewArchiver(stream, writer, nil, time.Minute, 2, archiverLogger())

	n, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "2-0", stream.trimmedTo)

	// Second run picks up where the first left off.
	n, err = a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "3-0", stream.trimmedTo)
}

func TestArchiveOnceUploadFailureLeavesStream(t *testing.T) {
	stream := streamWith("1-0")
	writer := &fakeWriter{err: errors.New("bucket gone")}
	a := NewArchiver(stream, writer, nil, time.Minute, 500, archiverLogger())

	_, err := a.ArchiveOnce(context.Background())
	assert.Error(t, err)
	assert.Empty(t, stream.trimmedTo)
}
