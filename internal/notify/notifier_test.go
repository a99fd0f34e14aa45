package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superpull/auctiond/internal/domain"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gradEvent(t *testing.T) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(domain.EventAuctionGraduated, "auc-1", domain.AuctionGraduatedPayload{
		Auction:          "auc-1",
		TotalItems:       5,
		TotalValueLocked: 600000,
	})
	require.NoError(t, err)
	return ev
}

func TestHandleEventRendersGraduation(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.HandleEvent(context.Background(), gradEvent(t)))

	require.Len(t, sender.titles, 1)
	assert.Equal(t, "Auction graduated", sender.titles[0])
	assert.Contains(t, sender.messages[0], "auc-1")
	assert.Contains(t, sender.messages[0], "5 items")
	assert.Contains(t, sender.messages[0], "600000")
}

func TestHandleEventFiltersByType(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"funds_withdrawn"}, discardLogger())

	require.NoError(t, n.HandleEvent(context.Background(), gradEvent(t)))
	assert.Empty(t, sender.titles)

	ev, err := domain.NewEvent(domain.EventFundsWithdrawn, "auc-1", domain.FundsWithdrawnPayload{
		Auction:   "auc-1",
		Authority: "alice",
		Amount:    600000,
	})
	require.NoError(t, err)
	require.NoError(t, n.HandleEvent(context.Background(), ev))
	require.Len(t, sender.titles, 1)
	assert.Equal(t, "Funds withdrawn", sender.titles[0])
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "message")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	require.Len(t, good.titles, 1)
}

func TestNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}
