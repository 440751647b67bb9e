package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/pkg/schema"
)

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentNotification
	errs map[string]error
}

func (m *mockSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	if err := m.errs[sessionID]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentNotification{sessionID: sessionID, method: method, params: params})
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestRunNotifier_NotifiesWatchers(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Watch("invoices", "s1")
	sessions.Watch("receipts", "s2")
	sender := &mockSender{}
	n := newRunNotifier(sender, sessions, nil)

	n.Notify(streaming.RunEvent{
		Type:    schema.EventRunFailed,
		FlowID:  "invoices",
		RunID:   "r1",
		DocID:   "d1",
		Payload: map[string]any{"error": "boom"},
	})

	require.Len(t, sender.sent, 1)
	got := sender.sent[0]
	assert.Equal(t, "s1", got.sessionID)
	assert.Equal(t, notifyMethod, got.method)
	assert.Equal(t, "run_failed", got.params["type"])
	assert.Equal(t, "r1", got.params["run_id"])
	assert.Equal(t, "d1", got.params["doc_id"])
}

func TestRunNotifier_ForgetsGoneSessions(t *testing.T) {
	sessions := NewSessionRegistry()
	sessions.Watch("invoices", "gone")
	sessions.Watch("invoices", "flaky")
	sender := &mockSender{errs: map[string]error{
		"gone":  server.ErrSessionNotFound,
		"flaky": errors.New("write failed"),
	}}
	n := newRunNotifier(sender, sessions, nil)

	n.Notify(streaming.RunEvent{Type: schema.EventRunSucceeded, FlowID: "invoices"})

	assert.Equal(t, []string{"flaky"}, sessions.Watchers("invoices"))
}

func TestRunNotifier_WatchForwardsTerminalEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	sessions := NewSessionRegistry()
	sessions.Watch("invoices", "s1")
	sender := &mockSender{}
	n := newRunNotifier(sender, sessions, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watch(ctx, hub) }()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, streaming.RunEvent{Type: schema.EventNodeVisited, FlowID: "invoices"}))
	require.NoError(t, hub.Publish(ctx, streaming.RunEvent{Type: schema.EventRunSucceeded, FlowID: "invoices"}))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
