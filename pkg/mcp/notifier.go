package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// notifyMethod is the MCP notification carrying run completions.
const notifyMethod = "notifications/message"

// clientSender delivers a notification to one MCP session.
// Satisfied by *server.MCPServer.
type clientSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// RunNotifier pushes run completions to the sessions watching each flow.
type RunNotifier struct {
	sender   clientSender
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewRunNotifier creates a notifier that pushes through the MCP server.
func NewRunNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *RunNotifier {
	return newRunNotifier(mcpServer, sessions, logger)
}

func newRunNotifier(sender clientSender, sessions *SessionRegistry, logger *slog.Logger) *RunNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunNotifier{sender: sender, sessions: sessions, logger: logger}
}

// Watch subscribes to terminal run events on hub and forwards them until
// ctx is cancelled or the subscription closes.
func (n *RunNotifier) Watch(ctx context.Context, hub streaming.Hub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.RunFilter{
		Types: []string{schema.EventRunSucceeded, schema.EventRunFailed, schema.EventRunRejected},
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.Notify(ev)
		}
	}
}

// Notify sends ev to every session watching its flow.
// Best-effort: sessions that have gone away are forgotten.
func (n *RunNotifier) Notify(ev streaming.RunEvent) {
	payload := map[string]any{
		"type":    ev.Type,
		"flow_id": ev.FlowID,
		"run_id":  ev.RunID,
	}
	if ev.DocID != "" {
		payload["doc_id"] = ev.DocID
	}
	if ev.Payload != nil {
		payload["payload"] = ev.Payload
	}

	for _, sid := range n.sessions.Watchers(ev.FlowID) {
		err := n.sender.SendNotificationToSpecificClient(sid, notifyMethod, payload)
		switch {
		case err == nil:
		case errors.Is(err, server.ErrSessionNotFound):
			n.sessions.Remove(sid)
		default:
			n.logger.Warn("run notification failed",
				slog.String("session_id", sid),
				slog.String("flow_id", ev.FlowID),
				slog.String("error", err.Error()))
		}
	}
}
