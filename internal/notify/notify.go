// Package notify publishes run progress to interested sinks: the structured
// log always, and a socket.io connection when the dashboard endpoint is
// configured. Publishing is fire-and-continue; a sink failure never aborts
// the run that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
)

// Event is one progress notification. NodeID is empty for run-level events.
type Event struct {
	RunID         string                  `json:"run_id"`
	CompositionID string                  `json:"composition_id"`
	Wave          int                     `json:"wave"`
	NodeID        string                  `json:"node_id,omitempty"`
	NodeState     composition.NodeState   `json:"node_state,omitempty"`
	RunStatus     composition.RunStatus   `json:"run_status,omitempty"`
	Detail        string                  `json:"detail,omitempty"`
	Time          time.Time               `json:"time"`
}

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// LogSink writes events to the context logger.
type LogSink struct{}

// Publish implements Sink.
func (LogSink) Publish(ctx context.Context, ev Event) error {
	logger := ctxlog.FromContext(ctx).With("run_id", ev.RunID, "composition_id", ev.CompositionID, "wave", ev.Wave)
	if ev.NodeID != "" {
		logger.Info("Node progress.", "node_id", ev.NodeID, "state", ev.NodeState, "detail", ev.Detail)
		return nil
	}
	logger.Info("Run progress.", "status", ev.RunStatus, "detail", ev.Detail)
	return nil
}

// Multi fans one event out to several sinks, keeping going past failures.
type Multi []Sink

// Publish implements Sink. The first error is returned after every sink has
// seen the event.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
