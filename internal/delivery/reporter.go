package delivery

import (
	"context"
	"fmt"

	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/rs/zerolog"
)

// Reporter splits messages into units and hands them to a sink.
// Sink failures are logged and counted, never returned.
type Reporter struct {
	sink     Sink
	unitSize int
	logger   zerolog.Logger
}

// NewReporter creates a reporter over sink
func NewReporter(sink Sink, unitSize int, logger zerolog.Logger) *Reporter {
	if unitSize <= 0 {
		unitSize = 2000
	}
	return &Reporter{
		sink:     sink,
		unitSize: unitSize,
		logger:   logger.With().Str("component", "reporter").Logger(),
	}
}

// Report delivers msg, attaching its files to the last unit
func (r *Reporter) Report(ctx context.Context, msg Message) {
	units := SplitMessage(msg.Content, r.unitSize)
	if len(units) == 0 {
		if len(msg.Attachments) == 0 {
			return
		}
		units = []string{""}
	}

	for i, unit := range units {
		m := msg
		m.Content = unit
		m.Attachments = nil
		if i == len(units)-1 {
			m.Attachments = msg.Attachments
		}

		err := r.sink.Report(ctx, m)
		observability.RecordDelivery(r.sink.Name(), err == nil)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("scope_id", msg.ScopeID).
				Str("kind", string(msg.Kind)).
				Int("unit", i).
				Msg("delivery failed")
		}
	}
}

// Status reports a progress line
func (r *Reporter) Status(ctx context.Context, scopeID, sessionID, format string, args ...any) {
	r.Report(ctx, Message{
		ScopeID:   scopeID,
		SessionID: sessionID,
		Kind:      KindStatus,
		Content:   fmt.Sprintf(format, args...),
	})
}

// Failure reports a per-unit failure notice
func (r *Reporter) Failure(ctx context.Context, scopeID, sessionID, format string, args ...any) {
	r.Report(ctx, Message{
		ScopeID:   scopeID,
		SessionID: sessionID,
		Kind:      KindFailure,
		Content:   fmt.Sprintf(format, args...),
	})
}
