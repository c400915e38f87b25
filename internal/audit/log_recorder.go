// Package audit delivers tool access events to their store.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"go.pilab.hu/toolgate"
)

// LogRecorder writes activity events as structured JSON log lines. It is
// used when no database is configured.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder writes events to w.
func NewLogRecorder(w io.Writer) *LogRecorder {
	return &LogRecorder{
		logger: zerolog.New(w).With().Timestamp().Str("service", "toolgate").Logger(),
	}
}

// RecordActivity implements toolgate.ActivityRecorder.
func (r *LogRecorder) RecordActivity(_ context.Context, event toolgate.ActivityEvent) error {
	entry, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal activity event: %w", err)
	}
	r.logger.Log().RawJSON("activity_event", entry).Msg("")
	return nil
}

var _ toolgate.ActivityRecorder = (*LogRecorder)(nil)
