package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Page starts go to debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("mode", evt.Mode),
		}
		switch evt.Stage {
		case progress.StagePageStart:
			s.logger.Debug("progress event", append(fields, zap.Int("page", evt.Page))...)
			continue
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.Bool("success", evt.Success),
				zap.Int("keywords", evt.Keywords),
				zap.Duration("dur", evt.Dur),
			)
		default:
			fields = append(fields,
				zap.Int("total_pages", evt.TotalPages),
				zap.Bool("success", evt.Success),
				zap.Int("keywords", evt.Keywords),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
