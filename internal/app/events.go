package app

import (
	"context"

	"postbot/internal/eventbus"
	"postbot/internal/pipeline"
	"postbot/internal/retention"
	logx "postbot/pkg/logx"
)

func logEvents(ctx context.Context, log logx.Logger, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, e)
		}
	}
}

func logEvent(log logx.Logger, e eventbus.Event) {
	switch d := e.Data.(type) {
	case pipeline.StageEvent:
		fields := []logx.Field{
			logx.String("run", d.RunID),
			logx.String("stage", string(d.Stage)),
			logx.Bool("ok", d.OK),
			logx.Duration("took", d.Took),
		}
		if d.Error != "" {
			fields = append(fields, logx.String("error", d.Error), logx.Bool("fatal", d.Fatal))
		}
		log.Debug("stage", fields...)
	case pipeline.RunEvent:
		log.Debug("run done", logx.String("run", d.RunID), logx.Bool("success", d.Success), logx.Int("posts", d.Channels))
	case retention.Outcome:
		log.Info(e.Type, logx.String("run", d.RunID), logx.Int("attempted", d.Attempted), logx.Int("retracted", d.Retracted))
	default:
		log.Debug("event", logx.String("type", e.Type))
	}
}
