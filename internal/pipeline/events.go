package pipeline

import (
	"time"

	"postbot/internal/eventbus"
)

// StageEvent is published on eventbus.TypeStage after every stage attempt.
type StageEvent struct {
	RunID string
	Stage Stage
	OK    bool
	Fatal bool
	Error string
	Took  time.Duration
}

// RunEvent is published on eventbus.TypeRunDone once per run.
type RunEvent struct {
	RunID    string
	Success  bool
	Error    string
	Channels int
}

func (r *run) emit(stage Stage, start time.Time, err error, isFatal bool) {
	ev := StageEvent{RunID: r.id, Stage: stage, OK: err == nil, Fatal: isFatal, Took: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
	}
	r.p.bus.Publish(eventbus.Event{Type: eventbus.TypeStage, Data: ev})
}
