package util

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Timer measures total elapsed time and named stages of one operation.
type Timer struct {
	start  time.Time
	last   time.Time
	stages []stage
	now    func() time.Time
}

type stage struct {
	name string
	took time.Duration
}

// StartTimer creates a timer starting at the current time.
func StartTimer() *Timer {
	return startTimerAt(time.Now)
}

func startTimerAt(now func() time.Time) *Timer {
	t := now()
	return &Timer{start: t, last: t, now: now}
}

// Lap closes the current stage under name and starts the next one.
func (t *Timer) Lap(name string) time.Duration {
	if t == nil {
		return 0
	}
	current := t.now()
	took := current.Sub(t.last)
	t.last = current
	t.stages = append(t.stages, stage{name: name, took: took})
	return took
}

// ElapsedMs returns the elapsed milliseconds since start.
func (t *Timer) ElapsedMs() int64 {
	if t == nil || t.start.IsZero() {
		return 0
	}
	return t.now().Sub(t.start).Milliseconds()
}

// Fields renders elapsed_ms plus one <stage>_ms entry per lap for structured logs.
func (t *Timer) Fields() logrus.Fields {
	fields := logrus.Fields{"elapsed_ms": t.ElapsedMs()}
	if t == nil {
		return fields
	}
	for _, s := range t.stages {
		fields[s.name+"_ms"] = s.took.Milliseconds()
	}
	return fields
}
