package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/sqlbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlbridge/internal/script"
)

// RunEvent is published to sqlbridge/event/script_run after every run.
type RunEvent struct {
	RunID      string `json:"run_id,omitempty"`
	Name       string `json:"name"`
	Caller     string `json:"caller,omitempty"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// Announcer is a Runner that publishes a RunEvent for each run it makes.
// Publish failures are logged and never change the run's outcome.
type Announcer struct {
	runner Runner
	pub    EventPublisher
	logger Logger
}

// NewAnnouncer wraps runner so every run is announced through pub.
func NewAnnouncer(runner Runner, pub EventPublisher) *Announcer {
	return &Announcer{runner: runner, pub: pub}
}

// SetLogger sets the logger for publish failures.
func (a *Announcer) SetLogger(logger Logger) {
	a.logger = logger
}

// Run runs req with the wrapped runner and announces the outcome.
func (a *Announcer) Run(ctx context.Context, req script.Request) (*script.Result, error) {
	start := time.Now()
	res, err := a.runner.Run(ctx, req)

	ev := RunEvent{
		Name:       req.Name,
		Caller:     string(req.Caller),
		OK:         err == nil,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.RunID = res.RunID
		ev.Name = res.Name
		ev.DurationMS = res.Duration.Milliseconds()
	}
	a.announce(ev)

	return res, err
}

func (a *Announcer) announce(ev RunEvent) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = a.pub.PublishEvent(mqtt.EventScriptRun, data)
	}
	if err != nil && a.logger != nil {
		a.logger.Warn("run event not published", "run_id", ev.RunID, "error", err)
	}
}
