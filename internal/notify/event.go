package notify

import (
	"time"

	"foldwarden/pkg/cloudevent"
)

// Event types emitted when a run finishes.
const (
	EventRunCompleted = "foldwarden.run.completed"
	EventRunFailed    = "foldwarden.run.failed"
)

const eventSource = "foldwarden"

// Outcome is the webhook payload for a finished run.
type Outcome struct {
	RunID     string
	Job       string
	Status    string // completed, degraded, failed, denied, timeout, watchdog_killed
	Duration  time.Duration
	OutputDir string
	Error     string // empty on success
	TLDR      string // empty when no narrative was generated
}

// completed and degraded runs produced artifacts; everything else is a
// failure from the receiver's point of view.
func (o Outcome) eventType() string {
	switch o.Status {
	case "completed", "degraded":
		return EventRunCompleted
	default:
		return EventRunFailed
	}
}

func newEvent(o Outcome) *cloudevent.CloudEvent {
	data := map[string]any{
		"run_id":           o.RunID,
		"job":              o.Job,
		"status":           o.Status,
		"duration_seconds": o.Duration.Seconds(),
	}
	if o.OutputDir != "" {
		data["output_dir"] = o.OutputDir
	}
	if o.Error != "" {
		data["error"] = o.Error
	}
	if o.TLDR != "" {
		data["tldr"] = o.TLDR
	}
	return cloudevent.New(o.eventType(), eventSource, o.Job, o.RunID, data)
}
