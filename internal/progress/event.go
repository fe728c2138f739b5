package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StagePageStart Stage = "PAGE_START"
	StagePageDone  Stage = "PAGE_DONE"
	StageRunDone   Stage = "RUN_DONE"
)

// Event is one milestone of an orchestration run.
type Event struct {
	RunID string
	TS    time.Time
	Stage Stage
	// Mode is the scheduling mode of the run.
	Mode string
	// Page is set for page stages only.
	Page int
	// TotalPages is set on RUN_START and RUN_DONE.
	TotalPages int
	// Success reports the page outcome on PAGE_DONE and the run outcome on RUN_DONE.
	Success bool
	// Keywords counts keywords returned by a page, or merged keywords on RUN_DONE.
	Keywords int
	Dur      time.Duration
	// Note carries the page error text or the run message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePageStart, StagePageDone:
		if e.Page < 1 {
			return fmt.Errorf("%s requires page >= 1", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Outcome labels a PAGE_DONE or RUN_DONE event for metrics.
func (e Event) Outcome() string {
	if e.Success {
		return "success"
	}
	return "failure"
}
