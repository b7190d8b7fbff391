package monitor

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// State is a stage of the monitor cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateNormalizing
	StateComputing
	StatePersisting
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateNormalizing:
		return "normalizing"
	case StateComputing:
		return "computing"
	case StatePersisting:
		return "persisting"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CycleError records the stage a cycle failed in.
type CycleError struct {
	Stage State
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("monitor: %s: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Status is a point-in-time view of the monitor.
type Status struct {
	State               State               `json:"state"`
	Cycles              int64               `json:"cycles"`
	Failures            int64               `json:"failures"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastStage           string              `json:"last_failed_stage,omitempty"`
	LastError           string              `json:"last_error,omitempty"`
	LastCycleAt         time.Time           `json:"last_cycle_at"`
	Last                *domain.Observation `json:"last_observation,omitempty"`
}
