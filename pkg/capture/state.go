package capture

import (
	"time"

	"chronosnap-pi/pkg/config"
	"chronosnap-pi/pkg/schedule"
)

type State int

const (
	Idle State = iota
	Active
	CaptureInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case CaptureInFlight:
		return "capturing"
	default:
		return "unknown"
	}
}

// sequenceState is only touched by the event loop.
type sequenceState struct {
	state      State
	startTime  *time.Time
	nextIndex  int
	limit      int
	interval   time.Duration
	sequenceID string
	// latched while a capture is in flight, cleared by shutdown
	stopRequested bool
}

func (s *sequenceState) running() bool {
	return s.state != Idle
}

// run holds the resources of the active sequence.
type run struct {
	epoch    uint64
	settings config.Settings
	camera   Camera
	timer    *schedule.Handle
	// generation of the armed timer, 0 when none is armed
	armed uint64
	// fire time of the tick that started the current or last capture
	tickAt time.Time
}

type event interface{}

type startEvent struct {
	sequenceID string
	reply      chan error
}

type stopEvent struct {
	reply chan error
}

type statusEvent struct {
	reply chan Snapshot
}

type timerFired struct {
	gen     uint64
	firedAt time.Time
}

type captureDone struct {
	epoch uint64
	index int
	path  string
	err   error
}
