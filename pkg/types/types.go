package types

import (
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
)

type CameraSettings map[v4l2.CtrlID]v4l2.CtrlValue

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Snapshot is the status of the capture sequence as seen by status sinks.
// ImagesRemaining is always 0 for an unlimited sequence.
type Snapshot struct {
	Running         bool       `json:"running"`
	State           string     `json:"state"`
	SequenceID      string     `json:"sequenceId,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	ImagesCaptured  int        `json:"imagesCaptured"`
	ImagesRemaining int        `json:"imagesRemaining"`
}
