package ov

import (
	"github.com/vladimirvivien/go4vl/v4l2"

	"chronosnap-pi/pkg/storage/sequence"
)

type StartSequence struct {
	Name string `json:"name" binding:"required"`
}

type Sequence struct {
	Name    string               `json:"name"`
	Running bool                 `json:"running"`
	Info    *sequence.ImagesInfo `json:"info,omitempty"`
}

type Video struct {
	Path   string `json:"path"`
	Frames int    `json:"frames"`
}

type Webdav struct {
	Running bool `json:"running"`
	Port    int  `json:"port"`
}

// Control is the current value of one camera control.
type Control struct {
	ID    v4l2.CtrlID    `json:"id"`
	Value v4l2.CtrlValue `json:"value"`
	Name  string         `json:"name"`
}
