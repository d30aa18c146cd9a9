package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/vladimirvivien/go4vl/v4l2"
	"gopkg.in/yaml.v3"

	"chronosnap-pi/pkg/camera"
	"chronosnap-pi/pkg/types"
)

const (
	DefaultInterval       = 10 * time.Second
	DefaultCaptureTimeout = 30 * time.Second
)

// Settings are the capture parameters read when a sequence starts.
type Settings struct {
	Interval time.Duration `yaml:"interval"`
	// 0 means unlimited
	Limit     int    `yaml:"limit"`
	Camera    string `yaml:"camera"`
	Autofocus bool   `yaml:"autofocus"`
	// extra focus attempts after a failed one
	FocusRetries   int           `yaml:"focus_retries"`
	KeepCameraOpen bool          `yaml:"keep_camera_open"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	FocusTimeout   time.Duration `yaml:"focus_timeout"`

	Controls map[uint32]int32 `yaml:"controls,omitempty"`
}

func Default() Settings {
	return Settings{
		Interval:       DefaultInterval,
		Camera:         camera.DefaultDevice,
		Width:          camera.DefaultWidth,
		Height:         camera.DefaultHeight,
		CaptureTimeout: DefaultCaptureTimeout,
		FocusTimeout:   camera.DefaultFocusTimeout,
	}
}

func (s Settings) Validate() error {
	if s.Interval <= 0 {
		return errors.Errorf("interval must be > 0, got %s", s.Interval)
	}
	if s.Limit < 0 {
		return errors.Errorf("limit must be >= 0, got %d", s.Limit)
	}
	if s.FocusRetries < 0 {
		return errors.Errorf("focus_retries must be >= 0, got %d", s.FocusRetries)
	}
	if s.Width < 0 || s.Height < 0 {
		return errors.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}

	return nil
}

func (s Settings) withDefaults() Settings {
	d := Default()
	if s.Camera == "" {
		s.Camera = d.Camera
	}
	if s.Width == 0 {
		s.Width = d.Width
	}
	if s.Height == 0 {
		s.Height = d.Height
	}
	if s.CaptureTimeout <= 0 {
		s.CaptureTimeout = d.CaptureTimeout
	}
	if s.FocusTimeout <= 0 {
		s.FocusTimeout = d.FocusTimeout
	}
	return s
}

func (s Settings) CameraOptions() camera.Options {
	controls := make(types.CameraSettings, len(s.Controls))
	for id, v := range s.Controls {
		controls[v4l2.CtrlID(id)] = v4l2.CtrlValue(v)
	}

	return camera.Options{
		Width:        s.Width,
		Height:       s.Height,
		FocusTimeout: s.FocusTimeout,
		Controls:     controls,
	}
}

// Parse decodes YAML settings, applies defaults and validates them.
func Parse(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "unmarshal yaml")
	}
	s = s.withDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// File provides Settings from a YAML file. The file is read on every Load,
// so edits apply to the next sequence.
type File struct {
	Path string
}

func (f File) Load() (Settings, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, errors.Wrap(err, "read config file")
	}

	s, err := Parse(data)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "config %s", f.Path)
	}
	return s, nil
}

// Static always provides the same Settings.
type Static Settings

func (s Static) Load() (Settings, error) {
	settings := Settings(s).withDefaults()
	return settings, settings.Validate()
}
