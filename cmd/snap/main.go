package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"chronosnap-pi/pkg/camera"
	"chronosnap-pi/pkg/config"
	"chronosnap-pi/pkg/ov"
	"chronosnap-pi/pkg/storage"
	"chronosnap-pi/pkg/utils"
)

var (
	configFile   string
	storageDir   string
	name         string
	index        int
	selector     string
	listControls bool
	timeout      time.Duration
)

var logger = utils.GetLogger()

var rootCmd = &cobra.Command{
	Use:          "snap",
	Short:        "Capture a single frame into a sequence",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.File{Path: configFile}.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("camera") {
			s.Camera = selector
		}
		if err = s.Validate(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if listControls {
			return printControls(ctx, s)
		}
		return snap(ctx, s)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "./chronosnap.yaml", "capture settings file")
	flags.StringVar(&storageDir, "dir", "./chronosnap", "storage directory")
	flags.StringVar(&name, "name", "snap", "sequence to write the frame to")
	flags.IntVar(&index, "index", 0, "frame index")
	flags.StringVar(&selector, "camera", "", "camera selector, overrides the settings file")
	flags.BoolVar(&listControls, "list-controls", false, "print the current camera controls and exit")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "camera and capture timeout")
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func snap(ctx context.Context, s config.Settings) error {
	stg, err := storage.New(storageDir)
	if err != nil {
		return err
	}
	cam := camera.Open(s.Camera, s.CameraOptions())
	defer cam.Release()

	if err = cam.Acquire(ctx); err != nil {
		return err
	}
	if s.Autofocus {
		if err = cam.Focus(ctx); err != nil {
			return err
		}
	}
	frame, err := cam.CaptureFrame(ctx)
	if err != nil {
		return err
	}
	p, err := stg.WriteFrame(name, index, frame)
	if err != nil {
		return err
	}
	logger.Infof("saved %s (%d bytes)", p, len(frame))

	return nil
}

func printControls(ctx context.Context, s config.Settings) error {
	dev := camera.NewV4L2(camera.DevicePath(s.Camera), s.CameraOptions())
	if err := dev.Open(ctx); err != nil {
		return err
	}
	defer dev.Close()

	settings, err := dev.KnownSettings()
	if err != nil {
		return err
	}
	res := make([]ov.Control, 0, len(settings))
	for id, v := range settings {
		res = append(res, ov.Control{ID: id, Value: v, Name: camera.ControlName(id)})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	return nil
}
