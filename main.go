package main

import (
	"context"
	"os"
	"path"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chronosnap-pi/pkg/api"
	"chronosnap-pi/pkg/camera"
	"chronosnap-pi/pkg/capture"
	"chronosnap-pi/pkg/catalog"
	"chronosnap-pi/pkg/config"
	"chronosnap-pi/pkg/notify"
	"chronosnap-pi/pkg/storage"
	"chronosnap-pi/pkg/utils"
	"chronosnap-pi/pkg/webdav"
)

var (
	port       int
	webdavPort int
	storageDir string
	configFile string
	dbFile     string
	ntpServer  string
	logLevel   string

	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:          "chronosnap-pi",
	Short:        "Time-lapse capture controller",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.SetLevel(logLevel); err != nil {
			return err
		}
		ctx, cancel := utils.WatchSignal(cmd.Context())
		defer cancel()
		return run(ctx)
	},
}

func init() {
	logger = utils.GetLogger()

	flags := rootCmd.Flags()
	flags.IntVar(&port, "port", 9999, "api port")
	flags.IntVar(&webdavPort, "webdav-port", 9998, "webdav port")
	flags.StringVar(&storageDir, "dir", "./chronosnap", "storage directory")
	flags.StringVar(&configFile, "config", "./chronosnap.yaml", "capture settings file, re-read at every start")
	flags.StringVar(&dbFile, "db", "", "catalog database, defaults to <dir>/catalog.db")
	flags.StringVar(&ntpServer, "ntp-server", "", "check the clock against this ntp server at startup")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if ntpServer != "" {
		if _, err := utils.CheckClock(ntpServer); err != nil {
			logger.Warnf("clock check against %s failed: %s", ntpServer, err)
		}
	}

	if dbFile == "" {
		dbFile = path.Join(storageDir, "catalog.db")
	}
	if err := os.MkdirAll(path.Dir(dbFile), 0o750); err != nil {
		return err
	}
	cat, err := catalog.Open(ctx, dbFile)
	if err != nil {
		return err
	}
	defer cat.Close()

	stg, err := storage.New(storageDir, cat)
	if err != nil {
		return err
	}
	defer stg.Close()

	hub := notify.NewHub(16)
	sinks := notify.Fanout{
		Statuses: []notify.StatusSink{hub, notify.NewLog(), cat},
		Errors:   []notify.ErrorSink{hub, notify.NewLog(), cat},
	}
	orc := capture.New(capture.Options{
		Camera: func(s config.Settings) capture.Camera {
			return camera.Open(s.Camera, s.CameraOptions())
		},
		Writer:   stg,
		Settings: config.File{Path: configFile},
		Status:   sinks,
		Errors:   sinks,
	})

	dav := webdav.New(ctx, webdavPort, storageDir)
	defer dav.Stop()

	srv := api.New(api.Options{
		Controller: orc,
		Storage:    stg,
		Catalog:    cat,
		Hub:        hub,
		Webdav:     dav,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orc.Run(ctx)
	})
	g.Go(func() error {
		logger.Infof("api listening on :%d", port)
		return utils.ListenAndServe(ctx, srv.Handler(), port)
	})

	return g.Wait()
}
