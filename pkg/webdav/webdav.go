package webdav

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/webdav"

	"chronosnap-pi/pkg/utils"
)

// Webdav shares the storage root read-write over WebDAV on demand.
type Webdav struct {
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	port   int
	dir    string
}

func New(ctx context.Context, port int, dir string) *Webdav {
	return &Webdav{
		ctx:  ctx,
		port: port,
		dir:  dir,
	}
}

// Start serves the directory. It reports false if the server was already running.
func (w *Webdav) Start() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return false
	}
	newCtx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	Serve(newCtx, w.port, w.dir)

	return true
}

// Stop shuts the server down. It reports false if it was not running.
func (w *Webdav) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	w.cancel = nil

	return true
}

func (w *Webdav) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

func (w *Webdav) Port() int {
	return w.port
}

func Handler(dir string) http.Handler {
	logger := utils.GetLogger()

	return &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
}

func Serve(ctx context.Context, port int, dir string) {
	logger := utils.GetLogger()
	svr := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Handler(dir),
	}

	go func() {
		if err := svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()
}
