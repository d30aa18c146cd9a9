package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"chronosnap-pi/pkg/catalog"
	"chronosnap-pi/pkg/notify"
	"chronosnap-pi/pkg/storage"
	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
	"chronosnap-pi/pkg/webdav"
)

// Controller is the command surface of the capture orchestrator.
type Controller interface {
	Start(ctx context.Context, sequenceID string) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (types.Snapshot, error)
}

type Options struct {
	Controller Controller
	Storage    *storage.Storage
	Catalog    *catalog.Catalog
	Hub        *notify.Hub
	Webdav     *webdav.Webdav
}

type Server struct {
	ctl    Controller
	stg    *storage.Storage
	cat    *catalog.Catalog
	hub    *notify.Hub
	dav    *webdav.Webdav
	logger *zap.SugaredLogger
}

func New(opts Options) *Server {
	return &Server{
		ctl:    opts.Controller,
		stg:    opts.Storage,
		cat:    opts.Catalog,
		hub:    opts.Hub,
		dav:    opts.Webdav,
		logger: utils.GetLogger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")

	seqRouter := apiRouter.Group("/sequence")
	seqRouter.GET("", s.status)
	seqRouter.POST("", s.start)
	seqRouter.DELETE("", s.stop)
	seqRouter.GET("/events", s.events)

	sequencesRouter := apiRouter.Group("/sequences")
	sequencesRouter.GET("", s.listSequences)
	sequencesRouter.GET("/:name", s.getSequence)
	sequencesRouter.DELETE("/:name", s.deleteSequence)
	sequencesRouter.GET("/:name/images", s.listImages)
	sequencesRouter.GET("/:name/images/latest", s.latestImage)
	sequencesRouter.GET("/:name/images/:image", s.getImage)
	sequencesRouter.GET("/:name/frames", s.listFrames)
	sequencesRouter.POST("/:name/video", s.exportVideo)
	sequencesRouter.GET("/:name/video", s.getVideo)

	apiRouter.GET("/runs", s.listRuns)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/status", s.deviceStatus)
	deviceRouter.GET("/webdav", s.webdavStatus)
	deviceRouter.PUT("/webdav", s.ctlWebdav)

	return r
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, jsend.SimpleErr(msg))
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, jsend.SimpleErr(msg))
}
