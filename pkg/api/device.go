package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"chronosnap-pi/pkg/ov"
	"chronosnap-pi/pkg/utils/ps"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"
)

func (s *Server) deviceStatus(c *gin.Context) {
	st, err := ps.Collect(s.stg.Dir())
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(st))
}

func (s *Server) webdavStatus(c *gin.Context) {
	if s.dav == nil {
		notFound(c, "webdav is disabled")
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ov.Webdav{Running: s.dav.Running(), Port: s.dav.Port()}))
}

func (s *Server) ctlWebdav(c *gin.Context) {
	if s.dav == nil {
		notFound(c, "webdav is disabled")
		return
	}
	switch op := c.Query("op"); op {
	case webDavStart:
		if s.dav.Start() {
			s.logger.Infof("webdav started on :%d", s.dav.Port())
		}
	case webDavShutdown:
		if s.dav.Stop() {
			s.logger.Info("webdav shutdown")
		}
	default:
		badRequest(c, fmt.Sprintf("unknown operation %q", op))
		return
	}

	s.webdavStatus(c)
}
