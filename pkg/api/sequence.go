package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/vincent-vinf/go-jsend"

	"chronosnap-pi/pkg/ov"
	"chronosnap-pi/pkg/storage"
	"chronosnap-pi/pkg/storage/sequence"
	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/video"
)

func (s *Server) status(c *gin.Context) {
	snap, err := s.ctl.Status(c.Request.Context())
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(snap))
}

func (s *Server) start(c *gin.Context) {
	var req ov.StartSequence
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	err := s.ctl.Start(c.Request.Context(), req.Name)
	switch {
	case errors.Is(err, types.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, jsend.SimpleErr("a sequence is already running"))
		return
	case errors.Is(err, storage.ErrInvalidName):
		badRequest(c, err.Error())
		return
	case err != nil:
		internalErr(c, err)
		return
	}
	s.status(c)
}

// stop succeeds when nothing is running; a second stop is not an error.
func (s *Server) stop(c *gin.Context) {
	if err := s.ctl.Stop(c.Request.Context()); err != nil && !errors.Is(err, types.ErrNotRunning) {
		internalErr(c, err)
		return
	}
	s.status(c)
}

func (s *Server) listSequences(c *gin.Context) {
	seqs, err := s.stg.ListSequences()
	if err != nil {
		internalErr(c, err)
		return
	}
	snap := s.current()
	res := make([]ov.Sequence, 0, len(seqs))
	for _, seq := range seqs {
		res = append(res, s.describe(seq, snap))
	}

	c.JSON(http.StatusOK, jsend.Success(res))
}

func (s *Server) getSequence(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}
	snap := s.current()

	c.JSON(http.StatusOK, jsend.Success(s.describe(seq, snap)))
}

func (s *Server) deleteSequence(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}
	snap := s.current()
	if snap.Running && snap.SequenceID == seq.Name {
		c.JSON(http.StatusConflict, jsend.SimpleErr("sequence is running"))
		return
	}
	if err := s.stg.DeleteSequence(seq.Name); err != nil {
		internalErr(c, err)
		return
	}
	if s.cat != nil {
		if err := s.cat.DeleteSequence(c.Request.Context(), seq.Name); err != nil {
			internalErr(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("delete sequence %s success", seq.Name)))
}

func (s *Server) listImages(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}
	files, err := seq.ListImages()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) latestImage(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}
	image, err := seq.LatestImageName()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(image))
}

func (s *Server) getImage(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}
	p := seq.GetImagePath(c.Param("image"))
	if p == "" {
		badRequest(c, "invalid image name")
		return
	}

	c.File(p)
}

func (s *Server) listFrames(c *gin.Context) {
	if s.cat == nil {
		notFound(c, "catalog is disabled")
		return
	}
	frames, err := s.cat.Frames(c.Request.Context(), c.Param("name"))
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(frames))
}

func (s *Server) listRuns(c *gin.Context) {
	if s.cat == nil {
		notFound(c, "catalog is disabled")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := s.cat.Runs(c.Request.Context(), limit)
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(runs))
}

func (s *Server) exportVideo(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}
	fps := video.DefaultFPS
	if q := c.Query("fps"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			badRequest(c, fmt.Sprintf("invalid fps %q", q))
			return
		}
		fps = v
	}
	p, n, err := video.Export(seq, fps)
	if errors.Is(err, video.ErrNoFrames) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ov.Video{Path: p, Frames: n}))
}

func (s *Server) getVideo(c *gin.Context) {
	seq, ok := s.lookup(c)
	if !ok {
		return
	}

	p := seq.VideoPath()
	if _, err := os.Stat(p); err != nil {
		notFound(c, "video has not been exported")
		return
	}

	c.FileAttachment(p, path.Base(p))
}

// current is the last published snapshot. Unlike Status it does not
// publish, so listing sequences causes no events.
func (s *Server) current() types.Snapshot {
	if s.hub == nil {
		return types.Snapshot{}
	}
	snap, _ := s.hub.Last()
	return snap
}

// lookup writes the error response itself when it returns false.
func (s *Server) lookup(c *gin.Context) (*sequence.Sequence, bool) {
	seq, err := s.stg.GetSequence(c.Param("name"))
	if errors.Is(err, storage.ErrInvalidName) {
		badRequest(c, err.Error())
		return nil, false
	}
	if err != nil {
		internalErr(c, err)
		return nil, false
	}
	if seq == nil {
		notFound(c, "sequence not found")
		return nil, false
	}

	return seq, true
}

func (s *Server) describe(seq *sequence.Sequence, snap types.Snapshot) ov.Sequence {
	res := ov.Sequence{
		Name:    seq.Name,
		Running: snap.Running && snap.SequenceID == seq.Name,
	}
	info, err := seq.Info()
	if err != nil {
		s.logger.Warnf("read info of %s: %s", seq.Name, err)
	} else {
		res.Info = info
	}

	return res
}
