package storage

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chronosnap-pi/pkg/storage/sequence"
	"chronosnap-pi/pkg/storage/util"
	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
)

var ErrInvalidName = errors.New("invalid sequence name")

// Indexer is told about every frame once it is durably written.
type Indexer interface {
	IndexFrame(sequenceID string, index int, path string, size int64)
}

// Storage keeps one directory per sequence below its root.
type Storage struct {
	dir      string
	indexers []Indexer
	logger   *zap.SugaredLogger
}

func New(dir string, indexers ...Indexer) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("storage dir can not be empty")
	}
	if err := util.MkdirAll(dir); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", dir)
	}

	return &Storage{
		dir:      dir,
		indexers: indexers,
		logger:   utils.GetLogger(),
	}, nil
}

func (s *Storage) Dir() string {
	return s.dir
}

func (s *Storage) Close() error {
	return nil
}

// ValidateName reports whether name can be used as a sequence directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.Wrap(ErrInvalidName, "name can not be empty")
	case name == "." || name == "..":
		return errors.Wrapf(ErrInvalidName, "%q", name)
	case strings.ContainsAny(name, `/\`):
		return errors.Wrapf(ErrInvalidName, "%q contains a path separator", name)
	case strings.HasPrefix(name, "."):
		return errors.Wrapf(ErrInvalidName, "%q is hidden", name)
	}

	return nil
}

// WriteFrame persists frame index of sequenceID. Every failure is a
// types.ErrWriteFailed capture error.
func (s *Storage) WriteFrame(sequenceID string, index int, frame []byte) (string, error) {
	if err := ValidateName(sequenceID); err != nil {
		return "", types.NewCaptureError(types.ErrWriteFailed, err)
	}
	p, err := sequence.New(s.dir, sequenceID).SaveImage(index, frame)
	if err != nil {
		return "", types.NewCaptureError(types.ErrWriteFailed, err)
	}
	for _, ix := range s.indexers {
		ix.IndexFrame(sequenceID, index, p, int64(len(frame)))
	}

	return p, nil
}

// GetSequence returns the named sequence, or nil if it does not exist.
func (s *Storage) GetSequence(name string) (*sequence.Sequence, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	seq := sequence.New(s.dir, name)
	if !seq.Exists() {
		return nil, nil
	}

	return seq, nil
}

func (s *Storage) ListSequences() ([]*sequence.Sequence, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	res := make([]*sequence.Sequence, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		res = append(res, sequence.New(s.dir, e.Name()))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })

	return res, nil
}

func (s *Storage) DeleteSequence(name string) error {
	seq, err := s.GetSequence(name)
	if err != nil {
		return err
	}
	if seq == nil {
		return nil
	}
	s.logger.Infof("delete sequence %s", name)

	return seq.Clear()
}
