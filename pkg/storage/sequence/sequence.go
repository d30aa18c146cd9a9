package sequence

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"chronosnap-pi/pkg/storage/consts"
	"chronosnap-pi/pkg/storage/util"
	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
)

// Sequence is the on-disk container of one time-lapse run.
type Sequence struct {
	Name string `json:"name"`

	rootDir string
}

type ImagesInfo struct {
	MaxNumber   int    `json:"maxNumber"`
	LatestImage string `json:"latestImage"`

	UpdateAt time.Time `json:"updateAt"`
}

func New(rootDir, name string) *Sequence {
	return &Sequence{
		Name:    name,
		rootDir: path.Join(rootDir, name),
	}
}

func (s *Sequence) Dir() string {
	return s.rootDir
}

func (s *Sequence) Exists() bool {
	info, err := os.Stat(s.rootDir)
	return err == nil && info.IsDir()
}

// ImageName is the file name of frame index, e.g. 7 -> "0007.jpg".
func ImageName(index int) string {
	return fmt.Sprintf("%0*d%s", consts.IndexWidth, index, consts.DefaultImageExt)
}

// SaveImage durably writes frame index and returns its path. The sequence
// directory is created on first use.
func (s *Sequence) SaveImage(index int, image []byte) (string, error) {
	if err := util.MkdirAll(s.rootDir); err != nil {
		return "", errors.Wrapf(err, "create sequence dir %s", s.rootDir)
	}
	name := ImageName(index)
	p := s.GetImagePath(name)
	if err := util.WriteFileAtomic(p, image, consts.DefaultFilePerm); err != nil {
		return "", errors.Wrapf(err, "write image %s", p)
	}

	// the frame is durable at this point; a stale info file must not lose it
	if err := s.updateImageInfo(index, name); err != nil {
		utils.GetLogger().Warnf("update image info of %s: %s", s.Name, err)
	}

	return p, nil
}

func (s *Sequence) updateImageInfo(index int, name string) error {
	info, err := s.loadImageInfo()
	if err != nil {
		return err
	}
	if index+1 > info.MaxNumber {
		info.MaxNumber = index + 1
	}
	info.LatestImage = name

	return s.dumpImageInfo(info)
}

func (s *Sequence) LatestImageName() (string, error) {
	info, err := s.loadImageInfo()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

func (s *Sequence) Info() (*ImagesInfo, error) {
	return s.loadImageInfo()
}

// ListImages returns the frames of the sequence in index order.
func (s *Sequence) ListImages() ([]types.File, error) {
	files, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, err
	}
	res := make([]types.File, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !isImage(file.Name()) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			return nil, err
		}
		res = append(res, types.File{
			Name:    file.Name(),
			Size:    humanize.Bytes(uint64(info.Size())),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })

	return res, nil
}

// ImagePaths returns the paths of every frame in index order.
func (s *Sequence) ImagePaths() ([]string, error) {
	files, err := s.ListImages()
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(files))
	for _, f := range files {
		res = append(res, s.GetImagePath(f.Name))
	}

	return res, nil
}

// GetImagePath resolves an image name inside the sequence. Names that
// would escape the sequence directory are rejected with an empty path.
func (s *Sequence) GetImagePath(name string) string {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return ""
	}
	return path.Join(s.rootDir, name)
}

func (s *Sequence) VideoPath() string {
	return path.Join(s.rootDir, consts.DefaultVideosDir, s.Name+consts.DefaultVideoExt)
}

func (s *Sequence) Clear() error {
	return os.RemoveAll(s.rootDir)
}

func (s *Sequence) loadImageInfo() (*ImagesInfo, error) {
	info := &ImagesInfo{}
	data, err := os.ReadFile(s.getImageInfoPath())
	if os.IsNotExist(err) {
		return info, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read image info")
	}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, errors.Wrap(err, "unmarshal image info")
	}

	return info, nil
}

func (s *Sequence) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return util.WriteFileAtomic(s.getImageInfoPath(), data, consts.DefaultFilePerm)
}

func (s *Sequence) getImageInfoPath() string {
	return path.Join(s.rootDir, consts.DefaultInfoFile)
}

func isImage(name string) bool {
	return strings.HasSuffix(name, consts.DefaultImageExt) && !strings.HasPrefix(name, ".")
}
