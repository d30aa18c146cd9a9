package util

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"chronosnap-pi/pkg/storage/consts"
)

func MkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, consts.DefaultDirPerm)
		if err != nil {
			return err
		}
	}

	return nil
}

// WriteFileAtomic writes data to a temporary file next to name and renames
// it into place, so readers see either nothing or the whole file.
func WriteFileAtomic(name string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(name)
	f, err := os.CreateTemp(dir, "."+base+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err = f.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err = f.Chmod(perm); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmp, name); err != nil {
		return errors.Wrap(err, "rename temp file")
	}

	return nil
}
