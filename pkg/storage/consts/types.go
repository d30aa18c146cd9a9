package consts

const (
	DefaultVideosDir = "videos"
	DefaultInfoFile  = "info.json"

	DefaultImageExt = ".jpg"
	DefaultVideoExt = ".avi"

	DefaultFilePerm = 0660
	DefaultDirPerm  = 0750

	// IndexWidth is the zero-padded width of frame file names.
	IndexWidth = 4
)
