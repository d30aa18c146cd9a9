package camera

import (
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"chronosnap-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// V4L2 camera class controls, see linux/v4l2-controls.h.
const (
	CtrlExposureAuto     v4l2.CtrlID = 0x009a0901
	CtrlExposureAbsolute v4l2.CtrlID = 0x009a0902
	CtrlFocusAuto        v4l2.CtrlID = 0x009a090c
	CtrlWhiteBalanceAuto v4l2.CtrlID = 0x009a0914
	CtrlISOAuto          v4l2.CtrlID = 0x009a0918
	CtrlAutoFocusStart   v4l2.CtrlID = 0x009a091c
	CtrlAutoFocusStop    v4l2.CtrlID = 0x009a091d
	CtrlAutoFocusStatus  v4l2.CtrlID = 0x009a091e
	CtrlJPEGQuality      v4l2.CtrlID = 0x009d0903

	AutoFocusStatusBusy    v4l2.CtrlValue = 1
	AutoFocusStatusReached v4l2.CtrlValue = 2
	AutoFocusStatusFailed  v4l2.CtrlValue = 4
)

var knownCtrlID = []v4l2.CtrlID{
	CtrlExposureAuto,
	CtrlExposureAbsolute,
	CtrlFocusAuto,
	CtrlWhiteBalanceAuto,
	CtrlISOAuto,
	CtrlJPEGQuality,
}

var ctrlNames = map[v4l2.CtrlID]string{
	CtrlExposureAuto:     "exposure_auto",
	CtrlExposureAbsolute: "exposure_absolute",
	CtrlFocusAuto:        "focus_auto",
	CtrlWhiteBalanceAuto: "white_balance_auto",
	CtrlISOAuto:          "iso_auto",
	CtrlJPEGQuality:      "jpeg_quality",
}

func ControlName(id v4l2.CtrlID) string {
	if name, ok := ctrlNames[id]; ok {
		return name
	}
	return "unknown"
}
