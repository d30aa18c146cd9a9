package utils

import (
	"time"

	"github.com/beevik/ntp"
	"github.com/pkg/errors"
)

// MaxClockOffset is the local clock drift tolerated before CheckClock warns.
const MaxClockOffset = 2 * time.Second

// CheckClock compares the local clock with an NTP server. A Pi without an RTC
// may boot with a stale clock, which would stamp frames and runs wrongly.
func CheckClock(server string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: 5 * time.Second})
	if err != nil {
		return 0, errors.Wrapf(err, "query ntp server %s", server)
	}
	if err = resp.Validate(); err != nil {
		return 0, errors.Wrapf(err, "invalid ntp response from %s", server)
	}
	offset := resp.ClockOffset
	if offset > MaxClockOffset || offset < -MaxClockOffset {
		logger.Warnf("local clock is off by %s according to %s", offset, server)
	} else {
		logger.Debugf("local clock offset %s", offset)
	}

	return offset, nil
}
