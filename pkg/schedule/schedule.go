package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"chronosnap-pi/pkg/utils"
)

// Scheduler arms one-shot wake-ups at absolute times.
type Scheduler struct {
	clock  Clock
	logger *zap.SugaredLogger
}

// Handle is an armed wake-up. It fires at most once.
type Handle struct {
	at time.Time

	lock     sync.Mutex
	timer    Timer
	canceled bool
}

func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = Real()
	}
	return &Scheduler{
		clock:  clock,
		logger: utils.GetLogger(),
	}
}

func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Arm schedules fire to run once at or after at. fire receives the time it
// actually ran. A trigger time in the past fires as soon as possible.
func (s *Scheduler) Arm(at time.Time, fire func(firedAt time.Time)) *Handle {
	h := &Handle{at: at}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), func() { s.fire(h, fire) })

	return h
}

func (s *Scheduler) fire(h *Handle, fire func(time.Time)) {
	h.lock.Lock()
	if h.canceled {
		h.lock.Unlock()
		return
	}
	now := s.clock.Now()
	if now.Before(h.at) {
		// woken early, e.g. the wall clock was set back
		s.logger.Debugf("scheduler: woke %s early, re-arming", h.at.Sub(now))
		h.timer = s.clock.AfterFunc(h.at.Sub(now), func() { s.fire(h, fire) })
		h.lock.Unlock()
		return
	}
	h.canceled = true
	h.lock.Unlock()

	fire(now)
}

// Cancel stops h. It is safe to call more than once and with a nil handle.
// A fire that already started may still be delivered; callers must tolerate it.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil {
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.canceled = true
	if h.timer != nil {
		h.timer.Stop()
	}
}

func (h *Handle) At() time.Time {
	return h.at
}
