package capture

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosnap-pi/pkg/config"
	"chronosnap-pi/pkg/schedule"
	"chronosnap-pi/pkg/storage"
	"chronosnap-pi/pkg/types"
)

const interval = 10 * time.Second

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeCamera struct {
	lock sync.Mutex

	acquires int
	releases int
	captures int
	open     bool

	inFlight    int
	maxInFlight int

	acquireErr    error
	focusFailures int
	captureErrs   map[int]error

	// when set, CaptureFrame blocks until it is closed
	gate    chan struct{}
	entered chan int
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{entered: make(chan int, 16)}
}

func (c *fakeCamera) Acquire(context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.acquireErr != nil {
		return c.acquireErr
	}
	if !c.open {
		c.acquires++
		c.open = true
	}
	return nil
}

func (c *fakeCamera) Focus(context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.focusFailures > 0 {
		c.focusFailures--
		return types.NewCaptureError(types.ErrFocusFailed, errors.New("unable to focus"))
	}
	return nil
}

func (c *fakeCamera) CaptureFrame(context.Context) ([]byte, error) {
	c.lock.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	n := c.captures
	gate := c.gate
	c.lock.Unlock()

	c.entered <- n
	if gate != nil {
		<-gate
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.inFlight--
	c.captures++
	if err := c.captureErrs[n]; err != nil {
		return nil, err
	}
	return []byte{0xff, 0xd8, byte(n)}, nil
}

func (c *fakeCamera) Release() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.open {
		c.releases++
		c.open = false
	}
	return nil
}

func (c *fakeCamera) stats() (acquires, releases, captures, maxInFlight int, open bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.acquires, c.releases, c.captures, c.maxInFlight, c.open
}

type recorder struct {
	snaps chan Snapshot
	errs  chan string
}

func newRecorder() *recorder {
	return &recorder{snaps: make(chan Snapshot, 128), errs: make(chan string, 16)}
}

func (r *recorder) PublishStatus(s Snapshot) { r.snaps <- s }

func (r *recorder) NotifyError(_, message string) { r.errs <- message }

func (r *recorder) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-r.snaps:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no status snapshot")
		return Snapshot{}
	}
}

func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.snaps:
		t.Fatalf("unexpected snapshot %+v", s)
	case m := <-r.errs:
		t.Fatalf("unexpected error notification %q", m)
	case <-time.After(100 * time.Millisecond):
	}
}

type failingWriter struct{}

func (failingWriter) WriteFrame(string, int, []byte) (string, error) {
	return "", errors.New("no space left on device")
}

type brokenSettings struct{}

func (brokenSettings) Load() (config.Settings, error) {
	return config.Settings{}, errors.New("read config file: permission denied")
}

type harness struct {
	o      *Orchestrator
	clock  *schedule.FakeClock
	cam    *fakeCamera
	rec    *recorder
	dir    string
	cancel context.CancelFunc
}

func newHarness(t *testing.T, settings config.Settings, modify ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock: schedule.NewFakeClock(epoch),
		cam:   newFakeCamera(),
		rec:   newRecorder(),
		dir:   t.TempDir(),
	}
	store, err := storage.New(h.dir)
	require.NoError(t, err)
	if settings.Interval == 0 {
		settings.Interval = interval
	}
	opts := Options{
		Clock:    h.clock,
		Camera:   func(config.Settings) Camera { return h.cam },
		Writer:   store,
		Settings: config.Static(settings),
		Status:   h.rec,
		Errors:   h.rec,
	}
	for _, m := range modify {
		m(&opts)
	}
	h.o = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.o.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.o.Done()
	})

	return h
}

func (h *harness) start(t *testing.T, id string) Snapshot {
	t.Helper()
	require.NoError(t, h.o.Start(context.Background(), id))
	s := h.rec.next(t)
	require.True(t, s.Running)
	require.Equal(t, 0, s.ImagesCaptured)
	return s
}

// fire advances to the armed tick and consumes the snapshot of the capture
// going in flight.
func (h *harness) fire(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	s := h.rec.next(t)
	require.True(t, s.Running)
	require.Equal(t, "capturing", s.State)
}

// tick runs one tick and returns the snapshot published when it completed.
func (h *harness) tick(t *testing.T) Snapshot {
	t.Helper()
	h.fire(t, interval)
	return h.rec.next(t)
}

func (h *harness) frames(t *testing.T, id string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.dir, id))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var res []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jpg" {
			res = append(res, e.Name())
		}
	}
	return res
}

func TestLimitStopsAfterLastFrame(t *testing.T) {
	h := newHarness(t, config.Settings{Limit: 3})

	s := h.start(t, "garden")
	assert.Equal(t, 3, s.ImagesRemaining)
	assert.Equal(t, "active", s.State)
	require.NotNil(t, s.StartTime)
	assert.Equal(t, epoch, *s.StartTime)

	for i := 1; i <= 2; i++ {
		s = h.tick(t)
		assert.True(t, s.Running)
		assert.Equal(t, i, s.ImagesCaptured)
		assert.Equal(t, 3-i, s.ImagesRemaining)
	}
	s = h.tick(t)
	assert.False(t, s.Running)
	assert.Equal(t, "idle", s.State)
	assert.Nil(t, s.StartTime)
	assert.Equal(t, 3, s.ImagesCaptured)
	assert.Equal(t, 0, s.ImagesRemaining)

	assert.Equal(t, []string{"0000.jpg", "0001.jpg", "0002.jpg"}, h.frames(t, "garden"))
	assert.Empty(t, h.clock.Pending(), "no fourth tick may be scheduled")

	h.clock.Advance(10 * interval)
	h.rec.quiet(t)
	_, _, captures, _, open := h.cam.stats()
	assert.Equal(t, 3, captures)
	assert.False(t, open)
}

func TestUnlimitedRunReportsNoRemaining(t *testing.T) {
	h := newHarness(t, config.Settings{})

	s := h.start(t, "sky")
	assert.Equal(t, 0, s.ImagesRemaining)
	for i := 1; i <= 5; i++ {
		s = h.tick(t)
		assert.Equal(t, i, s.ImagesCaptured)
		assert.Equal(t, 0, s.ImagesRemaining)
	}

	require.NoError(t, h.o.Stop(context.Background()))
	s = h.rec.next(t)
	assert.False(t, s.Running)
	assert.Equal(t, 5, s.ImagesCaptured)
	assert.Equal(t, 0, s.ImagesRemaining)
	assert.Len(t, h.frames(t, "sky"), 5)
	assert.Empty(t, h.clock.Pending())
}

func TestCaptureFailureEndsSequence(t *testing.T) {
	h := newHarness(t, config.Settings{})
	h.cam.captureErrs = map[int]error{1: errors.New("capture stream closed")}

	h.start(t, "tomato")
	s := h.tick(t)
	assert.Equal(t, 1, s.ImagesCaptured)

	s = h.tick(t)
	assert.False(t, s.Running)
	assert.Equal(t, 1, s.ImagesCaptured)

	select {
	case msg := <-h.rec.errs:
		assert.Contains(t, msg, "resource unavailable")
		assert.Contains(t, msg, "capture stream closed")
	case <-time.After(2 * time.Second):
		t.Fatal("no error notification")
	}
	assert.Equal(t, []string{"0000.jpg"}, h.frames(t, "tomato"))
	assert.Empty(t, h.clock.Pending())
	h.rec.quiet(t)

	_, _, _, _, open := h.cam.stats()
	assert.False(t, open)

	// ready for a new sequence
	h.cam.captureErrs = nil
	h.start(t, "tomato-2")
}

func TestAcquireFailure(t *testing.T) {
	h := newHarness(t, config.Settings{})
	h.cam.acquireErr = types.NewCaptureError(types.ErrResourceUnavailable, errors.New("device or resource busy"))

	h.start(t, "busy")
	s := h.tick(t)
	assert.False(t, s.Running)
	assert.Contains(t, <-h.rec.errs, "device or resource busy")
	assert.Empty(t, h.frames(t, "busy"))
}

func TestFocusFailureIsNotRetriedByDefault(t *testing.T) {
	h := newHarness(t, config.Settings{Autofocus: true})
	h.cam.focusFailures = 1

	h.start(t, "blurry")
	s := h.tick(t)
	assert.False(t, s.Running)
	assert.Contains(t, <-h.rec.errs, "focus failed")
	assert.Empty(t, h.frames(t, "blurry"))
}

func TestFocusRetries(t *testing.T) {
	h := newHarness(t, config.Settings{Autofocus: true, FocusRetries: 2, Limit: 1})
	h.cam.focusFailures = 2

	h.start(t, "patient")
	s := h.tick(t)
	assert.False(t, s.Running)
	assert.Equal(t, 1, s.ImagesCaptured)
	assert.Equal(t, []string{"0000.jpg"}, h.frames(t, "patient"))
	h.rec.quiet(t)
}

func TestWriteFailure(t *testing.T) {
	h := newHarness(t, config.Settings{}, func(o *Options) { o.Writer = failingWriter{} })

	h.start(t, "full")
	s := h.tick(t)
	assert.False(t, s.Running)
	assert.Equal(t, 0, s.ImagesCaptured)
	msg := <-h.rec.errs
	assert.Contains(t, msg, "write failed")
	assert.Contains(t, msg, "no space left on device")
}

func TestStopDuringCaptureIsDeferred(t *testing.T) {
	h := newHarness(t, config.Settings{})
	h.cam.gate = make(chan struct{})
	ctx := context.Background()

	h.start(t, "latched")
	h.fire(t, interval)
	<-h.cam.entered

	require.NoError(t, h.o.Stop(ctx))
	require.NoError(t, h.o.Stop(ctx))
	s, err := h.o.Status(ctx)
	require.NoError(t, err)
	assert.True(t, s.Running)
	assert.Equal(t, "capturing", s.State)
	assert.Equal(t, s, h.rec.next(t))

	close(h.cam.gate)
	s = h.rec.next(t)
	assert.False(t, s.Running)
	assert.Equal(t, 1, s.ImagesCaptured)
	assert.Equal(t, []string{"0000.jpg"}, h.frames(t, "latched"))
	assert.Empty(t, h.clock.Pending())

	assert.True(t, errors.Is(h.o.Stop(ctx), types.ErrNotRunning))
	h.rec.quiet(t)
}

func TestStopTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, config.Settings{Limit: 10})
	ctx := context.Background()

	h.start(t, "twice")
	h.tick(t)
	require.NoError(t, h.o.Stop(ctx))
	first := h.rec.next(t)
	assert.False(t, first.Running)

	assert.True(t, errors.Is(h.o.Stop(ctx), types.ErrNotRunning))
	h.rec.quiet(t)

	s, err := h.o.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, s)
	acquires, releases, _, _, open := h.cam.stats()
	assert.Equal(t, acquires, releases)
	assert.False(t, open)
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t, config.Settings{})
	assert.True(t, errors.Is(h.o.Stop(context.Background()), types.ErrNotRunning))
	h.rec.quiet(t)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	h := newHarness(t, config.Settings{})
	ctx := context.Background()

	h.start(t, "first")
	err := h.o.Start(ctx, "second")
	assert.True(t, errors.Is(err, types.ErrAlreadyRunning))
	h.rec.quiet(t)

	s, err := h.o.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", s.SequenceID)
	assert.Equal(t, epoch, *s.StartTime)
	assert.Len(t, h.clock.Pending(), 1)
}

func TestStartRejectsBadInput(t *testing.T) {
	h := newHarness(t, config.Settings{})
	ctx := context.Background()

	assert.True(t, errors.Is(h.o.Start(ctx, "../etc"), storage.ErrInvalidName))

	h2 := newHarness(t, config.Settings{}, func(o *Options) { o.Settings = brokenSettings{} })
	assert.Error(t, h2.o.Start(ctx, "seq"))

	h3 := newHarness(t, config.Settings{}, func(o *Options) { o.Settings = config.Static{Interval: -time.Second} })
	assert.Error(t, h3.o.Start(ctx, "seq"))

	for _, x := range []*harness{h, h2, h3} {
		x.rec.quiet(t)
		s, err := x.o.Status(ctx)
		require.NoError(t, err)
		assert.False(t, s.Running)
	}
}

func TestSingleFlight(t *testing.T) {
	h := newHarness(t, config.Settings{Limit: 3})
	h.cam.gate = make(chan struct{})

	h.start(t, "overlap")
	h.fire(t, interval)
	<-h.cam.entered

	// many intervals pass while the first capture hangs
	h.clock.Advance(10 * interval)
	assert.Empty(t, h.clock.Pending())

	close(h.cam.gate)
	s := h.rec.next(t)
	assert.Equal(t, 1, s.ImagesCaptured)
	// the next tick was due long ago and fires at once
	s = h.rec.next(t)
	assert.Equal(t, "capturing", s.State)
	s = h.rec.next(t)
	assert.True(t, s.Running)
	assert.Equal(t, 2, s.ImagesCaptured)
	// paced from the late tick, not from the missed deadlines
	assert.Equal(t, []time.Time{epoch.Add(12 * interval)}, h.clock.Pending())

	s = h.tick(t)
	assert.False(t, s.Running)
	assert.Equal(t, 3, s.ImagesCaptured)
	_, _, captures, maxInFlight, _ := h.cam.stats()
	assert.Equal(t, 3, captures)
	assert.Equal(t, 1, maxInFlight)
}

func TestRescheduleIsPacedFromPreviousTick(t *testing.T) {
	h := newHarness(t, config.Settings{})
	h.cam.gate = make(chan struct{})

	h.start(t, "paced")
	assert.Equal(t, []time.Time{epoch.Add(interval)}, h.clock.Pending())

	h.fire(t, interval)
	<-h.cam.entered
	h.clock.Advance(interval / 2)
	close(h.cam.gate)
	h.rec.next(t)

	assert.Equal(t, []time.Time{epoch.Add(2 * interval)}, h.clock.Pending())
}

func TestCameraReuse(t *testing.T) {
	h := newHarness(t, config.Settings{Limit: 3})
	h.start(t, "cold")
	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	acquires, releases, _, _, _ := h.cam.stats()
	assert.Equal(t, 3, acquires)
	assert.Equal(t, 3, releases)

	h = newHarness(t, config.Settings{Limit: 3, KeepCameraOpen: true})
	h.start(t, "warm")
	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	acquires, releases, _, _, open := h.cam.stats()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
	assert.False(t, open)
}

func TestStrayTimerIsIgnored(t *testing.T) {
	h := newHarness(t, config.Settings{})
	h.o.post(timerFired{gen: 42, firedAt: epoch})
	h.rec.quiet(t)

	h.start(t, "stray")
	h.o.post(timerFired{gen: 42, firedAt: epoch})
	s, err := h.o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", s.State)
	_, _, captures, _, _ := h.cam.stats()
	assert.Equal(t, 0, captures)
}

func TestRunCancellationDrainsCapture(t *testing.T) {
	h := newHarness(t, config.Settings{})
	h.cam.gate = make(chan struct{})

	h.start(t, "drain")
	h.fire(t, interval)
	<-h.cam.entered
	h.cancel()

	select {
	case <-h.o.Done():
		t.Fatal("Run returned with a capture in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.cam.gate)
	s := h.rec.next(t)
	assert.False(t, s.Running)
	assert.Equal(t, 1, s.ImagesCaptured)
	select {
	case <-h.o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	_, _, _, _, open := h.cam.stats()
	assert.False(t, open)
	assert.Equal(t, []string{"0000.jpg"}, h.frames(t, "drain"))
	assert.True(t, errors.Is(h.o.Start(context.Background(), "late"), ErrClosed))
}

func TestCaptureInFlightIsPublished(t *testing.T) {
	h := newHarness(t, config.Settings{Limit: 1})
	h.cam.gate = make(chan struct{})

	h.start(t, "visible")
	h.clock.Advance(interval)
	s := h.rec.next(t)
	assert.True(t, s.Running)
	assert.Equal(t, "capturing", s.State)
	assert.Equal(t, 0, s.ImagesCaptured)
	<-h.cam.entered
	h.rec.quiet(t)

	close(h.cam.gate)
	s = h.rec.next(t)
	assert.Equal(t, "idle", s.State)
	assert.Equal(t, 1, s.ImagesCaptured)
}
