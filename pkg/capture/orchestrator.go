package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chronosnap-pi/pkg/config"
	"chronosnap-pi/pkg/schedule"
	"chronosnap-pi/pkg/storage"
	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
)

type Snapshot = types.Snapshot

var ErrClosed = errors.New("orchestrator is closed")

// Camera is the exclusive camera resource used by the capture pipeline.
type Camera interface {
	Acquire(ctx context.Context) error
	Focus(ctx context.Context) error
	CaptureFrame(ctx context.Context) ([]byte, error)
	Release() error
}

// CameraOpener builds an unacquired Camera for the settings of a new sequence.
type CameraOpener func(settings config.Settings) Camera

type FrameWriter interface {
	WriteFrame(sequenceID string, index int, frame []byte) (string, error)
}

type SettingsProvider interface {
	Load() (config.Settings, error)
}

// StatusSink receives a Snapshot after every state change and on every
// status query. It is called from the event loop and must not block.
type StatusSink interface {
	PublishStatus(Snapshot)
}

// ErrorSink receives a human readable description of a failed capture.
type ErrorSink interface {
	NotifyError(sequenceID, message string)
}

type Options struct {
	Clock    schedule.Clock
	Camera   CameraOpener
	Writer   FrameWriter
	Settings SettingsProvider
	Status   StatusSink
	Errors   ErrorSink
	Logger   *zap.SugaredLogger
}

// Orchestrator runs one time-lapse sequence at a time. All state changes
// happen on the goroutine executing Run; timers and the capture pipeline
// report back through the event queue.
type Orchestrator struct {
	scheduler  *schedule.Scheduler
	openCamera CameraOpener
	writer     FrameWriter
	settings   SettingsProvider
	status     StatusSink
	notifier   ErrorSink
	logger     *zap.SugaredLogger

	events chan event
	done   chan struct{}

	seq     sequenceState
	run     *run
	epoch   uint64
	gen     uint64
	closing bool
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		scheduler:  schedule.New(opts.Clock),
		openCamera: opts.Camera,
		writer:     opts.Writer,
		settings:   opts.Settings,
		status:     opts.Status,
		notifier:   opts.Errors,
		logger:     opts.Logger,
		events:     make(chan event),
		done:       make(chan struct{}),
	}
	if o.status == nil {
		o.status = nopSink{}
	}
	if o.notifier == nil {
		o.notifier = nopSink{}
	}
	if o.logger == nil {
		o.logger = utils.GetLogger()
	}

	return o
}

// Run processes events until ctx is done. On cancellation a running
// sequence is stopped: an in-flight capture is allowed to finish and the
// camera is released before Run returns. Run must be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	o.logger.Info("orchestrator: started")
	for {
		select {
		case ev := <-o.events:
			o.handle(ev)
		case <-ctx.Done():
			o.close()
			o.logger.Info("orchestrator: stopped")
			return nil
		}
	}
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Start begins sequenceID. It fails with types.ErrAlreadyRunning, without
// any state change, if a sequence is running.
func (o *Orchestrator) Start(ctx context.Context, sequenceID string) error {
	reply := make(chan error, 1)
	if err := o.send(ctx, startEvent{sequenceID: sequenceID, reply: reply}); err != nil {
		return err
	}
	return o.await(ctx, reply)
}

// Stop ends the running sequence, or asks it to end after the capture in
// flight. It returns types.ErrNotRunning when idle; callers may ignore it.
func (o *Orchestrator) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := o.send(ctx, stopEvent{reply: reply}); err != nil {
		return err
	}
	return o.await(ctx, reply)
}

// Status returns the current snapshot and publishes it to the status sink.
func (o *Orchestrator) Status(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := o.send(ctx, statusEvent{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (o *Orchestrator) send(ctx context.Context, ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an internal event; it is dropped once Run has returned.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev := ev.(type) {
	case startEvent:
		ev.reply <- o.start(ev.sequenceID)
	case stopEvent:
		ev.reply <- o.stop()
	case statusEvent:
		s := o.snapshot()
		o.status.PublishStatus(s)
		ev.reply <- s
	case timerFired:
		o.onTimer(ev)
	case captureDone:
		o.onCaptureDone(ev)
	default:
		o.logger.Warnf("orchestrator: unknown event %T", ev)
	}
}

func (o *Orchestrator) close() {
	o.closing = true
	if !o.seq.running() {
		return
	}
	_ = o.stop()
	for o.seq.running() {
		o.handle(<-o.events)
	}
}

func (o *Orchestrator) start(sequenceID string) error {
	if o.closing {
		return ErrClosed
	}
	if o.seq.running() {
		o.logger.Warnf("orchestrator: start %s rejected, %s is running", sequenceID, o.seq.sequenceID)
		return types.ErrAlreadyRunning
	}
	if err := storage.ValidateName(sequenceID); err != nil {
		return err
	}
	settings, err := o.settings.Load()
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	if err = settings.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}

	now := o.scheduler.Now()
	o.epoch++
	o.run = &run{
		epoch:    o.epoch,
		settings: settings,
		camera:   o.openCamera(settings),
	}
	o.seq = sequenceState{
		state:      Active,
		startTime:  &now,
		limit:      settings.Limit,
		interval:   settings.Interval,
		sequenceID: sequenceID,
	}
	o.logger.Infof("orchestrator: starting sequence %s, interval %s, limit %d, camera %s",
		sequenceID, settings.Interval, settings.Limit, settings.Camera)

	o.arm(now.Add(settings.Interval))
	o.publish()

	return nil
}

func (o *Orchestrator) stop() error {
	if !o.seq.running() {
		return types.ErrNotRunning
	}
	if o.seq.state == CaptureInFlight {
		if !o.seq.stopRequested {
			o.logger.Infof("orchestrator: stop of %s deferred until the capture in flight completes", o.seq.sequenceID)
		}
		o.seq.stopRequested = true
		return nil
	}
	o.logger.Infof("orchestrator: stopping sequence %s", o.seq.sequenceID)
	o.shutdown()

	return nil
}

func (o *Orchestrator) onTimer(ev timerFired) {
	if o.run == nil || o.seq.state != Active || ev.gen != o.run.armed {
		o.logger.Debugf("orchestrator: ignoring stray timer %d", ev.gen)
		return
	}
	o.run.armed = 0
	o.run.timer = nil
	o.run.tickAt = ev.firedAt
	o.seq.state = CaptureInFlight
	o.publish()
	o.launch()
}

// launch starts the capture pipeline for the next index on its own goroutine.
func (o *Orchestrator) launch() {
	var (
		epoch    = o.run.epoch
		cam      = o.run.camera
		settings = o.run.settings
		id       = o.seq.sequenceID
		index    = o.seq.nextIndex
	)
	o.logger.Debugf("orchestrator: capturing image #%d of %s", index, id)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settings.CaptureTimeout)
		defer cancel()
		path, err := o.pipeline(ctx, cam, settings, id, index)
		o.post(captureDone{epoch: epoch, index: index, path: path, err: err})
	}()
}

func (o *Orchestrator) onCaptureDone(ev captureDone) {
	if o.run == nil || ev.epoch != o.run.epoch || o.seq.state != CaptureInFlight {
		o.logger.Warnf("orchestrator: ignoring stray completion of image #%d", ev.index)
		return
	}
	o.seq.state = Active
	id := o.seq.sequenceID

	if ev.err != nil {
		o.logger.Errorf("orchestrator: image #%d of %s failed: %s", ev.index, id, ev.err)
		o.shutdown()
		o.notifier.NotifyError(id, ev.err.Error())
		return
	}

	o.seq.nextIndex++
	o.logger.Infof("orchestrator: image #%d of %s saved to %s, took %s",
		ev.index, id, ev.path, o.scheduler.Now().Sub(o.run.tickAt))

	if o.seq.stopRequested || (o.seq.limit != 0 && o.seq.nextIndex >= o.seq.limit) {
		o.shutdown()
		return
	}
	if !o.run.settings.KeepCameraOpen {
		o.releaseCamera()
	}
	// paced from the previous tick so slow captures do not accumulate drift
	o.arm(o.run.tickAt.Add(o.seq.interval))
	o.publish()
}

func (o *Orchestrator) arm(at time.Time) {
	o.gen++
	gen := o.gen
	o.run.armed = gen
	o.run.timer = o.scheduler.Arm(at, func(firedAt time.Time) {
		o.post(timerFired{gen: gen, firedAt: firedAt})
	})
}

// shutdown moves to Idle. It is never called while a capture is in flight.
func (o *Orchestrator) shutdown() {
	o.logger.Infof("orchestrator: shutting down sequence %s after %d images", o.seq.sequenceID, o.seq.nextIndex)
	o.scheduler.Cancel(o.run.timer)
	o.releaseCamera()
	o.run = nil
	o.seq.state = Idle
	o.seq.startTime = nil
	o.seq.stopRequested = false
	o.publish()
}

func (o *Orchestrator) releaseCamera() {
	if err := o.run.camera.Release(); err != nil {
		o.logger.Warnf("orchestrator: release camera: %s", err)
	}
}

func (o *Orchestrator) publish() {
	o.status.PublishStatus(o.snapshot())
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		Running:        o.seq.running(),
		State:          o.seq.state.String(),
		SequenceID:     o.seq.sequenceID,
		ImagesCaptured: o.seq.nextIndex,
	}
	if o.seq.startTime != nil {
		t := *o.seq.startTime
		s.StartTime = &t
	}
	if o.seq.limit != 0 {
		s.ImagesRemaining = o.seq.limit - o.seq.nextIndex
	}

	return s
}

type nopSink struct{}

func (nopSink) PublishStatus(Snapshot) {}
func (nopSink) NotifyError(string, string) {}
