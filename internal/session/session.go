// Package session runs the realtime session of one selected device: the
// snapshot load, the push channel, the detail poller and outgoing commands.
//
// Every mutation of the telemetry store happens on a single goroutine that
// drains one bounded queue of events. Push messages, completed snapshot loads
// and detail polls are all tagged with the scope (device id and selection
// generation) they were started under; events from an older scope are
// discarded on arrival.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fleetwatch/internal/auth"
	"fleetwatch/internal/bus"
	"fleetwatch/internal/commands"
	"fleetwatch/internal/ingest"
	"fleetwatch/internal/models"
	"fleetwatch/internal/telemetry"
	"fleetwatch/internal/workers"
)

const (
	DefaultRefreshGrace = 1500 * time.Millisecond
	defaultQueueSize    = 256
)

// ViewMode selects which background work runs for the selected device.
type ViewMode string

const (
	ModeOverview ViewMode = "overview"
	ModeDetailed ViewMode = "detailed"
)

var (
	ErrMissingDevice = commands.ErrMissingDevice
	ErrClosed        = errors.New("session closed")
	ErrNotStarted    = errors.New("session not started")
	ErrUnknownView   = errors.New("unknown view")
)

type Config struct {
	RetryDelay         time.Duration
	DetailPollInterval time.Duration
	RefreshGrace       time.Duration
	Limits             telemetry.Limits
	QueueSize          int
}

// Status is what viewers of the session read.
type Status struct {
	telemetry.View
	Mode    ViewMode `json:"view"`
	Dropped int64    `json:"droppedEvents"`
}

type scope struct {
	deviceID string
	gen      uint64
}

type eventKind int

const (
	eventPush eventKind = iota
	eventSnapshot
	eventDetails
)

type event struct {
	scope    scope
	kind     eventKind
	msg      bus.Message
	snapshot ingest.Snapshot
	details  []models.DetailSnapshot
	err      error
}

type Session struct {
	cfg       Config
	source    ingest.Source
	transport bus.Transport
	tokens    auth.TokenProvider
	notify    ingest.Notifier

	store      *telemetry.Store
	dispatcher *commands.Dispatcher
	reconciler *ingest.Reconciler
	poller     *workers.DetailPoller

	queue   chan event
	ctrl    chan func()
	cancel  context.CancelFunc
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	dropped   atomic.Int64
	stale     atomic.Int64
	mode      atomic.Value

	// Owned by the loop goroutine.
	ctx   context.Context
	scope scope
	conn  *Connection
}

// New builds an idle session. notify may be nil; when set it must be safe for
// concurrent use and must not block.
func New(cfg Config, source ingest.Source, transport bus.Transport, tokens auth.TokenProvider, notify ingest.Notifier) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DetailPollInterval <= 0 {
		cfg.DetailPollInterval = workers.DefaultDetailPollInterval
	}
	if cfg.RefreshGrace <= 0 {
		cfg.RefreshGrace = DefaultRefreshGrace
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if notify == nil {
		notify = func(models.SessionUpdate) {}
	}

	s := &Session{
		cfg:       cfg,
		source:    source,
		transport: transport,
		tokens:    tokens,
		notify:    notify,
		store:     telemetry.NewStore(cfg.Limits),
		queue:     make(chan event, cfg.QueueSize),
		ctrl:      make(chan func()),
		stopped:   make(chan struct{}),
	}
	s.dispatcher = commands.NewDispatcher(transport.Codec())
	s.reconciler = ingest.NewReconciler(s.store, transport.Codec(), s.dispatcher, notify)
	s.poller = workers.NewDetailPoller(cfg.DetailPollInterval, source.ListMetricDetails)
	s.store.SetState(bus.Disconnected)
	s.mode.Store(ModeOverview)
	return s
}

// Start runs the session loop until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.ctx = ctx
		s.cancel = cancel
		s.started.Store(true)
		go s.loop(ctx)
	})
}

// Close tears down the connection and poller and waits for the loop to exit.
// After Close returns the store is no longer mutated.
func (s *Session) Close() {
	if !s.started.Load() {
		return
	}
	s.closeOnce.Do(s.cancel)
	<-s.stopped
}

// SelectDevice switches the session to deviceID. The previous device's
// connection and poller are released before anything is started for the new
// one. An empty id clears the session and sets the error slot.
func (s *Session) SelectDevice(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if err := s.do(func() { s.selectDevice(deviceID) }); err != nil {
		return err
	}
	if deviceID == "" {
		return ErrMissingDevice
	}
	return nil
}

// SetView starts the detail poller for ModeDetailed and stops it otherwise.
func (s *Session) SetView(mode ViewMode) error {
	if mode != ModeOverview && mode != ModeDetailed {
		return ErrUnknownView
	}
	return s.do(func() {
		if s.mode.Load().(ViewMode) == mode {
			return
		}
		s.mode.Store(mode)
		if mode == ModeDetailed && s.scope.deviceID != "" {
			s.startPoller()
			return
		}
		s.poller.Stop()
	})
}

// SendCommand publishes a command to the selected device and returns its
// correlation id. Failures are also written to the error slot.
func (s *Session) SendCommand(kind models.CommandKind, payload string) (string, error) {
	var (
		pub      commands.Publisher
		deviceID string
	)
	if err := s.do(func() {
		deviceID = s.scope.deviceID
		if s.conn != nil {
			pub = s.conn
		}
	}); err != nil {
		return "", err
	}

	id, err := s.dispatcher.Send(pub, deviceID, kind, payload)
	if err != nil {
		msg := commandError(err)
		_ = s.do(func() { s.reconciler.Fail(msg) })
		return "", err
	}
	return id, nil
}

// Refresh reloads the snapshot. In detailed mode it first asks the agent to
// collect fresh details and waits the grace period, whether or not the request
// went out. The grace period is a guess; the agent may not have reported by the
// time the reload runs.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if s.mode.Load().(ViewMode) == ModeDetailed {
		if _, err := s.SendCommand(models.CommandCollectDetails, ""); err != nil {
			log.Printf("WARN Refresh could not request fresh details: %v", err)
		}
		timer := time.NewTimer(s.cfg.RefreshGrace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var missing bool
	if err := s.do(func() {
		if s.scope.deviceID == "" {
			missing = true
			s.reconciler.Fail(missingDeviceMessage)
			return
		}
		s.loadSnapshot()
	}); err != nil {
		return err
	}
	if missing {
		return ErrMissingDevice
	}
	return nil
}

func (s *Session) View() Status {
	return Status{
		View:    s.store.View(),
		Mode:    s.mode.Load().(ViewMode),
		Dropped: s.dropped.Load(),
	}
}

// LatestDetail returns the newest detail snapshot. found is false when
// there is none; payload is nil when its JSON does not decode.
func (s *Session) LatestDetail() (snap models.DetailSnapshot, payload *models.DetailPayload, found bool) {
	view := s.store.View()
	if len(view.Details) == 0 {
		return models.DetailSnapshot{}, nil, false
	}
	payload, _ = view.Details[0].Decode()
	return view.Details[0], payload, true
}

// Dropped counts push events discarded because the queue was full.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Session) do(fn func()) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	done := make(chan struct{})
	select {
	case s.ctrl <- func() { fn(); close(done) }:
	case <-s.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.stopped)
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.ctrl:
			fn()
		case ev := <-s.queue:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev event) {
	if ev.scope != s.scope {
		s.stale.Add(1)
		if ev.kind == eventSnapshot {
			log.Printf("INFO Discarding stale snapshot for device %s", ev.scope.deviceID)
		}
		return
	}

	switch ev.kind {
	case eventPush:
		s.reconciler.ApplyPush(ev.msg)
	case eventSnapshot:
		s.reconciler.ApplySnapshot(ev.snapshot, ev.err)
	case eventDetails:
		s.reconciler.ApplyDetailPoll(ev.details, ev.err)
	}
}

func (s *Session) teardown() {
	s.poller.Stop()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) selectDevice(deviceID string) {
	s.teardown()
	s.scope = scope{deviceID: deviceID, gen: s.scope.gen + 1}
	s.store.Reset(deviceID)

	if deviceID == "" {
		s.reconciler.Fail(missingDeviceMessage)
		return
	}
	log.Printf("INFO Session switched to device %s", deviceID)

	current := s.scope
	s.conn = Open(s.ctx, ConnectionConfig{
		DeviceID:   deviceID,
		Transport:  s.transport,
		Tokens:     s.tokens,
		RetryDelay: s.cfg.RetryDelay,
		Deliver: func(msg bus.Message) {
			s.enqueuePush(current, msg)
		},
		OnState: func(state bus.State) {
			s.store.SetState(state)
			s.notify(models.SessionUpdate{Kind: models.UpdateState, DeviceID: deviceID, State: string(state)})
		},
	})

	s.loadSnapshot()
	if s.mode.Load().(ViewMode) == ModeDetailed {
		s.startPoller()
	}
}

func (s *Session) loadSnapshot() {
	current := s.scope
	s.store.ClearError()
	s.store.SetLoading(true)

	go func() {
		snap, err := ingest.LoadSnapshot(s.ctx, s.source, current.deviceID)
		s.post(s.ctx, event{scope: current, kind: eventSnapshot, snapshot: snap, err: err})
	}()
}

func (s *Session) startPoller() {
	current := s.scope
	s.poller.Start(current.deviceID, func(ctx context.Context, details []models.DetailSnapshot, err error) {
		s.post(ctx, event{scope: current, kind: eventDetails, details: details, err: err})
	})
}

// post blocks until the loop has room or ctx ends. Used for results of work
// the session started itself.
func (s *Session) post(ctx context.Context, ev event) {
	select {
	case s.queue <- ev:
	case <-ctx.Done():
	}
}

// enqueuePush never blocks the transport; a full queue drops the event.
func (s *Session) enqueuePush(sc scope, msg bus.Message) {
	select {
	case s.queue <- event{scope: sc, kind: eventPush, msg: msg}:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			log.Printf("WARN Session queue full, dropped %d push events so far", n)
		}
	}
}

const (
	missingDeviceMessage = "Missing device id."
	notConnectedMessage  = "Push channel not connected."
)

func commandError(err error) string {
	switch {
	case errors.Is(err, commands.ErrMissingDevice):
		return missingDeviceMessage
	case errors.Is(err, bus.ErrNotConnected):
		return notConnectedMessage
	default:
		return err.Error()
	}
}
