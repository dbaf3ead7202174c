// Package tracking streams the device location to the location channel and
// keeps the location store in sync with what the server pushes back.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/proximo/internal/geolocation"
	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/internal/store"
	"github.com/haasonsaas/proximo/pkg/models"
)

// Channel events.
const (
	EventUpdateLocation = "updateLocation"
	EventNearbyUsers    = "nearbyUsers"
	EventReencounters   = "reencounters"
	EventUserNearby     = "userNearby"
)

const fallbackTimeout = 10 * time.Second

// LocationAPI is the REST surface used while the location channel is down.
type LocationAPI interface {
	UpdateLocation(ctx context.Context, loc models.Location) error
	NearbyUsers(ctx context.Context) ([]models.NearbyUser, error)
}

// SampleRecorder counts samples. *observability.Metrics satisfies it.
type SampleRecorder interface {
	LocationSample(source string, ok bool)
}

// Options configures an Orchestrator.
type Options struct {
	Sampling geolocation.Options
	// Fallback schedules the REST fallback. Nil disables it.
	Fallback cron.Schedule
	Logger   *slog.Logger
	Metrics  SampleRecorder
}

// Orchestrator runs location tracking for one session.
type Orchestrator struct {
	channels *realtime.Manager
	sampler  *geolocation.Sampler
	store    *store.LocationStore
	api      LocationAPI
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	run     *trackingRun
	nextID  int
	nearbyF map[int]func(models.UserNearbyEvent)
}

type trackingRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *realtime.Conn
	offs   []func()
	cron   *cron.Cron
	done   chan struct{}

	mu          sync.Mutex
	established bool
	last        *models.Location
}

// New creates an orchestrator. api may be nil to disable the REST fallback.
func New(channels *realtime.Manager, sampler *geolocation.Sampler, locations *store.LocationStore, api LocationAPI, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		channels: channels,
		sampler:  sampler,
		store:    locations,
		api:      api,
		opts:     opts,
		logger:   logger.With("component", "tracking"),
		nearbyF:  make(map[int]func(models.UserNearbyEvent)),
	}
}

// State returns the current tracking state.
func (o *Orchestrator) State() store.TrackingState {
	return o.store.Snapshot().Tracking
}

// Running reports whether Start has been called without a matching Stop.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run != nil
}

// OnUserNearby registers fn for userNearby notifications.
func (o *Orchestrator) OnUserNearby(fn func(models.UserNearbyEvent)) (off func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.nearbyF[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.nearbyF, id)
		o.mu.Unlock()
	}
}

// Start connects the location channel and begins sampling. Calling it while
// running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != nil {
		return nil
	}

	conn, err := o.channels.Connect(realtime.Location)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &trackingRun{ctx: runCtx, cancel: cancel, conn: conn, done: make(chan struct{})}
	r.offs = append(r.offs,
		conn.On(EventNearbyUsers, o.handleNearbyUsers),
		conn.On(EventReencounters, o.handleReencounters),
		conn.On(EventUserNearby, o.handleUserNearby),
		conn.OnStateChange(func(s realtime.State) {
			if s == realtime.StateConnected {
				o.resend(r)
			}
		}),
	)

	o.store.SetError("")
	o.store.SetTracking(store.TrackingAcquiring)

	samples, err := o.sampler.Start(runCtx, o.opts.Sampling)
	if err != nil {
		o.store.SetError(geolocation.UserMessage(err))
		o.store.SetTracking(store.TrackingError)
		o.teardown(r)
		return err
	}

	if o.opts.Fallback != nil && o.api != nil {
		r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		r.cron.Schedule(o.opts.Fallback, cron.FuncJob(func() { o.fallback(r) }))
		r.cron.Start()
	}

	o.run = r
	go o.consume(r, samples)
	o.logger.Info("location tracking started")
	return nil
}

// Stop ends tracking and returns the state to not tracking. It is idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	r := o.run
	o.run = nil
	o.mu.Unlock()
	if r == nil {
		return
	}

	o.sampler.Stop()
	o.teardown(r)
	<-r.done
	o.store.SetTracking(store.TrackingOff)
	o.logger.Info("location tracking stopped")
}

func (o *Orchestrator) teardown(r *trackingRun) {
	r.cancel()
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	for _, off := range r.offs {
		off()
	}
	o.channels.Disconnect(realtime.Location)
}

func (o *Orchestrator) consume(r *trackingRun, samples <-chan geolocation.Sample) {
	defer close(r.done)
	for s := range samples {
		o.handleSample(r, s)
	}
}

func (o *Orchestrator) handleSample(r *trackingRun, s geolocation.Sample) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.LocationSample(string(s.Source), s.Err == nil)
	}

	if s.Err != nil {
		o.store.SetError(geolocation.UserMessage(s.Err))
		r.mu.Lock()
		established := r.established
		r.mu.Unlock()
		if established {
			o.store.SetTracking(store.TrackingError)
		}
		o.logger.Debug("location sample failed", "source", s.Source, "error", s.Err)
		return
	}

	at := s.Position.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	loc := s.Position.Location
	if !o.store.SetLocation(loc, at) {
		return
	}

	r.mu.Lock()
	r.established = true
	r.last = &loc
	r.mu.Unlock()
	o.store.SetTracking(store.TrackingActive)
	o.emit(r, loc)
}

func (o *Orchestrator) emit(r *trackingRun, loc models.Location) {
	err := r.conn.Emit(EventUpdateLocation, loc)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrNotConnected):
		// Sent again on reconnect.
	default:
		o.logger.Debug("updateLocation not sent", "error", err)
	}
}

// resend pushes the last position after the channel (re)connects.
func (o *Orchestrator) resend(r *trackingRun) {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last != nil {
		o.emit(r, *last)
	}
}

// fallback reports the position over REST while the channel is down.
func (o *Orchestrator) fallback(r *trackingRun) {
	if r.conn.State() == realtime.StateConnected {
		return
	}
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, fallbackTimeout)
	defer cancel()
	if err := o.api.UpdateLocation(ctx, *last); err != nil {
		o.logger.Debug("fallback location update failed", "error", err)
		return
	}
	users, err := o.api.NearbyUsers(ctx)
	if err != nil {
		o.logger.Debug("fallback nearby lookup failed", "error", err)
		return
	}
	o.store.SetNearbyUsers(users)
}

func (o *Orchestrator) handleNearbyUsers(payload json.RawMessage) {
	var users []models.NearbyUser
	if err := json.Unmarshal(payload, &users); err != nil {
		o.logger.Warn("invalid nearbyUsers payload", "error", err)
		return
	}
	o.store.SetNearbyUsers(users)
}

func (o *Orchestrator) handleReencounters(payload json.RawMessage) {
	var list []models.Reencounter
	if err := json.Unmarshal(payload, &list); err != nil {
		o.logger.Warn("invalid reencounters payload", "error", err)
		return
	}
	o.store.SetReencounters(list)
}

func (o *Orchestrator) handleUserNearby(payload json.RawMessage) {
	var ev models.UserNearbyEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		o.logger.Warn("invalid userNearby payload", "error", err)
		return
	}
	o.mu.Lock()
	fns := make([]func(models.UserNearbyEvent), 0, len(o.nearbyF))
	for _, fn := range o.nearbyF {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
