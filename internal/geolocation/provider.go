// Package geolocation samples the device position from a Provider and merges
// the one-shot read, the continuous watch and the periodic poll into a single
// stream of samples.
package geolocation

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/haasonsaas/proximo/pkg/models"
)

// Default sampling timings.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 5 * time.Second
)

// Position is a location reading with the time it was taken.
type Position struct {
	models.Location
	Timestamp time.Time
}

// Options controls how positions are requested.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaxAge is the oldest cached reading a provider may return. Zero forces a fresh read.
	MaxAge       time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultOptions returns high-accuracy options with the standard timings.
func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		PollTimeout:  DefaultPollTimeout,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = def.PollTimeout
	}
	if o.MaxAge < 0 {
		o.MaxAge = 0
	}
	return o
}

// Provider is the device location API.
type Provider interface {
	// CurrentPosition performs one read bounded by ctx.
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
	// Watch delivers readings to fn until stop is called or ctx is done.
	Watch(ctx context.Context, opts Options, fn func(Position, error)) (stop func(), err error)
}

// tickerWatch calls read on every tick and forwards the result.
func tickerWatch(ctx context.Context, interval time.Duration, read func(context.Context) (Position, error), fn func(Position, error)) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pos, err := read(ctx)
				if ctx.Err() != nil {
					return
				}
				fn(pos, err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

// StaticProvider reports a fixed point, optionally with random jitter.
type StaticProvider struct {
	Location models.Location
	// JitterMeters displaces each reading by up to this many meters.
	JitterMeters float64
	// WatchInterval is the watch cadence. Defaults to one second.
	WatchInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewStaticProvider returns a provider fixed at loc.
func NewStaticProvider(loc models.Location) *StaticProvider {
	return &StaticProvider{Location: loc}
}

func (p *StaticProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *StaticProvider) CurrentPosition(ctx context.Context, _ Options) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, Classify(err)
	}
	loc := p.Location
	if p.JitterMeters > 0 {
		loc = offset(loc, (rand.Float64()*2-1)*p.JitterMeters, (rand.Float64()*2-1)*p.JitterMeters) // #nosec G404 -- simulation only
	}
	return Position{Location: loc, Timestamp: p.now()}, nil
}

func (p *StaticProvider) Watch(ctx context.Context, opts Options, fn func(Position, error)) (func(), error) {
	interval := p.WatchInterval
	if interval <= 0 {
		interval = time.Second
	}
	read := func(ctx context.Context) (Position, error) { return p.CurrentPosition(ctx, opts) }
	return tickerWatch(ctx, interval, read, fn), nil
}

const metersPerDegreeLat = 111_320.0

// offset moves loc by the given meters north and east.
func offset(loc models.Location, north, east float64) models.Location {
	loc.Latitude += north / metersPerDegreeLat
	cos := math.Cos(loc.Latitude * math.Pi / 180)
	if cos > 1e-9 {
		loc.Longitude += east / (metersPerDegreeLat * cos)
	}
	loc.Latitude = math.Max(-90, math.Min(90, loc.Latitude))
	return loc
}
