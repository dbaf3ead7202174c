package geolocation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/proximo/pkg/models"
)

// Waypoint is one recorded reading of a track file.
type Waypoint struct {
	Latitude  float64  `yaml:"lat"`
	Longitude float64  `yaml:"lon"`
	Accuracy  float64  `yaml:"accuracy"`
	Heading   *float64 `yaml:"heading"`
}

// Track is the on-disk description of a replayed route.
type Track struct {
	Interval  time.Duration `yaml:"interval"`
	Loop      *bool         `yaml:"loop"`
	Waypoints []Waypoint    `yaml:"waypoints"`
}

// TrackProvider replays waypoints, one per read.
type TrackProvider struct {
	mu       sync.Mutex
	track    Track
	next     int
	interval time.Duration
	loop     bool
	now      func() time.Time
}

// LoadTrack reads a YAML track file.
func LoadTrack(path string) (*TrackProvider, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("read track: %w", err)
	}
	var track Track
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&track); err != nil {
		return nil, fmt.Errorf("parse track %s: %w", path, err)
	}
	return NewTrackProvider(track)
}

// NewTrackProvider validates track and returns a provider replaying it.
func NewTrackProvider(track Track) (*TrackProvider, error) {
	if len(track.Waypoints) == 0 {
		return nil, errors.New("track has no waypoints")
	}
	for i, wp := range track.Waypoints {
		loc := models.Location{Latitude: wp.Latitude, Longitude: wp.Longitude, Accuracy: wp.Accuracy}
		if err := loc.Validate(); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	interval := track.Interval
	if interval <= 0 {
		interval = time.Second
	}
	loop := true
	if track.Loop != nil {
		loop = *track.Loop
	}
	return &TrackProvider{track: track, interval: interval, loop: loop, now: time.Now}, nil
}

// Len returns the number of waypoints.
func (p *TrackProvider) Len() int {
	return len(p.track.Waypoints)
}

func (p *TrackProvider) advance() Waypoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	wp := p.track.Waypoints[p.next]
	switch {
	case p.next+1 < len(p.track.Waypoints):
		p.next++
	case p.loop:
		p.next = 0
	}
	return wp
}

func (p *TrackProvider) CurrentPosition(ctx context.Context, _ Options) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, Classify(err)
	}
	wp := p.advance()
	return Position{
		Location: models.Location{
			Latitude:  wp.Latitude,
			Longitude: wp.Longitude,
			Accuracy:  wp.Accuracy,
			Heading:   wp.Heading,
		},
		Timestamp: p.now(),
	}, nil
}

func (p *TrackProvider) Watch(ctx context.Context, opts Options, fn func(Position, error)) (func(), error) {
	read := func(ctx context.Context) (Position, error) { return p.CurrentPosition(ctx, opts) }
	return tickerWatch(ctx, p.interval, read, fn), nil
}
