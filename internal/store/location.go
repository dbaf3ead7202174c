package store

import (
	"math"
	"sync"
	"time"

	"github.com/haasonsaas/proximo/internal/geo"
	"github.com/haasonsaas/proximo/pkg/models"
)

// TrackingState is the location tracking lifecycle as shown to the user.
type TrackingState string

const (
	TrackingOff       TrackingState = "not_tracking"
	TrackingAcquiring TrackingState = "acquiring"
	TrackingActive    TrackingState = "tracking"
	TrackingError     TrackingState = "error"
)

// LocationSnapshot is a copy of the location store state.
type LocationSnapshot struct {
	Location     *models.Location
	UpdatedAt    time.Time
	NearbyUsers  []models.NearbyUser
	Reencounters []models.Reencounter
	Tracking     TrackingState
	Error        string
	// Acquired is true once any location was stored since the last Reset.
	Acquired bool
}

// Banner returns the error to surface persistently: only while no location
// has ever been acquired.
func (s LocationSnapshot) Banner() string {
	if s.Acquired {
		return ""
	}
	return s.Error
}

// LocationStore holds the device location and the nearby users around it.
type LocationStore struct {
	mu        sync.Mutex
	location  *models.Location
	updatedAt time.Time
	nearby    []models.NearbyUser
	reencs    []models.Reencounter
	tracking  TrackingState
	err       string
	acquired  bool

	subs listeners[LocationSnapshot]
}

// NewLocationStore returns an empty store.
func NewLocationStore() *LocationStore {
	return &LocationStore{tracking: TrackingOff}
}

// Snapshot returns a copy of the current state.
func (s *LocationStore) Snapshot() LocationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *LocationStore) snapshotLocked() LocationSnapshot {
	snap := LocationSnapshot{
		UpdatedAt:    s.updatedAt,
		NearbyUsers:  append([]models.NearbyUser{}, s.nearby...),
		Reencounters: append([]models.Reencounter{}, s.reencs...),
		Tracking:     s.tracking,
		Error:        s.err,
		Acquired:     s.acquired,
	}
	if s.location != nil {
		loc := *s.location
		snap.Location = &loc
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *LocationStore) Subscribe(fn func(LocationSnapshot)) (unsubscribe func()) {
	return s.subs.add(fn)
}

func (s *LocationStore) changed() {
	s.subs.notify(s.Snapshot)
}

// SetLocation stores a sample taken at the given time. Samples older than the
// current one and invalid coordinates are ignored. A stored sample clears the
// error message.
func (s *LocationStore) SetLocation(loc models.Location, at time.Time) bool {
	if loc.Validate() != nil {
		return false
	}
	s.mu.Lock()
	if s.location != nil && at.Before(s.updatedAt) {
		s.mu.Unlock()
		return false
	}
	s.location = &loc
	s.updatedAt = at
	s.acquired = true
	s.err = ""
	s.mu.Unlock()

	s.changed()
	return true
}

// SetNearbyUsers replaces the nearby list wholesale. Bearings are normalized
// and negative or non-finite distances clamped to zero.
func (s *LocationStore) SetNearbyUsers(users []models.NearbyUser) {
	next := make([]models.NearbyUser, 0, len(users))
	for _, u := range users {
		if u.UserID == "" {
			continue
		}
		u.Bearing = geo.NormalizeBearing(u.Bearing)
		if math.IsNaN(u.Distance) || math.IsInf(u.Distance, 0) || u.Distance < 0 {
			u.Distance = 0
		}
		next = append(next, u)
	}

	s.mu.Lock()
	s.nearby = next
	s.mu.Unlock()
	s.changed()
}

// NearbyUser looks up a user in the current nearby list.
func (s *LocationStore) NearbyUser(userID string) (models.NearbyUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.nearby {
		if u.UserID == userID {
			return u, true
		}
	}
	return models.NearbyUser{}, false
}

// SetReencounters replaces the reencounter list.
func (s *LocationStore) SetReencounters(list []models.Reencounter) {
	s.mu.Lock()
	s.reencs = append([]models.Reencounter{}, list...)
	s.mu.Unlock()
	s.changed()
}

// SetTracking records the tracking state.
func (s *LocationStore) SetTracking(state TrackingState) {
	s.mu.Lock()
	if s.tracking == state {
		s.mu.Unlock()
		return
	}
	s.tracking = state
	s.mu.Unlock()
	s.changed()
}

// SetError records the user-facing location error. An empty message clears it.
func (s *LocationStore) SetError(msg string) {
	s.mu.Lock()
	if s.err == msg {
		s.mu.Unlock()
		return
	}
	s.err = msg
	s.mu.Unlock()
	s.changed()
}

// Reset clears everything, as on logout.
func (s *LocationStore) Reset() {
	s.mu.Lock()
	s.location = nil
	s.updatedAt = time.Time{}
	s.nearby = nil
	s.reencs = nil
	s.tracking = TrackingOff
	s.err = ""
	s.acquired = false
	s.mu.Unlock()
	s.changed()
}
