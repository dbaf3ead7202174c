package geo

import (
	"fmt"
	"math"

	"github.com/haasonsaas/proximo/pkg/models"
)

// ProximityRadiusMeters is the distance beyond which a peer is not discoverable.
const ProximityRadiusMeters = 50.0

// Default radar layout.
const (
	DefaultRadarSizePx    = 300.0
	DefaultRadarPaddingPx = 30.0
)

// Point is a position in radar pixel space, origin at the top-left corner.
type Point struct {
	X float64
	Y float64
}

// ProjectToRadar places a peer on a radar of the given radius. The radar box
// is 2*radiusPx wide with its center at (radiusPx, radiusPx); bearing 0 points
// up. Distances beyond maxDistanceMeters are clamped to the ring edge.
func ProjectToRadar(distance, bearing, radiusPx, maxDistanceMeters float64) Point {
	radiusPx = finiteNonNegative(radiusPx)
	return project(distance, bearing, radiusPx, radiusPx, maxDistanceMeters)
}

func project(distance, bearing, center, radiusPx, maxDistanceMeters float64) Point {
	r := radialOffset(distance, radiusPx, maxDistanceMeters)
	theta := (NormalizeBearing(bearing) - 90) * math.Pi / 180
	return Point{
		X: center + r*math.Cos(theta),
		Y: center + r*math.Sin(theta),
	}
}

func radialOffset(distance, radiusPx, maxDistanceMeters float64) float64 {
	if math.IsNaN(maxDistanceMeters) || maxDistanceMeters <= 0 || radiusPx == 0 {
		return 0
	}
	if math.IsNaN(distance) || distance <= 0 {
		return 0
	}
	if math.IsInf(maxDistanceMeters, 1) {
		return 0
	}
	if distance > maxDistanceMeters {
		distance = maxDistanceMeters
	}
	return distance / maxDistanceMeters * radiusPx
}

func finiteNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Radar describes a square radar view with the user at the center.
type Radar struct {
	SizePx            float64
	PaddingPx         float64
	MaxDistanceMeters float64
}

// DefaultRadar returns the standard 300px, 50m radar.
func DefaultRadar() Radar {
	return Radar{
		SizePx:            DefaultRadarSizePx,
		PaddingPx:         DefaultRadarPaddingPx,
		MaxDistanceMeters: ProximityRadiusMeters,
	}
}

// Center returns the pixel coordinate of the radar center on both axes.
func (r Radar) Center() float64 {
	return finiteNonNegative(r.SizePx) / 2
}

// RadiusPx returns the plotting radius, leaving room for avatars at the edge.
func (r Radar) RadiusPx() float64 {
	radius := r.Center() - finiteNonNegative(r.PaddingPx)
	if radius < 0 {
		return 0
	}
	return radius
}

// Project places a distance/bearing pair on this radar.
func (r Radar) Project(distance, bearing float64) Point {
	return project(distance, bearing, r.Center(), r.RadiusPx(), r.MaxDistanceMeters)
}

// Blip is a nearby user placed on the radar.
type Blip struct {
	UserID   string
	Name     string
	Initial  string
	Position Point
	Distance float64
	Label    string
	Arrow    string
}

// Plot projects every user. Users beyond the radius stay on the ring edge.
func (r Radar) Plot(users []models.NearbyUser) []Blip {
	blips := make([]Blip, 0, len(users))
	for _, u := range users {
		blips = append(blips, Blip{
			UserID:   u.UserID,
			Name:     u.Name,
			Initial:  models.Initial(u.Name),
			Position: r.Project(u.Distance, u.Bearing),
			Distance: u.Distance,
			Label:    CompassLabel(u.Bearing),
			Arrow:    ArrowGlyph(u.Bearing),
		})
	}
	return blips
}

// RingLabels returns the distance legend for the three inner rings and the edge.
func (r Radar) RingLabels() []string {
	maxDist := finiteNonNegative(r.MaxDistanceMeters)
	return []string{
		"0m",
		fmt.Sprintf("~%.0fm", maxDist/3),
		fmt.Sprintf("~%.0fm", 2*maxDist/3),
		fmt.Sprintf("%.0fm", maxDist),
	}
}

// FormatDistance renders a distance the way list entries show it, e.g. "12m ↗".
func FormatDistance(distance, bearing float64) string {
	return fmt.Sprintf("%.0fm %s", finiteNonNegative(distance), ArrowGlyph(bearing))
}
