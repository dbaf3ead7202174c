// Package geo turns distance/bearing samples into compass labels, arrow glyphs
// and radar coordinates. Every function is total over float64 input.
package geo

import "math"

// SectorDegrees is the width of one compass sector.
const SectorDegrees = 45.0

// compassLabels are indexed by sector, clockwise from north.
var compassLabels = [8]string{
	"ao Norte",
	"ao Nordeste",
	"ao Leste",
	"ao Sudeste",
	"ao Sul",
	"ao Sudoeste",
	"ao Oeste",
	"ao Noroeste",
}

var arrowGlyphs = [8]string{"↑", "↗", "→", "↘", "↓", "↙", "←", "↖"}

// NormalizeBearing maps any bearing into [0, 360). NaN and infinities map to 0.
func NormalizeBearing(bearing float64) float64 {
	if math.IsNaN(bearing) || math.IsInf(bearing, 0) {
		return 0
	}
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	// -1e-15 + 360 rounds to 360 in float64.
	if b >= 360 {
		b = 0
	}
	return b
}

// Sector returns the compass sector index in [0, 8), 0 being north.
// Sectors are 45° wide and centered on the eight points, so north spans
// [337.5, 360) ∪ [0, 22.5).
func Sector(bearing float64) int {
	b := NormalizeBearing(bearing)
	return int(math.Floor((b+SectorDegrees/2)/SectorDegrees)) % 8
}

// CompassLabel returns the pt-BR direction label for a bearing.
func CompassLabel(bearing float64) string {
	return compassLabels[Sector(bearing)]
}

// ArrowGlyph returns the arrow pointing toward a bearing.
func ArrowGlyph(bearing float64) string {
	b := NormalizeBearing(bearing)
	return arrowGlyphs[int(math.Round(b/SectorDegrees))%8]
}

// CompassLabels returns the eight labels in sector order.
func CompassLabels() []string {
	out := make([]string, len(compassLabels))
	copy(out, compassLabels[:])
	return out
}
