package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/haasonsaas/proximo/internal/geo"
	"github.com/haasonsaas/proximo/internal/store"
	"github.com/haasonsaas/proximo/pkg/models"
)

// gridCells is the side of the ASCII radar grid.
const gridCells = 21

// renderRadar writes the tracking status, an ASCII radar and the nearby list.
func renderRadar(w io.Writer, snap store.LocationSnapshot, radar geo.Radar) {
	fmt.Fprintf(w, "Tracking: %s\n", snap.Tracking)
	if snap.Location != nil {
		fmt.Fprintf(w, "Location: %.6f, %.6f (±%.0fm)\n", snap.Location.Latitude, snap.Location.Longitude, snap.Location.Accuracy)
	}
	if banner := snap.Banner(); banner != "" {
		fmt.Fprintf(w, "! %s\n", banner)
	}

	blips := radar.Plot(snap.NearbyUsers)
	for _, line := range radarGrid(radar, blips) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Rings: %s\n", strings.Join(radar.RingLabels(), " | "))

	if len(blips) == 0 {
		fmt.Fprintln(w, "Ninguém por perto")
		return
	}
	fmt.Fprintf(w, "%d por perto:\n", len(blips))
	for _, b := range blips {
		fmt.Fprintf(w, "  [%s] %-20s %-8s %s\n",
			b.Initial, nameOrUnknown(b.Name), geo.FormatDistance(b.Distance, bearingOf(snap.NearbyUsers, b.UserID)), b.Label)
	}
}

// radarGrid scales the radar's pixel space down to a character grid. The
// center is marked with "+" and each blip with its initial.
func radarGrid(radar geo.Radar, blips []geo.Blip) []string {
	grid := make([][]rune, gridCells)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", gridCells))
	}
	size := radar.Center() * 2
	cell := func(px float64) int {
		if size <= 0 {
			return gridCells / 2
		}
		c := int(math.Round(px / size * float64(gridCells-1)))
		return max(0, min(gridCells-1, c))
	}

	mid := gridCells / 2
	grid[mid][mid] = '+'
	for _, b := range blips {
		r := []rune(b.Initial)
		grid[cell(b.Position.Y)][cell(b.Position.X)] = r[0]
	}

	lines := make([]string, 0, gridCells+2)
	border := "+" + strings.Repeat("-", gridCells) + "+"
	lines = append(lines, border)
	for _, row := range grid {
		lines = append(lines, "|"+string(row)+"|")
	}
	return append(lines, border)
}

func bearingOf(users []models.NearbyUser, id string) float64 {
	for _, u := range users {
		if u.UserID == id {
			return u.Bearing
		}
	}
	return 0
}

func nameOrUnknown(name string) string {
	if strings.TrimSpace(name) == "" {
		return models.UnknownUserName
	}
	return name
}

// radarView re-renders only when the visible part of the store changed.
type radarView struct {
	mu    sync.Mutex
	out   io.Writer
	radar geo.Radar
	last  string
}

func (v *radarView) update(snap store.LocationSnapshot) {
	var b strings.Builder
	renderRadar(&b, snap, v.radar)
	v.mu.Lock()
	defer v.mu.Unlock()
	if b.String() == v.last {
		return
	}
	v.last = b.String()
	fmt.Fprintln(v.out)
	io.WriteString(v.out, v.last)
}
