package geolocation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/proximo/pkg/models"
)

func TestLoadTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.yaml")
	content := `interval: 250ms
waypoints:
  - lat: -23.5505
    lon: -46.6333
    accuracy: 5
  - lat: -23.5506
    lon: -46.6334
    heading: 90
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadTrack(path)
	if err != nil {
		t.Fatalf("LoadTrack() error = %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}

	ctx := context.Background()
	want := []float64{-23.5505, -23.5506, -23.5505}
	for i, lat := range want {
		pos, err := p.CurrentPosition(ctx, Options{})
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if pos.Latitude != lat {
			t.Errorf("read %d latitude = %v, want %v", i, pos.Latitude, lat)
		}
	}
}

func TestLoadTrack_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.yaml")
	if err := os.WriteFile(path, []byte("speed: 3\nwaypoints: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTrack(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestNewTrackProvider_Validation(t *testing.T) {
	if _, err := NewTrackProvider(Track{}); err == nil {
		t.Error("expected error for empty track")
	}
	if _, err := NewTrackProvider(Track{Waypoints: []Waypoint{{Latitude: 91}}}); err == nil {
		t.Error("expected error for invalid latitude")
	}
}

func TestTrackProvider_NoLoopHoldsLast(t *testing.T) {
	loop := false
	p, err := NewTrackProvider(Track{Loop: &loop, Waypoints: []Waypoint{{Latitude: 1}, {Latitude: 2}}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, want := range []float64{1, 2, 2, 2} {
		pos, _ := p.CurrentPosition(ctx, Options{})
		if pos.Latitude != want {
			t.Errorf("latitude = %v, want %v", pos.Latitude, want)
		}
	}
}

func TestStaticProvider_Watch(t *testing.T) {
	p := &StaticProvider{Location: models.Location{Latitude: 10, Longitude: 20}, WatchInterval: 10 * time.Millisecond}
	got := make(chan Position, 4)
	stop, err := p.Watch(context.Background(), Options{}, func(pos Position, err error) {
		if err == nil {
			select {
			case got <- pos:
			default:
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	select {
	case pos := <-got:
		if pos.Latitude != 10 || pos.Longitude != 20 {
			t.Errorf("position = %+v", pos.Location)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch reading")
	}
	stop()
	stop()
}

func TestStaticProvider_JitterStaysClose(t *testing.T) {
	p := &StaticProvider{Location: models.Location{Latitude: -23.55, Longitude: -46.63}, JitterMeters: 5}
	for i := 0; i < 50; i++ {
		pos, err := p.CurrentPosition(context.Background(), Options{})
		if err != nil {
			t.Fatal(err)
		}
		if d := pos.Latitude - p.Location.Latitude; d > 0.0001 || d < -0.0001 {
			t.Fatalf("latitude drifted by %v", d)
		}
	}
}
