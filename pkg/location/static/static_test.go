package static

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/lifeline/pkg/location"
)

func TestNew_Range(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		lat, lon float64
		wantErr  bool
	}{
		{"valid", 52.52, 13.405, false},
		{"poles and antimeridian", -90, 180, false},
		{"latitude too high", 90.1, 0, true},
		{"longitude too low", 0, -180.5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.lat, tc.lon, 0)
			if (err != nil) != tc.wantErr {
				t.Errorf("New(%g, %g) error = %v, wantErr %v", tc.lat, tc.lon, err, tc.wantErr)
			}
		})
	}
}

func TestCurrentLocation(t *testing.T) {
	t.Parallel()
	p, err := New(48.2, 16.37, 15)
	if err != nil {
		t.Fatal(err)
	}
	c, err := p.CurrentLocation(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if *c != (location.Coordinates{Latitude: 48.2, Longitude: 16.37, Accuracy: 15}) {
		t.Errorf("fix = %+v", *c)
	}

	// Callers cannot mutate the stored fix.
	c.Latitude = 0
	again, _ := p.CurrentLocation(t.Context())
	if again.Latitude != 48.2 {
		t.Error("returned fix aliases provider state")
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := p.CurrentLocation(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx: err = %v", err)
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()
	p, _ := New(1, 2, 0)
	ctx, cancel := context.WithCancel(t.Context())

	got := make(chan location.Coordinates, 1)
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, func(c location.Coordinates) { got <- c }) }()

	select {
	case c := <-got:
		if c.Latitude != 1 || c.Longitude != 2 {
			t.Errorf("watched fix = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fix reported")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
