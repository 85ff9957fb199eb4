package sos_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lifeline/internal/contact"
	"github.com/MrWong99/lifeline/internal/sos"
	chanmock "github.com/MrWong99/lifeline/pkg/channel/mock"
	"github.com/MrWong99/lifeline/pkg/location"
	locmock "github.com/MrWong99/lifeline/pkg/location/mock"
)

func TestEngine_ShareLocation(t *testing.T) {
	ch := &chanmock.Channel{TextErrs: map[string]error{"+3": errors.New("carrier rejected")}}
	contacts := []contact.Contact{
		{ID: "a", Name: "A", Phone: "+1"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C", Phone: "+3"},
	}
	f := newFixture(t, contacts, fixAt(52.52, 13.405), ch)

	res, err := f.engine.ShareLocation(t.Context())
	if err != nil {
		t.Fatalf("ShareLocation: %v", err)
	}

	want := "My current location: https://www.google.com/maps?q=52.52,13.405"
	if res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
	if res.TextsSent != 1 || res.TextsFailed != 1 {
		t.Errorf("sent/failed = %d/%d, want 1/1", res.TextsSent, res.TextsFailed)
	}
	var phones []string
	for _, tx := range ch.TextCalls() {
		phones = append(phones, tx.Phone)
		if tx.Message != want {
			t.Errorf("text to %s = %q", tx.Phone, tx.Message)
		}
	}
	slices.Sort(phones)
	if !slices.Equal(phones, []string{"+1", "+3"}) {
		t.Errorf("texted %v, want [+1 +3]", phones)
	}

	if f.engine.IsActive() {
		t.Error("sharing started an alert")
	}
	if calls := ch.CallCalls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
	eventually(t, func() bool {
		return slices.Contains(f.announcer.Announced(), sos.SharedAnnouncement)
	})
}

func TestEngine_ShareLocation_NoFix(t *testing.T) {
	tests := []struct {
		name     string
		loc      *locmock.Provider
		wantErr  error
		announce string
	}{
		{
			name:     "permission denied",
			loc:      &locmock.Provider{Err: location.ErrPermissionDenied},
			wantErr:  location.ErrPermissionDenied,
			announce: sos.PermissionDeniedAnnouncement,
		},
		{
			name:     "no fix",
			loc:      &locmock.Provider{},
			wantErr:  location.ErrUnavailable,
			announce: sos.ShareFailedAnnouncement,
		},
		{
			name:     "platform failure",
			loc:      &locmock.Provider{Err: errors.New("gpsd: connection refused")},
			wantErr:  location.ErrUnavailable,
			announce: sos.ShareFailedAnnouncement,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, twoContacts(), tt.loc, &chanmock.Channel{})

			_, err := f.engine.ShareLocation(t.Context())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if texts := f.ch.TextCalls(); len(texts) != 0 {
				t.Errorf("texts = %v, want none", texts)
			}
			eventually(t, func() bool {
				return slices.Contains(f.announcer.Announced(), tt.announce)
			})
			if slices.Contains(f.announcer.Announced(), sos.SharedAnnouncement) {
				t.Error("success announced without a fix")
			}
		})
	}
}

func TestEngine_CallNow(t *testing.T) {
	f := newFixture(t, twoContacts(), fixAt(1, 2), &chanmock.Channel{},
		sos.WithSettings(sos.Settings{EmergencyNumber: "911", CountdownSeconds: 10}))

	number, err := f.engine.CallNow(t.Context())
	if err != nil {
		t.Fatalf("CallNow: %v", err)
	}
	if number != "911" {
		t.Errorf("number = %q, want 911", number)
	}
	if calls := f.ch.CallCalls(); !slices.Equal(calls, []string{"911"}) {
		t.Errorf("calls = %v, want [911]", calls)
	}
	if texts := f.ch.TextCalls(); len(texts) != 0 {
		t.Errorf("texts = %v, want none", texts)
	}
	if f.engine.IsActive() {
		t.Error("direct call started an alert")
	}
	select {
	case <-f.clock.tickers:
		t.Error("direct call started a countdown")
	case <-time.After(20 * time.Millisecond):
	}

	// Hot-reloaded settings apply to the next call.
	f.engine.SetSettings(sos.Settings{EmergencyNumber: "112"})
	if number, _ := f.engine.CallNow(t.Context()); number != "112" {
		t.Errorf("number after SetSettings = %q, want 112", number)
	}
}

func TestEngine_CallNow_Failure(t *testing.T) {
	ch := &chanmock.Channel{CallErr: errors.New("no dialer")}
	f := newFixture(t, nil, fixAt(1, 2), ch)

	if _, err := f.engine.CallNow(t.Context()); err == nil {
		t.Fatal("expected error from failing dialer")
	}
}

func TestEngine_QuickActionsAfterClose(t *testing.T) {
	f := newFixture(t, twoContacts(), fixAt(1, 2), &chanmock.Channel{})
	if err := f.engine.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.ShareLocation(t.Context()); !errors.Is(err, sos.ErrClosed) {
		t.Errorf("ShareLocation after Close = %v, want ErrClosed", err)
	}
	if _, err := f.engine.CallNow(t.Context()); !errors.Is(err, sos.ErrClosed) {
		t.Errorf("CallNow after Close = %v, want ErrClosed", err)
	}
	if n := len(f.ch.TextCalls()) + len(f.ch.CallCalls()); n != 0 {
		t.Errorf("collaborator calls after Close = %d", n)
	}
}
