package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lifeline/internal/api"
	"github.com/MrWong99/lifeline/internal/contact"
	"github.com/MrWong99/lifeline/internal/health"
	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/internal/sos"
	"github.com/MrWong99/lifeline/internal/trigger"
	"github.com/MrWong99/lifeline/pkg/location"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeEngine struct {
	mu          sync.Mutex
	snap        sos.Session
	started     bool
	cancelled   bool
	cancelErr   error
	share       sos.ShareResult
	shareErr    error
	callErr     error
	outcome     *sos.Outcome
	activations []sos.Source
	cancels     int

	events     chan sos.Event
	subscribed chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:     make(chan sos.Event, 8),
		subscribed: make(chan struct{}),
	}
}

func (f *fakeEngine) Activate(_ context.Context, source sos.Source) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, source)
	if f.started {
		f.snap = sos.Session{ID: "s1", Status: sos.StatusDispatching, Source: source}
	}
	return f.started
}

func (f *fakeEngine) Cancel() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	f.snap = sos.Session{}
	return f.cancelled, nil
}

func (f *fakeEngine) ShareLocation(context.Context) (sos.ShareResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.share, f.shareErr
}

func (f *fakeEngine) CallNow(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "112", f.callErr
}

func (f *fakeEngine) Snapshot() sos.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) LastOutcome() (sos.Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcome == nil {
		return sos.Outcome{}, false
	}
	return *f.outcome, true
}

func (f *fakeEngine) Settings() sos.Settings { return sos.Settings{}.WithDefaults() }

func (f *fakeEngine) Subscribe(int) (<-chan sos.Event, func()) {
	close(f.subscribed)
	return f.events, func() {}
}

type fakeVoice struct {
	mu    sync.Mutex
	state trigger.State
}

func (v *fakeVoice) SetForeground(fg bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Foreground = fg
}

func (v *fakeVoice) SetEnabled(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Enabled = on
}

func (v *fakeVoice) State() trigger.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// ── helpers ──────────────────────────────────────────────────────────────────

type fixture struct {
	engine   *fakeEngine
	voice    *fakeVoice
	contacts *contact.MemStore
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		engine:   newFakeEngine(),
		voice:    &fakeVoice{},
		contacts: contact.NewMemStore(),
	}
	opts = append([]api.Option{api.WithMetrics(m), api.WithVoice(f.voice)}, opts...)
	srv, err := api.New(f.engine, f.contacts, opts...)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// ── SOS ──────────────────────────────────────────────────────────────────────

func TestActivate(t *testing.T) {
	tests := []struct {
		name    string
		started bool
		want    string
	}{
		{"starts alert", true, `"started":true`},
		{"already active", false, `"started":false`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.started = tc.started

			rec := f.do(t, "POST", "/v1/sos/activate", "")
			if rec.Code != http.StatusAccepted {
				t.Fatalf("code = %d, want 202", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.want) {
				t.Errorf("body = %s, want %s", rec.Body.String(), tc.want)
			}
			if len(f.engine.activations) != 1 || f.engine.activations[0] != sos.SourceAPI {
				t.Errorf("activations = %v, want [api]", f.engine.activations)
			}
		})
	}
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name      string
		snap      sos.Session
		cancelled bool
		cancelErr error
		wantCode  int
		wantBody  string
	}{
		{"cancels live alert", sos.Session{ID: "s1", Status: sos.StatusCountingDown}, true, nil, http.StatusOK, `"cancelled":true`},
		{"idle is a no-op", sos.Session{}, false, nil, http.StatusOK, `"cancelled":false`},
		// The alert finished between the status read and the cancel.
		{"alert ended first", sos.Session{ID: "s1", Status: sos.StatusCountingDown}, false, nil, http.StatusOK, `"cancelled":false`},
		{"call committed", sos.Session{ID: "s1", Status: sos.StatusPlacingCall}, false, sos.ErrCallCommitted, http.StatusConflict, `"error"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.snap = tc.snap
			f.engine.cancelled = tc.cancelled
			f.engine.cancelErr = tc.cancelErr

			rec := f.do(t, "POST", "/v1/sos/cancel", "")
			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body = %s, want %s", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestShareLocation(t *testing.T) {
	tests := []struct {
		name     string
		share    sos.ShareResult
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "shared",
			share:    sos.ShareResult{Message: "My current location: https://www.google.com/maps?q=1,2", TextsSent: 2},
			wantCode: http.StatusOK,
			wantBody: `"texts_sent":2`,
		},
		{"permission denied", sos.ShareResult{}, fmt.Errorf("sos: share location: %w", location.ErrPermissionDenied), http.StatusForbidden, "permission denied"},
		{"no fix", sos.ShareResult{}, fmt.Errorf("sos: share location: %w", location.ErrUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{"store failure", sos.ShareResult{}, errors.New("sos: share location: list contacts: db down"), http.StatusInternalServerError, "db down"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.share = tc.share
			f.engine.shareErr = tc.err

			rec := f.do(t, "POST", "/v1/location/share", "")
			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body = %s, want %s", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestCallNow(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"placed", nil, http.StatusOK, `"placed":true`},
		{"dialer failed", errors.New("sos: call now: no dialer"), http.StatusBadGateway, "no dialer"},
		{"engine closed", sos.ErrClosed, http.StatusServiceUnavailable, "closed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.callErr = tc.err

			rec := f.do(t, "POST", "/v1/call", "")
			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("body = %s, want %s", rec.Body.String(), tc.wantBody)
			}
			if tc.err == nil && !strings.Contains(rec.Body.String(), `"number":"112"`) {
				t.Errorf("body = %s, want number", rec.Body.String())
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.snap = sos.Session{ID: "s1", Status: sos.StatusCountingDown, Remaining: 3, StartedAt: started, Source: sos.SourceVoice}
	f.engine.outcome = &sos.Outcome{SessionID: "s0", Cancelled: true}

	rec := f.do(t, "GET", "/v1/sos/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["status"] != "counting_down" || got["active"] != true || got["remaining"] != float64(3) {
		t.Errorf("status body = %v", got)
	}
	if got["session_id"] != "s1" || got["source"] != "voice" {
		t.Errorf("session fields = %v", got)
	}
	last, ok := got["last_outcome"].(map[string]any)
	if !ok || last["session_id"] != "s0" || last["cancelled"] != true {
		t.Errorf("last_outcome = %v", got["last_outcome"])
	}
}

func TestStatus_Idle(t *testing.T) {
	f := newFixture(t)
	got := decode[map[string]any](t, f.do(t, "GET", "/v1/sos/status", ""))
	if got["status"] != "idle" || got["active"] != false {
		t.Errorf("body = %v", got)
	}
	if _, ok := got["last_outcome"]; ok {
		t.Error("last_outcome must be omitted before the first alert")
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	got := decode[map[string]any](t, f.do(t, "GET", "/v1/settings", ""))
	if got["emergency_number"] != sos.DefaultEmergencyNumber {
		t.Errorf("settings = %v", got)
	}
}

// ── App state and voice ──────────────────────────────────────────────────────

func TestAppState(t *testing.T) {
	tests := []struct {
		body     string
		wantCode int
		wantFg   bool
	}{
		{`{"state":"active"}`, http.StatusOK, true},
		{`{"state":"background"}`, http.StatusOK, false},
		{`{"state":"inactive"}`, http.StatusOK, false},
		{`{"state":"sleeping"}`, http.StatusBadRequest, false},
		{`{"state":"active","extra":1}`, http.StatusBadRequest, false},
		{`not json`, http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, "POST", "/v1/app/state", tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body.String())
			}
			if f.voice.State().Foreground != tc.wantFg {
				t.Errorf("foreground = %v, want %v", f.voice.State().Foreground, tc.wantFg)
			}
		})
	}
}

func TestVoiceActivation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "PUT", "/v1/voice/activation", `{"enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if st := decode[trigger.State](t, rec); !st.Enabled {
		t.Errorf("state = %+v, want enabled", st)
	}

	if rec := f.do(t, "PUT", "/v1/voice/activation", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing enabled: code = %d, want 400", rec.Code)
	}

	rec = f.do(t, "GET", "/v1/voice/activation", "")
	if st := decode[trigger.State](t, rec); !st.Enabled {
		t.Errorf("GET state = %+v", st)
	}
}

func TestVoiceUnavailable(t *testing.T) {
	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	srv, err := api.New(newFakeEngine(), contact.NewMemStore(), api.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()
	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/v1/app/state", `{"state":"active"}`},
		{"PUT", "/v1/voice/activation", `{"enabled":true}`},
		{"GET", "/v1/voice/activation", ""},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: code = %d, want 503", tc.method, tc.path, rec.Code)
		}
	}
}

// ── Contacts ─────────────────────────────────────────────────────────────────

func TestContactsCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/v1/contacts", `{"name":"Mom","phone":"+15550001","relationship":"mother"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: code = %d (%s)", rec.Code, rec.Body.String())
	}
	created := decode[contact.Contact](t, rec)
	if created.ID == "" || created.Name != "Mom" {
		t.Fatalf("created = %+v", created)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/contacts/"+created.ID {
		t.Errorf("Location = %q", loc)
	}

	rec = f.do(t, "POST", "/v1/contacts", `{"name":"Neighbour"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create without phone: code = %d", rec.Code)
	}
	if rec.Header().Get("Warning") == "" {
		t.Error("expected a Warning header for a contact without phone")
	}

	list := decode[[]contact.Contact](t, f.do(t, "GET", "/v1/contacts", ""))
	if len(list) != 2 || list[0].Name != "Mom" || list[1].Name != "Neighbour" {
		t.Fatalf("list = %+v", list)
	}

	rec = f.do(t, "PUT", "/v1/contacts/"+created.ID, `{"name":"Mum","phone":"+15550002"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: code = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := decode[contact.Contact](t, rec); got.Name != "Mum" || got.Phone != "+15550002" {
		t.Errorf("updated = %+v", got)
	}

	if got := decode[contact.Contact](t, f.do(t, "GET", "/v1/contacts/"+created.ID, "")); got.Name != "Mum" {
		t.Errorf("get = %+v", got)
	}

	if rec := f.do(t, "DELETE", "/v1/contacts/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: code = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/v1/contacts/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: code = %d, want 404", rec.Code)
	}
}

func TestContactsErrors(t *testing.T) {
	f := newFixture(t)
	if _, err := f.contacts.Add(t.Context(), contact.Contact{ID: "c1", Name: "Dad"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"missing name", "POST", "/v1/contacts", `{"phone":"+1"}`, http.StatusBadRequest},
		{"duplicate id", "POST", "/v1/contacts", `{"id":"c1","name":"Other"}`, http.StatusConflict},
		{"update unknown", "PUT", "/v1/contacts/nope", `{"name":"X"}`, http.StatusNotFound},
		{"update id mismatch", "PUT", "/v1/contacts/c1", `{"id":"c2","name":"X"}`, http.StatusBadRequest},
		{"update blank name", "PUT", "/v1/contacts/c1", `{"name":" "}`, http.StatusBadRequest},
		{"delete unknown", "DELETE", "/v1/contacts/nope", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body.String())
			}
		})
	}
}

func TestContactsEmptyList(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/v1/contacts", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

// ── Health and metrics ───────────────────────────────────────────────────────

func TestHealthAndMetricsMounted(t *testing.T) {
	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	f := newFixture(t, api.WithHealth(health.New()), api.WithMetricsHandler(scrape))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := f.do(t, "GET", path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s: code = %d", path, rec.Code)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := api.New(nil, contact.NewMemStore()); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := api.New(newFakeEngine(), nil); err == nil {
		t.Error("expected error for nil store")
	}
}

// ── Event stream ─────────────────────────────────────────────────────────────

func TestEvents_Stream(t *testing.T) {
	f := newFixture(t)
	f.engine.snap = sos.Session{ID: "s1", Status: sos.StatusCountingDown, Remaining: 4}

	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/sos/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var first map[string]any
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first["type"] != "status" || first["status"] != "counting_down" || first["remaining"] != float64(4) {
		t.Errorf("first frame = %v", first)
	}

	<-f.engine.subscribed
	f.engine.events <- sos.Event{Type: sos.EventTick, SessionID: "s1", Status: sos.StatusCountingDown, Remaining: 3}

	var tick map[string]any
	if err := wsjson.Read(ctx, conn, &tick); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if tick["type"] != "tick" || tick["remaining"] != float64(3) {
		t.Errorf("tick frame = %v", tick)
	}

	close(f.engine.events)
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v (%v), want going away", websocket.CloseStatus(err), err)
	}
}

func TestEvents_RequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/v1/sos/events", "")
	if rec.Code == http.StatusOK || rec.Code == http.StatusSwitchingProtocols {
		t.Errorf("plain GET: code = %d, want an error status", rec.Code)
	}
}
