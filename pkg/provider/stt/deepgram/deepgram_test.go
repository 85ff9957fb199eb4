package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/lifeline/pkg/provider/stt"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		cfg      stt.StreamConfig
		want     map[string]string
		keyterms []string
	}{
		{
			name: "defaults",
			want: map[string]string{
				"model":           "nova-3",
				"language":        "en",
				"sample_rate":     "16000",
				"encoding":        "linear16",
				"interim_results": "true",
			},
		},
		{
			name: "provider options",
			opts: []Option{WithModel("nova-2"), WithLanguage("de"), WithSampleRate(8000)},
			want: map[string]string{"model": "nova-2", "language": "de", "sample_rate": "8000"},
		},
		{
			name: "stream config wins",
			opts: []Option{WithLanguage("de")},
			cfg:  stt.StreamConfig{Language: "fr", SampleRate: 48000, Channels: 1},
			want: map[string]string{"language": "fr", "sample_rate": "48000", "channels": "1"},
		},
		{
			name:     "keyterms",
			cfg:      stt.StreamConfig{Keyterms: []string{"help", "save me"}},
			keyterms: []string{"help", "save me"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			raw, err := p.buildURL(tt.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("parse URL: %v", err)
			}
			q := u.Query()
			for k, v := range tt.want {
				if got := q.Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
			if tt.keyterms != nil {
				got := q["keyterm"]
				if strings.Join(got, "|") != strings.Join(tt.keyterms, "|") {
					t.Errorf("keyterm = %v, want %v", got, tt.keyterms)
				}
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantText  string
		wantFinal bool
	}{
		{
			name:      "final",
			raw:       `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"please help me","confidence":0.93}]}}`,
			wantOK:    true,
			wantText:  "please help me",
			wantFinal: true,
		},
		{
			name:     "interim",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"please"}]}}`,
			wantOK:   true,
			wantText: "please",
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "empty alternatives", raw: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "empty transcript", raw: `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ok := parseResult([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tr.Text != tt.wantText || tr.IsFinal != tt.wantFinal {
				t.Errorf("transcript = %+v", tr)
			}
		})
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestStartStream_RoundTrip(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		typ, _, err := c.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"sos help"}]}}`))
		c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	s, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	var got []stt.Transcript
	for tr := range s.Results() {
		got = append(got, tr)
	}
	if len(got) != 1 || got[0].Text != "sos help" || !got[0].IsFinal {
		t.Fatalf("results = %+v", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after normal close", err)
	}
	if auth := <-gotAuth; auth != "Token secret" {
		t.Errorf("Authorization = %q", auth)
	}
}
