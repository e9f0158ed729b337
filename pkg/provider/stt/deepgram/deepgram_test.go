package deepgram

import (
	"strings"
	"testing"

	"github.com/loqua-ai/loqua/pkg/provider/stt"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("want error for empty api key")
	}
}

func TestListenURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("nova-3"), WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		u, err := p.listenURL(stt.StreamConfig{})
		if err != nil {
			t.Fatalf("listenURL: %v", err)
		}
		for _, want := range []string{
			"model=nova-3",
			"language=de",
			"sample_rate=16000",
			"encoding=linear16",
			"interim_results=true",
		} {
			if !strings.Contains(u, want) {
				t.Errorf("url %q missing %q", u, want)
			}
		}
	})

	t.Run("config overrides", func(t *testing.T) {
		t.Parallel()
		u, err := p.listenURL(stt.StreamConfig{SampleRate: 8000, Channels: 1, Language: "en-US"})
		if err != nil {
			t.Fatalf("listenURL: %v", err)
		}
		for _, want := range []string{"sample_rate=8000", "channels=1", "language=en-US"} {
			if !strings.Contains(u, want) {
				t.Errorf("url %q missing %q", u, want)
			}
		}
	})
}

func TestParseResults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		raw      string
		wantOK   bool
		wantText string
		wantFin  bool
	}{
		{
			name:     "final result",
			raw:      `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.97}]}}`,
			wantOK:   true,
			wantText: "hello world",
			wantFin:  true,
		},
		{
			name:     "interim result",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.41}]}}`,
			wantOK:   true,
			wantText: "hel",
			wantFin:  false,
		},
		{
			name:   "metadata message ignored",
			raw:    `{"type":"Metadata"}`,
			wantOK: false,
		},
		{
			name:   "empty transcript skipped",
			raw:    `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
			wantOK: false,
		},
		{
			name:   "malformed json ignored",
			raw:    `{"type":`,
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr, ok := parseResults([]byte(tc.raw))
			if ok != tc.wantOK {
				t.Fatalf("ok: want %v, got %v", tc.wantOK, ok)
			}
			if !ok {
				return
			}
			if tr.Text != tc.wantText {
				t.Errorf("text: want %q, got %q", tc.wantText, tr.Text)
			}
			if tr.IsFinal != tc.wantFin {
				t.Errorf("isFinal: want %v, got %v", tc.wantFin, tr.IsFinal)
			}
		})
	}
}
