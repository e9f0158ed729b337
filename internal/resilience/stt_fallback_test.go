package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/loqua-ai/loqua/pkg/provider/stt"
	sttmock "github.com/loqua-ai/loqua/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimaryOpensStream(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Session: sttmock.NewSession()}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if primary.Calls() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.Calls())
	}
	if secondary.Calls() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.Calls())
	}
	_ = handle.Close()
}

func TestSTTFallback_FailoverOnStartError(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{
		StartStreamErr: errors.New("primary down"),
	}
	secondary := &sttmock.Provider{Session: sttmock.NewSession()}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if secondary.Calls() != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.Calls())
	}
	// The config must be forwarded untouched to the fallback.
	if got := secondary.StartStreamCalls[0].Cfg.SampleRate; got != 16000 {
		t.Fatalf("fallback sample rate = %d, want 16000", got)
	}
	_ = handle.Close()
}

func TestSTTFallback_AllBackendsFail(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	secondary := &sttmock.Provider{StartStreamErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_Names(t *testing.T) {
	t.Parallel()
	fb := NewSTTFallback(&sttmock.Provider{}, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", &sttmock.Provider{})

	want := []string{"deepgram", "whisper"}
	if got := fb.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}
