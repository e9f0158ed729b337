package types

import (
	"testing"
	"time"
)

func TestAudioFrame_Duration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame AudioFrame
		want  time.Duration
	}{
		{
			name:  "20ms mono at 16kHz",
			frame: AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1},
			want:  20 * time.Millisecond,
		},
		{
			name:  "one second mono at 8kHz",
			frame: AudioFrame{Data: make([]byte, 16000), SampleRate: 8000, Channels: 1},
			want:  time.Second,
		},
		{
			name:  "stereo halves the sample count",
			frame: AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 2},
			want:  10 * time.Millisecond,
		},
		{
			name:  "empty frame",
			frame: AudioFrame{Data: nil, SampleRate: 16000, Channels: 1},
			want:  0,
		},
		{
			name:  "zero sample rate",
			frame: AudioFrame{Data: make([]byte, 640), Channels: 1},
			want:  0,
		},
		{
			name:  "zero channels",
			frame: AudioFrame{Data: make([]byte, 640), SampleRate: 16000},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.frame.Duration(); got != tt.want {
				t.Fatalf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}
