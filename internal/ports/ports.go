package ports

import (
	"context"

	"voicechat/internal/domain"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	FrameSize   int
	InputFormat string
	InputDevice string

	// Processing hints; devices may ignore them.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureSession is a live microphone capture.
type CaptureSession interface {
	Frames() <-chan domain.AudioFrame
	SampleRate() int
	Stop() error
}

// AudioCapture acquires the input device.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// Player renders base64 audio chunks on the output device.
type Player interface {
	PlayChunk(payload string) error
	Close() error
}

// RealtimeClient is one persistent backend connection.
type RealtimeClient interface {
	Connect(ctx context.Context) error
	SendConfig(voice string, lang string) error
	Start() error
	Stop() error
	SendAudio(frame []byte) error
	Events() <-chan domain.ClientEvent
	State() domain.ClientState
	Close() error
}

// RealtimeClientFactory creates a fresh client per connect.
type RealtimeClientFactory interface {
	NewClient() RealtimeClient
}

// BackendCatalog talks to the backend HTTP endpoints.
type BackendCatalog interface {
	Probe(ctx context.Context) (domain.BackendInfo, error)
	Voices(ctx context.Context) ([]domain.VoiceOption, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionChanged(session domain.Session)
	TranscriptAppended(entry domain.TranscriptEntry)
	LogAppended(entry domain.LogEntry)
	VoicesLoaded(voices []domain.VoiceOption)
}
