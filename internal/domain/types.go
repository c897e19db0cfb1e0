package domain

import (
	"encoding/binary"
	"errors"
	"time"
)

var (
	ErrMicPermissionDenied = errors.New("microphone access denied")
	ErrNoInputDevice       = errors.New("no microphone found")
	ErrCaptureStart        = errors.New("failed to start recording")
)

// ConnectionState models the backend connection lifecycle seen by the UI.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// RecordingState models whether microphone audio is being streamed.
type RecordingState string

const (
	RecordingIdle      RecordingState = "idle"
	RecordingRecording RecordingState = "recording"
)

// Capabilities are the backend-reported feature flags.
type Capabilities struct {
	ASR bool `json:"asr"`
	TTS bool `json:"tts"`
	LLM bool `json:"llm"`

	// Reported is false until the backend has told us anything.
	Reported bool `json:"reported"`
}

// CapabilityUpdate carries the flags present in one backend message.
type CapabilityUpdate struct {
	ASR *bool
	TTS *bool
	LLM *bool
}

// IsZero reports whether u carries no flags.
func (u CapabilityUpdate) IsZero() bool {
	return u.ASR == nil && u.TTS == nil && u.LLM == nil
}

// Merge applies the flags present in u.
func (c Capabilities) Merge(u CapabilityUpdate) Capabilities {
	if u.ASR != nil {
		c.ASR = *u.ASR
	}
	if u.TTS != nil {
		c.TTS = *u.TTS
	}
	if u.LLM != nil {
		c.LLM = *u.LLM
	}
	c.Reported = true
	return c
}

// Session is the single per-client conversation state.
type Session struct {
	ID            string          `json:"id"`
	Connection    ConnectionState `json:"connection"`
	Recording     RecordingState  `json:"recording"`
	SelectedVoice string          `json:"selectedVoice"`
	Capabilities  Capabilities    `json:"capabilities"`
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

// TranscriptEntry is one immutable line of the conversation.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Speaker   Speaker   `json:"speaker"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one diagnostic line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// VoiceOption is one entry of the backend voice catalog.
type VoiceOption struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// FallbackVoices is used when the backend catalog cannot be loaded.
func FallbackVoices() []VoiceOption {
	return []VoiceOption{
		{ID: "en_us_001", Name: "US English", Language: "en-US"},
		{ID: "en_uk_001", Name: "UK English", Language: "en-GB"},
		{ID: "en_au_001", Name: "AU English", Language: "en-AU"},
	}
}

// AudioFrame is one fixed-size batch of mono PCM16 samples.
type AudioFrame struct {
	Seq        uint64
	SampleRate int
	Samples    []int16
}

// Bytes serializes the frame as little-endian PCM16.
func (f AudioFrame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// InboundType is the `type` tag of a server frame.
type InboundType string

const (
	InboundTranscript InboundType = "transcript"
	InboundAudioChunk InboundType = "audio_chunk"
	InboundStatus     InboundType = "status"
	InboundError      InboundType = "error"
)

// InboundMessage is a parsed server frame. Only the fields of Type are set.
type InboundMessage struct {
	Type InboundType

	// transcript
	Text    string
	Speaker Speaker
	IsFinal bool

	// audio_chunk
	Payload string

	// status
	Status       string
	Capabilities *CapabilityUpdate

	// status, error
	Message string
}

// ClientState is the realtime client's connection state machine.
type ClientState string

const (
	ClientIdle       ClientState = "idle"
	ClientConnecting ClientState = "connecting"
	ClientOpen       ClientState = "open"
	ClientClosed     ClientState = "closed"
)

// ClientEventKind classifies events from the realtime client.
type ClientEventKind string

const (
	ClientEventMessage       ClientEventKind = "message"
	ClientEventProtocolError ClientEventKind = "protocol_error"
	ClientEventClosed        ClientEventKind = "closed"
)

// ClientEvent is one item of the realtime client's event stream.
type ClientEvent struct {
	Kind    ClientEventKind
	Message InboundMessage
	Err     error
}

// BackendInfo is the connectivity probe result.
type BackendInfo struct {
	Message  string
	Features CapabilityUpdate
}
