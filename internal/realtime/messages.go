package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"voicechat/internal/domain"
)

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnexpectedBinary   = errors.New("unexpected binary frame from server")
)

type configMessage struct {
	Type  string `json:"type"`
	Voice string `json:"voice"`
	Lang  string `json:"lang"`
}

type controlMessage struct {
	Type string `json:"type"`
}

type inboundFrame struct {
	Type         string               `json:"type"`
	Text         string               `json:"text"`
	Speaker      string               `json:"speaker"`
	IsFinal      bool                 `json:"is_final"`
	Payload      string               `json:"payload"`
	Status       string               `json:"status"`
	Message      string               `json:"message"`
	Capabilities *inboundCapabilities `json:"capabilities"`
}

type inboundCapabilities struct {
	ASR *bool `json:"asr"`
	TTS *bool `json:"tts"`
	LLM *bool `json:"llm"`
}

// ParseInbound classifies one server text frame.
func ParseInbound(raw []byte) (domain.InboundMessage, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msgType := domain.InboundType(frame.Type)
	switch msgType {
	case domain.InboundTranscript:
		return domain.InboundMessage{
			Type:    msgType,
			Text:    frame.Text,
			Speaker: parseSpeaker(frame.Speaker),
			IsFinal: frame.IsFinal,
		}, nil
	case domain.InboundAudioChunk:
		return domain.InboundMessage{Type: msgType, Payload: frame.Payload}, nil
	case domain.InboundStatus:
		msg := domain.InboundMessage{Type: msgType, Status: frame.Status, Message: frame.Message}
		if frame.Capabilities != nil {
			msg.Capabilities = &domain.CapabilityUpdate{
				ASR: frame.Capabilities.ASR,
				TTS: frame.Capabilities.TTS,
				LLM: frame.Capabilities.LLM,
			}
		}
		return msg, nil
	case domain.InboundError:
		return domain.InboundMessage{Type: msgType, Message: frame.Message}, nil
	case "":
		return domain.InboundMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return domain.InboundMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, frame.Type)
	}
}

func parseSpeaker(raw string) domain.Speaker {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "agent", "assistant":
		return domain.SpeakerAgent
	case "system":
		return domain.SpeakerSystem
	default:
		return domain.SpeakerUser
	}
}
