package realtime

import (
	"errors"
	"testing"

	"voicechat/internal/domain"
)

func TestParseInboundTranscript(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"type":"transcript","text":"hello","is_final":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != domain.InboundTranscript || msg.Text != "hello" || !msg.IsFinal {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Speaker != domain.SpeakerUser {
		t.Fatalf("expected default user speaker, got %s", msg.Speaker)
	}

	agent, err := ParseInbound([]byte(`{"type":"transcript","text":"hi","speaker":"agent","is_final":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.Speaker != domain.SpeakerAgent || agent.IsFinal {
		t.Fatalf("unexpected agent message: %+v", agent)
	}
}

func TestParseInboundStatusCapabilities(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"type":"status","status":"connected","message":"ready","capabilities":{"asr":true,"tts":false}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Status != "connected" || msg.Message != "ready" {
		t.Fatalf("unexpected status message: %+v", msg)
	}
	if msg.Capabilities == nil || msg.Capabilities.ASR == nil || !*msg.Capabilities.ASR {
		t.Fatalf("expected asr capability: %+v", msg.Capabilities)
	}
	if msg.Capabilities.LLM != nil {
		t.Fatalf("absent llm flag must stay nil")
	}

	plain, err := ParseInbound([]byte(`{"type":"status","status":"recording"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain.Capabilities != nil {
		t.Fatalf("expected no capabilities")
	}
}

func TestParseInboundAudioChunkAndError(t *testing.T) {
	t.Parallel()

	chunk, err := ParseInbound([]byte(`{"type":"audio_chunk","payload":"AAEC"}`))
	if err != nil || chunk.Payload != "AAEC" {
		t.Fatalf("unexpected chunk: %+v err=%v", chunk, err)
	}
	serverErr, err := ParseInbound([]byte(`{"type":"error","message":"boom"}`))
	if err != nil || serverErr.Message != "boom" {
		t.Fatalf("unexpected error message: %+v err=%v", serverErr, err)
	}
}

func TestParseInboundRejectsMalformedAndUnknown(t *testing.T) {
	t.Parallel()

	if _, err := ParseInbound([]byte(`{not json`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if _, err := ParseInbound([]byte(`{"text":"x"}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected malformed error for missing type, got %v", err)
	}
	if _, err := ParseInbound([]byte(`{"type":"pong"}`)); !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}
