package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	ErrEmptyPayload      = errors.New("empty audio payload")
	ErrInvalidBase64     = errors.New("audio payload is not valid base64")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

type payloadFormat string

const (
	formatWAV payloadFormat = "wav"
	formatMP3 payloadFormat = "mp3"
	formatRaw payloadFormat = "pcm16"
)

// pcmClip is decoded interleaved PCM16 audio.
type pcmClip struct {
	samples    []int16
	channels   int
	sampleRate int
}

// decodePayload turns a base64 chunk from the backend into PCM. Payloads that
// are neither WAV nor MP3 are treated as raw mono PCM16LE at rawRate.
func decodePayload(payload string, rawRate int) (pcmClip, error) {
	data, err := decodeBase64(payload)
	if err != nil {
		return pcmClip{}, err
	}
	if len(data) == 0 {
		return pcmClip{}, ErrEmptyPayload
	}

	switch sniffFormat(data) {
	case formatWAV:
		return decodeWAV(data)
	case formatMP3:
		clip, err := decodeMP3(data)
		if err == nil {
			return clip, nil
		}
		// PCM that happens to start with 0xFFEx looks like an MP3 sync word.
		return decodeRawPCM16(data, rawRate)
	default:
		return decodeRawPCM16(data, rawRate)
	}
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
}

func sniffFormat(data []byte) payloadFormat {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return formatWAV
	}
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return formatMP3
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return formatMP3
	}
	return formatRaw
}

func decodeWAV(data []byte) (pcmClip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return pcmClip{}, fmt.Errorf("%w: invalid wav container", ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat != 1 {
		return pcmClip{}, fmt.Errorf("%w: wav audio format %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcmClip{}, fmt.Errorf("failed to decode wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = scaleToInt16(v, int(dec.BitDepth))
	}
	return pcmClip{
		samples:    samples,
		channels:   max(int(dec.NumChans), 1),
		sampleRate: int(dec.SampleRate),
	}, nil
}

func scaleToInt16(v int, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

func decodeMP3(data []byte) (pcmClip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return pcmClip{}, fmt.Errorf("failed to decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return pcmClip{}, fmt.Errorf("failed to decode mp3: %w", err)
	}
	if len(raw) == 0 {
		return pcmClip{}, fmt.Errorf("failed to decode mp3: %w", ErrEmptyPayload)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	return pcmClip{
		samples:    int16sFromLE(raw),
		channels:   2,
		sampleRate: dec.SampleRate(),
	}, nil
}

func decodeRawPCM16(data []byte, rate int) (pcmClip, error) {
	if len(data)%2 != 0 {
		return pcmClip{}, fmt.Errorf("%w: odd-length pcm16 payload (%d bytes)", ErrUnsupportedFormat, len(data))
	}
	if rate <= 0 {
		rate = 16000
	}
	return pcmClip{samples: int16sFromLE(data), channels: 1, sampleRate: rate}, nil
}

func int16sFromLE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// mono averages interleaved channels down to one.
func (c pcmClip) mono() []int16 {
	if c.channels <= 1 {
		return c.samples
	}
	frames := len(c.samples) / c.channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < c.channels; ch++ {
			sum += int(c.samples[i*c.channels+ch])
		}
		out[i] = int16(sum / c.channels)
	}
	return out
}

// resampleLinear converts mono samples between rates with linear
// interpolation.
func resampleLinear(samples []int16, from int, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	outLen := int(int64(len(samples)) * int64(to) / int64(from))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
