package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"voicechat/internal/domain"
)

func TestPlayChunkRawPCMResamplesToOutputRate(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	p := newPlayer(PlaybackConfig{SampleRate: 32000, FallbackRate: 16000}, nil, nil, out.open)

	payload := base64.StdEncoding.EncodeToString(pcmBytes([]int16{0, 100, 200, 300}))
	if err := p.PlayChunk(payload); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	played := out.snapshot()
	if len(played) != 1 {
		t.Fatalf("expected one playback source, got %d", len(played))
	}
	if got := len(played[0]) / 2; got != 8 {
		t.Fatalf("expected 8 samples after 2x resample, got %d", got)
	}
	if out.opens != 1 {
		t.Fatalf("expected device opened once, got %d", out.opens)
	}
}

func TestPlayChunkEachCallIsIndependentSource(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	p := newPlayer(PlaybackConfig{SampleRate: 16000, FallbackRate: 16000}, nil, nil, out.open)

	payload := base64.StdEncoding.EncodeToString(pcmBytes([]int16{1, 2}))
	for i := 0; i < 3; i++ {
		if err := p.PlayChunk(payload); err != nil {
			t.Fatalf("play %d failed: %v", i, err)
		}
	}
	if got := len(out.snapshot()); got != 3 {
		t.Fatalf("expected 3 sources, got %d", got)
	}
	if out.opens != 1 {
		t.Fatalf("expected lazy single open, got %d", out.opens)
	}
}

func TestPlayChunkRejectsMalformedBase64(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	p := newPlayer(PlaybackConfig{}, nil, nil, out.open)

	err := p.PlayChunk("!!!not base64!!!")
	if !errors.Is(err, ErrInvalidBase64) {
		t.Fatalf("expected base64 error, got %v", err)
	}
	if out.opens != 0 {
		t.Fatalf("device must not be opened for undecodable audio")
	}
}

func TestPlayChunkRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	p := newPlayer(PlaybackConfig{}, nil, nil, (&fakeOutput{}).open)
	if err := p.PlayChunk("  "); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
}

func TestPlayChunkDecodesWAV(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	p := newPlayer(PlaybackConfig{SampleRate: 16000}, nil, nil, out.open)

	wav := buildWAV(t, []int16{10, 20, 30, 40}, 16000, 2)
	if err := p.PlayChunk(base64.StdEncoding.EncodeToString(wav)); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	played := out.snapshot()
	// Two stereo frames averaged down to mono.
	samples := int16sFromLE(played[0])
	if len(samples) != 2 || samples[0] != 15 || samples[1] != 35 {
		t.Fatalf("unexpected mono samples: %v", samples)
	}
}

func TestPlayChunkDeviceErrorIsReturned(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{openErr: errors.New("no speaker")}
	p := newPlayer(PlaybackConfig{}, nil, nil, out.open)

	payload := base64.StdEncoding.EncodeToString(pcmBytes([]int16{1, 2}))
	if err := p.PlayChunk(payload); err == nil {
		t.Fatalf("expected device error")
	}
}

func TestPlayerCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	p := newPlayer(PlaybackConfig{}, nil, nil, out.open)
	payload := base64.StdEncoding.EncodeToString(pcmBytes([]int16{1, 2}))
	_ = p.PlayChunk(payload)

	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !out.closed {
		t.Fatalf("expected output closed")
	}
	if err := p.PlayChunk(payload); !errors.Is(err, ErrPlayerClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestSniffFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]payloadFormat{
		"RIFF\x00\x00\x00\x00WAVEfmt ": formatWAV,
		"ID3\x03\x00":                  formatMP3,
		"\xff\xfb\x90\x00":             formatMP3,
		"\x01\x00\x02\x00":             formatRaw,
	}
	for input, want := range cases {
		if got := sniffFormat([]byte(input)); got != want {
			t.Fatalf("sniff(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestDecodePayloadFallsBackToRawWhenMP3SyncIsPCM(t *testing.T) {
	t.Parallel()

	// -1 as PCM16 is 0xFFFF, which looks like an MP3 frame sync.
	payload := base64.StdEncoding.EncodeToString(pcmBytes([]int16{-1, -1, 0, 0}))
	clip, err := decodePayload(payload, 16000)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if clip.channels != 1 || len(clip.samples) != 4 || clip.samples[0] != -1 {
		t.Fatalf("unexpected clip: %+v", clip)
	}
}

func TestDecodeRawPCM16RejectsOddLength(t *testing.T) {
	t.Parallel()

	if _, err := decodeRawPCM16([]byte{1, 2, 3}, 16000); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestResampleLinear(t *testing.T) {
	t.Parallel()

	in := []int16{0, 100, 200, 300}
	if got := resampleLinear(in, 16000, 16000); len(got) != 4 {
		t.Fatalf("same-rate resample should be identity")
	}
	down := resampleLinear(in, 16000, 8000)
	if len(down) != 2 || down[0] != 0 || down[1] != 200 {
		t.Fatalf("unexpected downsample: %v", down)
	}
	up := resampleLinear([]int16{0, 100}, 8000, 16000)
	if len(up) != 4 || up[1] != 50 {
		t.Fatalf("unexpected upsample: %v", up)
	}
}

type fakeOutput struct {
	mu      sync.Mutex
	played  [][]byte
	opens   int
	openErr error
	closed  bool
}

func (o *fakeOutput) open(PlaybackConfig) (output, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.opens++
	return o, nil
}

func (o *fakeOutput) Play(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, append([]byte(nil), pcm...))
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) snapshot() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.played...)
}

func pcmBytes(samples []int16) []byte {
	return domain.AudioFrame{Samples: samples}.Bytes()
}

func buildWAV(t *testing.T, samples []int16, sampleRate int, channels int) []byte {
	t.Helper()

	pcm := pcmBytes(samples)
	var buf bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("write wav: %v", err)
		}
	}
	buf.WriteString("RIFF")
	write(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1))
	write(uint16(channels))
	write(uint32(sampleRate))
	write(uint32(sampleRate * channels * 2))
	write(uint16(channels * 2))
	write(uint16(16))
	buf.WriteString("data")
	write(uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
