package audio

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
)

var ErrPlayerClosed = errors.New("player is closed")

// PlaybackConfig controls the output device.
type PlaybackConfig struct {
	// SampleRate is the rate the output device is opened at.
	SampleRate int
	// FallbackRate is assumed for raw PCM16 payloads without a header.
	FallbackRate int
	BufferSize   time.Duration
}

// output renders mono PCM16LE buffers. Each Play is an independent source.
type output interface {
	Play(pcm []byte) error
	Close() error
}

// Player decodes base64 audio chunks and plays each one as soon as it
// arrives. Chunks may overlap; no sequencing is enforced.
type Player struct {
	cfg     PlaybackConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	open    func(PlaybackConfig) (output, error)

	mu     sync.Mutex
	out    output
	closed bool
}

func NewPlayer(cfg PlaybackConfig, logger *slog.Logger, m *metrics.Metrics) *Player {
	return newPlayer(cfg, logger, m, openOtoOutput)
}

func newPlayer(cfg PlaybackConfig, logger *slog.Logger, m *metrics.Metrics, open func(PlaybackConfig) (output, error)) *Player {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.FallbackRate <= 0 {
		cfg.FallbackRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{cfg: cfg, logger: logger, metrics: m, open: open}
}

// PlayChunk decodes payload and starts playback immediately.
func (p *Player) PlayChunk(payload string) error {
	clip, err := decodePayload(payload, p.cfg.FallbackRate)
	if err != nil {
		p.metrics.Playback("decode_error")
		return err
	}

	samples := resampleLinear(clip.mono(), clip.sampleRate, p.cfg.SampleRate)
	if len(samples) == 0 {
		p.metrics.Playback("decode_error")
		return ErrEmptyPayload
	}

	out, err := p.output()
	if err != nil {
		p.metrics.Playback("device_error")
		return err
	}
	if err := out.Play(domain.AudioFrame{Samples: samples}.Bytes()); err != nil {
		p.metrics.Playback("device_error")
		return fmt.Errorf("failed to start playback: %w", err)
	}

	p.metrics.Playback("ok")
	p.logger.Debug("audio chunk playing",
		slog.Int("source_rate", clip.sampleRate),
		slog.Int("source_channels", clip.channels),
		slog.Int("samples", len(samples)),
	)
	return nil
}

// output opens the device on first use.
func (p *Player) output() (output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPlayerClosed
	}
	if p.out != nil {
		return p.out, nil
	}
	out, err := p.open(p.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	p.out = out
	return out, nil
}

// Close stops in-flight playback and releases the device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	return err
}

// oto allows one context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
)

type otoOutput struct {
	ctx *oto.Context

	mu      sync.Mutex
	players map[*oto.Player]struct{}
}

func openOtoOutput(cfg PlaybackConfig) (output, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.BufferSize,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = cfg.SampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != cfg.SampleRate {
		return nil, fmt.Errorf("audio output already open at %d Hz", otoRate)
	}
	return &otoOutput{ctx: otoCtx, players: make(map[*oto.Player]struct{})}, nil
}

func (o *otoOutput) Play(pcm []byte) error {
	player := o.ctx.NewPlayer(bytes.NewReader(pcm))
	o.mu.Lock()
	o.players[player] = struct{}{}
	o.mu.Unlock()

	player.Play()
	go o.reap(player)
	return nil
}

func (o *otoOutput) reap(player *oto.Player) {
	for player.IsPlaying() {
		time.Sleep(20 * time.Millisecond)
	}
	o.mu.Lock()
	_, owned := o.players[player]
	delete(o.players, player)
	o.mu.Unlock()
	if owned {
		_ = player.Close()
	}
}

func (o *otoOutput) Close() error {
	o.mu.Lock()
	players := o.players
	o.players = make(map[*oto.Player]struct{})
	o.mu.Unlock()

	var errs []error
	for player := range players {
		player.Pause()
		if err := player.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
