package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

// MalgoCapture captures the default input device through miniaudio.
type MalgoCapture struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewMalgoCapture(logger *slog.Logger, m *metrics.Metrics) *MalgoCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoCapture{logger: logger, metrics: m}
}

func (c *MalgoCapture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	cfg = withCaptureDefaults(cfg)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureStart, err)
	}

	allocated, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyStartErr(fmt.Errorf("failed to init audio context: %w", err), "")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	// Channels are requested as mono regardless of cfg.Channels: the wire
	// format is mono PCM16.
	assembler := newFrameAssembler(cfg.FrameSize, cfg.SampleRate, c.metrics)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			assembler.PushF32LE(pInputSamples)
		},
		// Stop fires for explicit stops too; those close the assembler first.
		Stop: func() {
			if assembler.Close() {
				c.logger.Warn("microphone device stopped unexpectedly")
			}
		},
	}

	device, err := malgo.InitDevice(allocated.Context, deviceConfig, callbacks)
	if err != nil {
		assembler.Close()
		releaseContext(allocated)
		return nil, classifyStartErr(fmt.Errorf("failed to open microphone: %w", err), "")
	}

	actualRate := int(device.SampleRate())
	if actualRate > 0 && actualRate != cfg.SampleRate {
		assembler.mu.Lock()
		assembler.sampleRate = actualRate
		assembler.mu.Unlock()
	} else {
		actualRate = cfg.SampleRate
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		assembler.Close()
		releaseContext(allocated)
		return nil, classifyStartErr(fmt.Errorf("failed to start microphone: %w", err), "")
	}

	c.logger.Info("microphone capture started",
		slog.Int("requested_rate", cfg.SampleRate),
		slog.Int("device_rate", actualRate),
		slog.Int("frame_size", cfg.FrameSize),
		slog.Bool("echo_cancellation", cfg.EchoCancellation),
		slog.Bool("noise_suppression", cfg.NoiseSuppression),
		slog.Bool("auto_gain_control", cfg.AutoGainControl),
	)

	return &malgoSession{
		context:    allocated,
		device:     device,
		assembler:  assembler,
		sampleRate: actualRate,
	}, nil
}

type malgoSession struct {
	context    *malgo.AllocatedContext
	device     *malgo.Device
	assembler  *frameAssembler
	sampleRate int

	stopOnce sync.Once
	stopErr  error
}

func (s *malgoSession) Frames() <-chan domain.AudioFrame {
	return s.assembler.Frames()
}

func (s *malgoSession) SampleRate() int {
	return s.sampleRate
}

func (s *malgoSession) Stop() error {
	s.stopOnce.Do(func() {
		s.assembler.Close()
		if err := s.device.Stop(); err != nil {
			s.stopErr = fmt.Errorf("failed to stop microphone: %w", err)
		}
		s.device.Uninit()
		releaseContext(s.context)
	})
	return s.stopErr
}

func releaseContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
