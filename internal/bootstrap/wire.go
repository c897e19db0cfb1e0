package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"voicechat/internal/audio"
	"voicechat/internal/backend"
	"voicechat/internal/config"
	"voicechat/internal/debugserver"
	"voicechat/internal/logging"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
	"voicechat/internal/realtime"
	"voicechat/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// Debug is nil unless a debug address is configured.
	Debug *debugserver.Server
}

// Build loads configuration and wires all dependencies for the current runtime.
func Build(eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink, clipboard, os.Stderr)
}

func BuildWithConfig(cfg config.Config, eventSink ports.EventSink, clipboard ports.Clipboard, logOutput io.Writer) (Services, error) {
	logger := logging.New(cfg.Logging, logOutput)
	m := metrics.New(cfg.Debug.MetricsNamespace)

	capture, err := newCapture(cfg.Audio, logger, m)
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		capture,
		realtime.NewFactory(realtime.Config{
			URL:              cfg.Backend.WSURL,
			HandshakeTimeout: cfg.Backend.HandshakeTimeout,
		}, logger, m),
		backend.NewClient(cfg.Backend.HTTPURL, cfg.Backend.HTTPTimeout, logger),
		audio.NewPlayer(audio.PlaybackConfig{
			SampleRate:   cfg.Playback.SampleRate,
			FallbackRate: cfg.Playback.FallbackRate,
		}, logger, m),
		clipboard,
		eventSink,
		logger,
		m,
		usecase.Config{
			Capture: ports.CaptureConfig{
				SampleRate:       cfg.Audio.SampleRate,
				Channels:         cfg.Audio.Channels,
				FrameSize:        cfg.Audio.FrameSize,
				InputFormat:      cfg.Audio.InputFormat,
				InputDevice:      cfg.Audio.InputDevice,
				EchoCancellation: cfg.Audio.EchoCancellation,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
				AutoGainControl:  cfg.Audio.AutoGainControl,
			},
			DefaultVoice: cfg.Session.DefaultVoice,
			Language:     cfg.Session.Language,
			LogCapacity:  cfg.Session.LogCapacity,
		},
	)

	services := Services{Controller: controller, Config: cfg, Logger: logger, Metrics: m}
	if cfg.Debug.Addr != "" {
		debug := debugserver.New(controller, m.Handler(), logger)
		if err := debug.Start(cfg.Debug.Addr); err != nil {
			_ = controller.Close()
			return Services{}, fmt.Errorf("failed to start debug server on %s: %w", cfg.Debug.Addr, err)
		}
		services.Debug = debug
	}

	logger.Info("services ready",
		slog.String("ws_url", cfg.Backend.WSURL),
		slog.String("http_url", cfg.Backend.HTTPURL),
		slog.String("audio_backend", cfg.Audio.Backend),
	)
	return services, nil
}

// Shutdown tears down the session and the debug server.
func (s Services) Shutdown(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		errs = append(errs, s.Controller.Close())
	}
	if s.Debug != nil {
		errs = append(errs, s.Debug.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func newCapture(cfg config.AudioConfig, logger *slog.Logger, m *metrics.Metrics) (ports.AudioCapture, error) {
	switch cfg.Backend {
	case config.AudioBackendMalgo, "":
		return audio.NewMalgoCapture(logger, m), nil
	case config.AudioBackendFFmpeg:
		return audio.NewFFMPEGCapture(cfg.FFmpegCommand, logger, m), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}
