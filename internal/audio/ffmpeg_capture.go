package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

// FFMPEGCapture reads float32 microphone samples from an ffmpeg subprocess.
type FFMPEGCapture struct {
	command string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewFFMPEGCapture(command string, logger *slog.Logger, m *metrics.Metrics) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFMPEGCapture{command: command, logger: logger, metrics: m}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	cfg = withCaptureDefaults(cfg)
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
	}
	if filter := ffmpegFilter(cfg); filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args, "-f", "f32le", "-")

	// The subprocess outlives the Start call; only Stop ends it.
	cmd := exec.Command(c.command, args...)
	var stderr syncBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, classifyStartErr(fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err), "")
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartErr(fmt.Errorf("failed to start ffmpeg: %w", err), "")
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if err != nil {
			return nil, classifyStartErr(fmt.Errorf("ffmpeg exited before capture started: %w", err), detail)
		}
		return nil, classifyStartErr(errors.New("ffmpeg exited before capture started"), detail)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureStart, ctx.Err())
	case <-time.After(250 * time.Millisecond):
	}

	c.logger.Info("ffmpeg capture started",
		slog.String("input_format", cfg.InputFormat),
		slog.String("input_device", cfg.InputDevice),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_size", cfg.FrameSize),
	)

	session := &ffmpegSession{
		stdout:     stdout,
		stderr:     &stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		sampleRate: cfg.SampleRate,
		assembler:  newFrameAssembler(cfg.FrameSize, cfg.SampleRate, c.metrics),
		readDone:   make(chan struct{}),
		logger:     c.logger,
	}
	go session.readLoop()
	return session, nil
}

// ffmpegFilter translates processing hints into ffmpeg audio filters.
func ffmpegFilter(cfg ports.CaptureConfig) string {
	var filters []string
	if cfg.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if cfg.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) == 0 {
		return ""
	}
	out := filters[0]
	for _, f := range filters[1:] {
		out += "," + f
	}
	return out
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *syncBuffer

	process *os.Process
	waitErr <-chan error

	sampleRate int
	assembler  *frameAssembler
	readDone   chan struct{}
	logger     *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Frames() <-chan domain.AudioFrame {
	return s.assembler.Frames()
}

func (s *ffmpegSession) SampleRate() int {
	return s.sampleRate
}

func (s *ffmpegSession) readLoop() {
	defer close(s.readDone)

	buf := make([]byte, 8192)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			s.assembler.PushF32LE(buf[:n])
		}
		if err != nil {
			// Stop closes the assembler first, so a close here means ffmpeg
			// exited on its own.
			if s.assembler.Close() {
				s.logger.Warn("ffmpeg capture ended unexpectedly",
					slog.String("error", err.Error()),
					slog.String("stderr", stringsTrimSpaceSafe(s.stderr.String())),
				)
			}
			return
		}
	}
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.assembler.Close()

		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
		<-s.readDone

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func withCaptureDefaults(cfg ports.CaptureConfig) ports.CaptureConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaultFrameSize
	}
	return cfg
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// syncBuffer guards stderr, which exec writes from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
