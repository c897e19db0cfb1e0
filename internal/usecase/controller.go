package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected to backend")
	ErrConnectCanceled  = errors.New("connection attempt canceled")
	ErrASRUnavailable   = errors.New("speech recognition is not available")
	ErrUnknownVoice     = errors.New("voice id is required")
	ErrEmptyTranscript  = errors.New("no final transcript to copy")
)

const defaultLanguage = "en-US"

// Config controls controller defaults.
type Config struct {
	Capture      ports.CaptureConfig
	DefaultVoice string
	Language     string
	LogCapacity  int
	Now          func() time.Time
}

// SessionController owns the conversation session: connection and recording
// state, the transcript, the diagnostic log and the voice catalog.
type SessionController struct {
	audio     ports.AudioCapture
	clients   ports.RealtimeClientFactory
	catalog   ports.BackendCatalog
	player    ports.Player
	clipboard ports.Clipboard
	events    ports.EventSink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config

	mu         sync.Mutex
	session    domain.Session
	conn       *activeConnection
	recording  *activeCapture
	voices     []domain.VoiceOption
	transcript transcriptLog
	logs       *logRing
}

func NewSessionController(
	audio ports.AudioCapture,
	clients ports.RealtimeClientFactory,
	catalog ports.BackendCatalog,
	player ports.Player,
	clipboard ports.Clipboard,
	events ports.EventSink,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
) *SessionController {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = defaultLanguage
	}
	voices := domain.FallbackVoices()
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = voices[0].ID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		audio:     audio,
		clients:   clients,
		catalog:   catalog,
		player:    player,
		clipboard: clipboard,
		events:    events,
		logger:    logger.With(slog.String("component", "session")),
		metrics:   m,
		cfg:       cfg,
		session: domain.Session{
			ID:            uuid.NewString(),
			Connection:    domain.ConnectionDisconnected,
			Recording:     domain.RecordingIdle,
			SelectedVoice: cfg.DefaultVoice,
		},
		voices: voices,
		logs:   newLogRing(cfg.LogCapacity),
	}
}

// Connect opens a realtime connection and sends the selected voice config
// once it is open.
func (c *SessionController) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	dialCtx, cancel := context.WithCancel(ctx)
	conn := &activeConnection{client: c.clients.NewClient(), cancel: cancel}
	c.conn = conn
	c.session.Connection = domain.ConnectionConnecting
	connecting := c.session
	c.mu.Unlock()

	c.events.SessionChanged(connecting)

	if err := conn.client.Connect(dialCtx); err != nil {
		cancel()
		_ = conn.client.Close()

		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return ErrConnectCanceled
		}
		c.conn = nil
		c.session.Connection = domain.ConnectionDisconnected
		c.session.Recording = domain.RecordingIdle
		failed := c.session
		c.mu.Unlock()

		c.events.SessionChanged(failed)
		c.appendLog(fmt.Sprintf("Connection error: %v", err))
		return err
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		cancel()
		_ = conn.client.Close()
		return ErrConnectCanceled
	}
	c.session.Connection = domain.ConnectionConnected
	voice := c.session.SelectedVoice
	lang := c.languageLocked(voice)
	connected := c.session
	c.mu.Unlock()

	c.events.SessionChanged(connected)
	c.appendLog("WebSocket connected")

	go c.consumeEvents(conn)

	if err := conn.client.SendConfig(voice, lang); err != nil {
		c.appendLog(fmt.Sprintf("Failed to send voice config: %v", err))
	}
	return nil
}

// Disconnect closes the connection and stops any capture. It is a no-op
// when already disconnected, and cancels a pending dial.
func (c *SessionController) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	rec := c.recording
	c.recording = nil
	c.session.Connection = domain.ConnectionDisconnected
	c.session.Recording = domain.RecordingIdle
	disconnected := c.session
	c.mu.Unlock()

	if err := rec.stop(); err != nil {
		c.logger.Warn("failed to stop capture cleanly", slog.String("error", err.Error()))
	}
	conn.cancel()
	_ = conn.client.Close()

	c.events.SessionChanged(disconnected)
	c.appendLog("Disconnected")
	return nil
}

// ToggleRecording starts capture when idle and stops it when recording.
func (c *SessionController) ToggleRecording(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.session.Connection != domain.ConnectionConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	if c.session.Recording == domain.RecordingRecording {
		rec := c.recording
		c.recording = nil
		c.session.Recording = domain.RecordingIdle
		stopped := c.session
		c.mu.Unlock()

		if err := rec.stop(); err != nil {
			c.logger.Warn("failed to stop capture cleanly", slog.String("error", err.Error()))
		}
		if err := conn.client.Stop(); err != nil {
			c.appendLog(fmt.Sprintf("Failed to send stop: %v", err))
		}
		c.events.SessionChanged(stopped)
		c.appendLog("Stopped recording")
		c.appendTranscript("Processing...", domain.SpeakerSystem, true)
		return nil
	}

	caps := c.session.Capabilities
	if caps.Reported && !caps.ASR {
		c.mu.Unlock()
		c.appendLog("Speech recognition is unavailable. Configure an ASR provider on the backend and reconnect.")
		return ErrASRUnavailable
	}
	leftover := c.recording
	c.recording = nil
	c.mu.Unlock()

	if err := leftover.stop(); err != nil {
		c.logger.Warn("failed to stop previous capture", slog.String("error", err.Error()))
	}

	capture, err := c.audio.Start(ctx, c.cfg.Capture)
	if err != nil {
		c.appendLog(captureErrorMessage(err))
		return err
	}
	rec := &activeCapture{session: capture, done: make(chan struct{})}

	c.mu.Lock()
	if c.conn != conn || c.session.Connection != domain.ConnectionConnected {
		c.mu.Unlock()
		_ = capture.Stop()
		return ErrNotConnected
	}
	previous := c.recording
	c.recording = rec
	c.session.Recording = domain.RecordingRecording
	recording := c.session
	c.mu.Unlock()

	if previous != nil {
		_ = previous.session.Stop()
	}

	c.events.SessionChanged(recording)
	if err := conn.client.Start(); err != nil {
		c.appendLog(fmt.Sprintf("Failed to send start: %v", err))
	}
	go func() {
		pumpAudioFrames(
			capture.Frames(),
			func() bool { return c.shouldForward(conn, rec) },
			conn.client,
			c.metrics,
			c.logger,
			rec.done,
		)
		c.handleCaptureEnded(conn, rec)
	}()

	c.logger.Info("recording started", slog.Int("sample_rate", capture.SampleRate()))
	c.appendLog("Started recording")
	c.appendTranscript("Listening...", domain.SpeakerSystem, true)
	return nil
}

// ChangeVoice selects a voice and pushes the config when connected.
func (c *SessionController) ChangeVoice(voiceID string) error {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return ErrUnknownVoice
	}

	c.mu.Lock()
	c.session.SelectedVoice = voiceID
	lang := c.languageLocked(voiceID)
	var client ports.RealtimeClient
	if c.conn != nil && c.session.Connection == domain.ConnectionConnected {
		client = c.conn.client
	}
	changed := c.session
	c.mu.Unlock()

	c.events.SessionChanged(changed)
	if client == nil {
		return nil
	}
	if err := client.SendConfig(voiceID, lang); err != nil {
		c.appendLog(fmt.Sprintf("Failed to send voice config: %v", err))
		return err
	}
	return nil
}

// LoadVoices fetches the voice catalog, falling back to the built-in list
// when the backend fails or returns nothing.
func (c *SessionController) LoadVoices(ctx context.Context) []domain.VoiceOption {
	voices, err := c.catalog.Voices(ctx)
	if err != nil {
		c.appendLog(fmt.Sprintf("Failed to load voices: %v", err))
	}
	if err != nil || len(voices) == 0 {
		voices = domain.FallbackVoices()
	}

	c.mu.Lock()
	c.voices = append([]domain.VoiceOption(nil), voices...)
	c.mu.Unlock()

	c.events.VoicesLoaded(append([]domain.VoiceOption(nil), voices...))
	return voices
}

// ProbeBackend checks the backend root endpoint and seeds capabilities from
// the reported feature flags.
func (c *SessionController) ProbeBackend(ctx context.Context) error {
	info, err := c.catalog.Probe(ctx)
	if err != nil {
		c.appendLog(fmt.Sprintf("Backend unreachable: %v", err))
		return err
	}
	if info.Features.IsZero() {
		return nil
	}

	c.mu.Lock()
	c.session.Capabilities = c.session.Capabilities.Merge(info.Features)
	probed := c.session
	c.mu.Unlock()

	c.events.SessionChanged(probed)
	return nil
}

func (c *SessionController) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *SessionController) Transcript() []domain.TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.snapshot()
}

// TranscriptText renders the final conversation lines as plain text.
func (c *SessionController) TranscriptText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.text()
}

// CopyTranscript puts the final transcript text on the clipboard.
func (c *SessionController) CopyTranscript(ctx context.Context) (string, error) {
	text := c.TranscriptText()
	if text == "" {
		return "", ErrEmptyTranscript
	}
	if err := c.clipboard.SetText(ctx, text); err != nil {
		c.appendLog(fmt.Sprintf("Failed to copy transcript: %v", err))
		return "", err
	}
	c.appendLog("Transcript copied to clipboard")
	return text, nil
}

func (c *SessionController) Logs() []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logs.snapshot()
}

func (c *SessionController) Voices() []domain.VoiceOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.VoiceOption(nil), c.voices...)
}

func (c *SessionController) ClearTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.clear()
}

func (c *SessionController) ClearLogs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs.clear()
}

// Close tears the session down and releases the output device.
func (c *SessionController) Close() error {
	_ = c.Disconnect()

	c.mu.Lock()
	rec := c.recording
	c.recording = nil
	c.mu.Unlock()
	_ = rec.stop()

	if c.player == nil {
		return nil
	}
	return c.player.Close()
}

func (c *SessionController) consumeEvents(conn *activeConnection) {
	for event := range conn.client.Events() {
		if !c.isCurrent(conn) {
			continue
		}
		switch event.Kind {
		case domain.ClientEventMessage:
			c.handleMessage(conn, event.Message)
		case domain.ClientEventProtocolError:
			c.appendLog(fmt.Sprintf("Ignored server message: %v", event.Err))
		case domain.ClientEventClosed:
			c.handleClosed(conn, event.Err)
		}
	}
}

func (c *SessionController) handleMessage(conn *activeConnection, msg domain.InboundMessage) {
	switch msg.Type {
	case domain.InboundTranscript:
		if strings.TrimSpace(msg.Text) == "" {
			return
		}
		c.appendTranscript(msg.Text, msg.Speaker, msg.IsFinal)
	case domain.InboundAudioChunk:
		if err := c.player.PlayChunk(msg.Payload); err != nil {
			c.appendLog(fmt.Sprintf("Audio playback error: %v", err))
			return
		}
		c.appendTranscript("Agent response", domain.SpeakerAgent, true)
	case domain.InboundStatus:
		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		if msg.Status == "recording" {
			c.session.Recording = domain.RecordingRecording
		} else {
			// The device stays open until the next toggle or disconnect.
			c.session.Recording = domain.RecordingIdle
		}
		if msg.Capabilities != nil && !msg.Capabilities.IsZero() {
			c.session.Capabilities = c.session.Capabilities.Merge(*msg.Capabilities)
		}
		updated := c.session
		c.mu.Unlock()

		c.events.SessionChanged(updated)
		if strings.TrimSpace(msg.Message) != "" {
			c.appendLog(msg.Message)
		}
	case domain.InboundError:
		c.appendLog(fmt.Sprintf("Server error: %s", msg.Message))
	}
}

func (c *SessionController) handleClosed(conn *activeConnection, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	rec := c.recording
	c.recording = nil
	c.session.Connection = domain.ConnectionDisconnected
	c.session.Recording = domain.RecordingIdle
	closed := c.session
	c.mu.Unlock()

	conn.cancel()
	if err := rec.stop(); err != nil {
		c.logger.Warn("failed to stop capture cleanly", slog.String("error", err.Error()))
	}

	c.events.SessionChanged(closed)
	if cause != nil {
		c.appendLog(fmt.Sprintf("WebSocket error: %v", cause))
	}
	c.appendLog("WebSocket disconnected")
}

// handleCaptureEnded runs once the frame channel of rec closes. It only acts
// when rec is still the current capture, which means the device went away
// without an explicit stop.
func (c *SessionController) handleCaptureEnded(conn *activeConnection, rec *activeCapture) {
	c.mu.Lock()
	if c.recording != rec {
		c.mu.Unlock()
		return
	}
	c.recording = nil
	wasRecording := c.session.Recording == domain.RecordingRecording
	c.session.Recording = domain.RecordingIdle
	var client ports.RealtimeClient
	if c.conn == conn && c.session.Connection == domain.ConnectionConnected {
		client = conn.client
	}
	ended := c.session
	c.mu.Unlock()

	if err := rec.stop(); err != nil {
		c.logger.Warn("failed to release capture", slog.String("error", err.Error()))
	}
	if client != nil && wasRecording {
		if err := client.Stop(); err != nil {
			c.appendLog(fmt.Sprintf("Failed to send stop: %v", err))
		}
	}
	c.events.SessionChanged(ended)
	c.appendLog("Microphone capture ended unexpectedly")
}

func (c *SessionController) isCurrent(conn *activeConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *SessionController) shouldForward(conn *activeConnection, rec *activeCapture) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn &&
		c.recording == rec &&
		c.session.Connection == domain.ConnectionConnected &&
		c.session.Recording == domain.RecordingRecording
}

func (c *SessionController) languageLocked(voiceID string) string {
	for _, voice := range c.voices {
		if voice.ID == voiceID && strings.TrimSpace(voice.Language) != "" {
			return voice.Language
		}
	}
	return c.cfg.Language
}

func (c *SessionController) appendLog(message string) {
	c.mu.Lock()
	entry := c.logs.append(message, c.cfg.Now())
	c.mu.Unlock()

	c.logger.Info("session log", slog.String("message", message))
	c.events.LogAppended(entry)
}

func (c *SessionController) appendTranscript(text string, speaker domain.Speaker, isFinal bool) {
	c.mu.Lock()
	entry := c.transcript.append(text, speaker, isFinal, c.cfg.Now())
	c.mu.Unlock()

	c.events.TranscriptAppended(entry)
}

func captureErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrMicPermissionDenied):
		return "Microphone access denied. Please allow microphone permissions."
	case errors.Is(err, domain.ErrNoInputDevice):
		return "No microphone found. Please check your audio devices."
	default:
		cause := strings.TrimPrefix(err.Error(), domain.ErrCaptureStart.Error()+": ")
		return fmt.Sprintf("Failed to start recording: %s", cause)
	}
}
