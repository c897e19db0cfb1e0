package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicechat/internal/bootstrap"
	"voicechat/internal/config"
	"voicechat/internal/domain"
	"voicechat/internal/usecase"
)

const (
	eventSession    = "voicechat:session"
	eventTranscript = "voicechat:transcript"
	eventLog        = "voicechat:log"
	eventVoices     = "voicechat:voices"
	eventError      = "voicechat:error"
)

type errorCode string

const (
	errorCodeStartup    errorCode = "startup"
	errorCodeConnection errorCode = "connection"
	errorCodeRecording  errorCode = "recording"
	errorCodeVoice      errorCode = "voice"
	errorCodeClipboard  errorCode = "clipboard"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.emitError(errorCodeStartup, err)
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.SessionChanged(a.controller.Session())

	go func() {
		a.controller.LoadVoices(ctx)
		_ = a.controller.ProbeBackend(ctx)
	}()
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	_ = a.services.Shutdown(ctx)
}

// Connect opens the realtime connection to the backend.
func (a *App) Connect() (domain.Session, error) {
	if err := a.requireReady(); err != nil {
		return domain.Session{}, err
	}
	if err := a.controller.Connect(a.ctx); err != nil {
		if !errors.Is(err, usecase.ErrConnectCanceled) {
			a.emitError(errorCodeConnection, err)
		}
		return a.controller.Session(), err
	}
	return a.controller.Session(), nil
}

// Disconnect closes the realtime connection.
func (a *App) Disconnect() (domain.Session, error) {
	if err := a.requireReady(); err != nil {
		return domain.Session{}, err
	}
	if err := a.controller.Disconnect(); err != nil {
		a.emitError(errorCodeConnection, err)
		return a.controller.Session(), err
	}
	return a.controller.Session(), nil
}

// ToggleRecording starts or stops streaming microphone audio.
func (a *App) ToggleRecording() (domain.Session, error) {
	if err := a.requireReady(); err != nil {
		return domain.Session{}, err
	}
	if err := a.controller.ToggleRecording(a.ctx); err != nil {
		a.emitError(errorCodeRecording, err)
		return a.controller.Session(), err
	}
	return a.controller.Session(), nil
}

// ChangeVoice selects the synthesis voice.
func (a *App) ChangeVoice(voiceID string) (domain.Session, error) {
	if err := a.requireReady(); err != nil {
		return domain.Session{}, err
	}
	if err := a.controller.ChangeVoice(voiceID); err != nil {
		a.emitError(errorCodeVoice, err)
		return a.controller.Session(), err
	}
	return a.controller.Session(), nil
}

// GetSession returns the current session snapshot.
func (a *App) GetSession() domain.Session {
	if a.controller == nil {
		return domain.Session{
			Connection: domain.ConnectionDisconnected,
			Recording:  domain.RecordingIdle,
		}
	}
	return a.controller.Session()
}

func (a *App) GetTranscript() []domain.TranscriptEntry {
	if a.controller == nil {
		return []domain.TranscriptEntry{}
	}
	return a.controller.Transcript()
}

func (a *App) GetLogs() []domain.LogEntry {
	if a.controller == nil {
		return []domain.LogEntry{}
	}
	return a.controller.Logs()
}

func (a *App) GetVoices() []domain.VoiceOption {
	if a.controller == nil {
		return domain.FallbackVoices()
	}
	return a.controller.Voices()
}

func (a *App) ClearLogs() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.ClearLogs()
	return nil
}

func (a *App) ClearTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.ClearTranscript()
	return nil
}

// CopyTranscript copies the final conversation lines to the clipboard.
func (a *App) CopyTranscript() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	text, err := a.controller.CopyTranscript(a.ctx)
	if err != nil {
		a.emitError(errorCodeClipboard, err)
		return "", err
	}
	return text, nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"wsUrl":            a.cfg.Backend.WSURL,
		"httpUrl":          a.cfg.Backend.HTTPURL,
		"language":         a.cfg.Session.Language,
		"audioBackend":     a.cfg.Audio.Backend,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"sampleRate":       strconv.Itoa(a.cfg.Audio.SampleRate),
		"debugAddr":        a.cfg.Debug.Addr,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionChanged emits connection, recording and capability updates.
func (a *App) SessionChanged(session domain.Session) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, session)
}

// TranscriptAppended emits one new transcript line.
func (a *App) TranscriptAppended(entry domain.TranscriptEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, entry)
}

// LogAppended emits one new diagnostic line.
func (a *App) LogAppended(entry domain.LogEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventLog, entry)
}

// VoicesLoaded emits the voice catalog.
func (a *App) VoicesLoaded(voices []domain.VoiceOption) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventVoices, voices)
}

func (a *App) emitError(code errorCode, err error) {
	if a.ctx == nil || err == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(err),
		"detail":  err.Error(),
	})
}

func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, usecase.ErrNotConnected):
		return "Not connected to the backend"
	case errors.Is(err, usecase.ErrAlreadyConnected):
		return "Already connected"
	case errors.Is(err, usecase.ErrASRUnavailable):
		return "Speech recognition is unavailable on the backend"
	case errors.Is(err, usecase.ErrUnknownVoice):
		return "Select a voice first"
	case errors.Is(err, usecase.ErrEmptyTranscript):
		return "Nothing to copy yet"
	case errors.Is(err, domain.ErrMicPermissionDenied):
		return "Microphone access denied"
	case errors.Is(err, domain.ErrNoInputDevice):
		return "No microphone found"
	case errors.Is(err, domain.ErrCaptureStart):
		return "Failed to start recording"
	default:
		return err.Error()
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
