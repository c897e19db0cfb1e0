package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voicechat/internal/domain"
)

var ErrUnexpectedStatus = errors.New("unexpected backend status")

const maxResponseBytes = 1 << 20

// Client reads the backend's HTTP surface: the root probe and the public
// voice catalog.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "backend")),
	}
}

type probeResponse struct {
	Message  string        `json:"message"`
	Features *featureFlags `json:"features"`

	ASRAvailable *bool `json:"asr_available"`
	TTSAvailable *bool `json:"tts_available"`
	LLMAvailable *bool `json:"llm_available"`
}

type featureFlags struct {
	ASR *bool `json:"asr"`
	TTS *bool `json:"tts"`
	LLM *bool `json:"llm"`
}

type configResponse struct {
	SupportedVoices []voiceEntry `json:"supported_voices"`
}

type voiceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Probe calls GET / and returns the reported feature flags. The nested
// features object wins over the flat *_available keys when both are present.
func (c *Client) Probe(ctx context.Context) (domain.BackendInfo, error) {
	var resp probeResponse
	if err := c.getJSON(ctx, "/", &resp); err != nil {
		return domain.BackendInfo{}, err
	}

	info := domain.BackendInfo{
		Message: resp.Message,
		Features: domain.CapabilityUpdate{
			ASR: resp.ASRAvailable,
			TTS: resp.TTSAvailable,
			LLM: resp.LLMAvailable,
		},
	}
	if f := resp.Features; f != nil {
		if f.ASR != nil {
			info.Features.ASR = f.ASR
		}
		if f.TTS != nil {
			info.Features.TTS = f.TTS
		}
		if f.LLM != nil {
			info.Features.LLM = f.LLM
		}
	}
	return info, nil
}

// Voices calls GET /config. Entries without an id are skipped.
func (c *Client) Voices(ctx context.Context) ([]domain.VoiceOption, error) {
	var resp configResponse
	if err := c.getJSON(ctx, "/config", &resp); err != nil {
		return nil, err
	}

	voices := make([]domain.VoiceOption, 0, len(resp.SupportedVoices))
	for _, v := range resp.SupportedVoices {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			continue
		}
		name := strings.TrimSpace(v.Name)
		if name == "" {
			name = id
		}
		voices = append(voices, domain.VoiceOption{ID: id, Name: name, Language: strings.TrimSpace(v.Language)})
	}
	return voices, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach backend %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
		return fmt.Errorf("%w: GET %s returned %d", ErrUnexpectedStatus, path, res.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	c.logger.Debug("backend request completed", slog.String("path", path))
	return nil
}
