package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the voice chat client.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Session  SessionConfig  `yaml:"session"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type BackendConfig struct {
	WSURL            string        `yaml:"ws_url"`
	HTTPURL          string        `yaml:"http_url"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type AudioConfig struct {
	// Backend selects the capture implementation: "malgo" or "ffmpeg".
	Backend          string `yaml:"backend"`
	FFmpegCommand    string `yaml:"ffmpeg_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	FrameSize        int    `yaml:"frame_size"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
}

type PlaybackConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	FallbackRate int `yaml:"fallback_rate"`
}

type SessionConfig struct {
	Language     string `yaml:"language"`
	DefaultVoice string `yaml:"default_voice"`
	LogCapacity  int    `yaml:"log_capacity"`
}

type DebugConfig struct {
	// Addr enables the debug HTTP server when non-empty.
	Addr             string `yaml:"addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	AudioBackendMalgo  = "malgo"
	AudioBackendFFmpeg = "ffmpeg"
)

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			WSURL:            "ws://localhost:8000/ws",
			HTTPURL:          "http://localhost:8000",
			HTTPTimeout:      5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Audio: AudioConfig{
			Backend:          AudioBackendMalgo,
			FFmpegCommand:    "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       16000,
			Channels:         1,
			FrameSize:        4096,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Playback: PlaybackConfig{
			SampleRate:   24000,
			FallbackRate: 16000,
		},
		Session: SessionConfig{
			Language:     "en-US",
			DefaultVoice: "en_us_001",
			LogCapacity:  20,
		},
		Debug: DebugConfig{
			MetricsNamespace: "voicechat",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration. Later sources win: built-in defaults, the
// YAML file named by VOICECHAT_CONFIG_FILE, the .env file, the process
// environment.
func Load() (Config, error) {
	env, err := newEnvSource(firstNonEmpty(os.Getenv("VOICECHAT_ENV_FILE"), ".env"))
	if err != nil {
		return Config{}, err
	}

	cfg := defaults()
	if path := env.get("VOICECHAT_CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Backend.WSURL = env.string(cfg.Backend.WSURL, "VOICECHAT_WS_URL", "BACKEND_WS_URL", "VITE_BACKEND_WS_URL")
	cfg.Backend.HTTPURL = env.string(cfg.Backend.HTTPURL, "VOICECHAT_HTTP_URL", "BACKEND_URL", "VITE_BACKEND_URL")
	cfg.Backend.HTTPTimeout = env.millis("VOICECHAT_HTTP_TIMEOUT_MS", cfg.Backend.HTTPTimeout)
	cfg.Backend.HandshakeTimeout = env.millis("VOICECHAT_HANDSHAKE_TIMEOUT_MS", cfg.Backend.HandshakeTimeout)

	cfg.Audio.Backend = strings.ToLower(env.string(cfg.Audio.Backend, "VOICECHAT_AUDIO_BACKEND"))
	cfg.Audio.FFmpegCommand = env.string(cfg.Audio.FFmpegCommand, "VOICECHAT_FFMPEG_COMMAND")
	cfg.Audio.InputFormat = env.string(cfg.Audio.InputFormat, "VOICECHAT_AUDIO_INPUT_FORMAT")
	cfg.Audio.InputDevice = env.string(cfg.Audio.InputDevice, "VOICECHAT_AUDIO_INPUT_DEVICE")
	cfg.Audio.SampleRate = env.int("VOICECHAT_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = env.int("VOICECHAT_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.FrameSize = env.int("VOICECHAT_FRAME_SIZE", cfg.Audio.FrameSize)
	cfg.Audio.EchoCancellation = env.bool("VOICECHAT_ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.NoiseSuppression = env.bool("VOICECHAT_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGainControl = env.bool("VOICECHAT_AUTO_GAIN_CONTROL", cfg.Audio.AutoGainControl)

	cfg.Playback.SampleRate = env.int("VOICECHAT_PLAYBACK_SAMPLE_RATE", cfg.Playback.SampleRate)
	cfg.Playback.FallbackRate = env.int("VOICECHAT_PLAYBACK_FALLBACK_RATE", cfg.Playback.FallbackRate)

	cfg.Session.Language = env.string(cfg.Session.Language, "VOICECHAT_LANGUAGE")
	cfg.Session.DefaultVoice = env.string(cfg.Session.DefaultVoice, "VOICECHAT_DEFAULT_VOICE")
	cfg.Session.LogCapacity = env.int("VOICECHAT_LOG_CAPACITY", cfg.Session.LogCapacity)

	cfg.Debug.Addr = env.string(cfg.Debug.Addr, "VOICECHAT_DEBUG_ADDR")
	cfg.Debug.MetricsNamespace = env.string(cfg.Debug.MetricsNamespace, "VOICECHAT_METRICS_NAMESPACE")

	cfg.Logging.Level = strings.ToLower(env.string(cfg.Logging.Level, "VOICECHAT_LOG_LEVEL"))
	cfg.Logging.Format = strings.ToLower(env.string(cfg.Logging.Format, "VOICECHAT_LOG_FORMAT"))

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sanitize replaces out-of-range numbers with defaults.
func (c *Config) sanitize() {
	base := defaults()
	if c.Backend.HTTPTimeout <= 0 {
		c.Backend.HTTPTimeout = base.Backend.HTTPTimeout
	}
	if c.Backend.HandshakeTimeout <= 0 {
		c.Backend.HandshakeTimeout = base.Backend.HandshakeTimeout
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = base.Audio.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = base.Audio.Channels
	}
	if c.Audio.FrameSize < 256 {
		c.Audio.FrameSize = base.Audio.FrameSize
	}
	if c.Playback.SampleRate <= 0 {
		c.Playback.SampleRate = base.Playback.SampleRate
	}
	if c.Playback.FallbackRate <= 0 {
		c.Playback.FallbackRate = base.Playback.FallbackRate
	}
	if c.Session.LogCapacity <= 0 {
		c.Session.LogCapacity = base.Session.LogCapacity
	}
}

// Validate rejects settings that cannot be fixed by falling back.
func (c Config) Validate() error {
	switch c.Audio.Backend {
	case AudioBackendMalgo, AudioBackendFFmpeg:
	default:
		return fmt.Errorf("audio backend %q must be %q or %q", c.Audio.Backend, AudioBackendMalgo, AudioBackendFFmpeg)
	}
	if err := validateURL(c.Backend.WSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("backend websocket url: %w", err)
	}
	if err := validateURL(c.Backend.HTTPURL, "http", "https"); err != nil {
		return fmt.Errorf("backend http url: %w", err)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s url", raw, strings.Join(schemes, "/"))
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envSource reads the process environment, then the .env file.
type envSource struct {
	file map[string]string
}

func newEnvSource(path string) (envSource, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return envSource{}, nil
		}
		return envSource{}, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return envSource{file: values}, nil
}

func (e envSource) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(e.file[key])
}

func (e envSource) string(fallback string, keys ...string) string {
	values := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		values = append(values, e.get(key))
	}
	return firstNonEmpty(append(values, fallback)...)
}

func (e envSource) int(key string, fallback int) int {
	value := e.get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (e envSource) bool(key string, fallback bool) bool {
	switch strings.ToLower(e.get(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (e envSource) millis(key string, fallback time.Duration) time.Duration {
	value := e.get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
