// Package config provides the configuration schema and loader for the visa
// interview coach server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown and empty levels map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8000"
	DefaultElevenLabsURL    = "https://api.elevenlabs.io"
	DefaultSignedURLTimeout = 3 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Audio      AudioConfig      `yaml:"audio"`
	Reports    ReportsConfig    `yaml:"reports"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists CORS origins. "*" allows any origin; empty
	// disables CORS headers entirely.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StaticDir, when set, is served at "/" (the browser UI).
	StaticDir string `yaml:"static_dir"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ElevenLabsConfig configures the conversational voice agent.
type ElevenLabsConfig struct {
	// APIKey authenticates signed-URL requests. Overridden by
	// ELEVENLABS_API_KEY. Without it only public agents work.
	APIKey string `yaml:"api_key"`

	// AgentID identifies the configured interviewer agent. Overridden by
	// ELEVENLABS_AGENT_ID.
	AgentID string `yaml:"agent_id"`

	// BaseURLs are tried in order when requesting signed URLs. Each endpoint
	// gets its own circuit breaker.
	BaseURLs []string `yaml:"base_urls"`

	// Timeout bounds a single signed-URL request.
	Timeout time.Duration `yaml:"timeout"`

	// OverrideSystemPrompt sends the built-in interviewer prompt when the
	// server dials the agent itself. The agent must allow prompt overrides.
	OverrideSystemPrompt bool `yaml:"override_system_prompt"`
}

// AudioConfig configures server-side capture framing.
type AudioConfig struct {
	// FrameSize is the accumulator threshold in samples.
	FrameSize int `yaml:"frame_size"`

	// SampleRate is the capture rate of incoming browser audio in Hz.
	SampleRate int `yaml:"sample_rate"`

	// AgentSampleRate is the rate the agent expects. Frames are resampled
	// when it differs from SampleRate.
	AgentSampleRate int `yaml:"agent_sample_rate"`

	// QueueCapacity bounds frames waiting to be sent to the agent.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ReportsConfig configures the feedback report archive.
type ReportsConfig struct {
	// Path is a JSON Lines file every generated report is appended to.
	// Empty disables archiving.
	Path string `yaml:"path"`
}
