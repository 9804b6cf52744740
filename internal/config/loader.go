package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/MrWong99/visacoach/pkg/audio"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIKey  = "ELEVENLABS_API_KEY"
	EnvAgentID = "ELEVENLABS_AGENT_ID"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. An empty document yields the
// defaults. Environment overrides are applied before validation.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated config built only from defaults and the
// environment. Used when no config file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the ELEVENLABS_* environment variables onto cfg.
// Non-empty variables win over file values.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.ElevenLabs.APIKey = v
	}
	if v, ok := lookup(EnvAgentID); ok && v != "" {
		cfg.ElevenLabs.AgentID = v
	}
}

// ApplyDefaults fills every zero-valued setting with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(cfg.ElevenLabs.BaseURLs) == 0 {
		cfg.ElevenLabs.BaseURLs = []string{DefaultElevenLabsURL}
	}
	if cfg.ElevenLabs.Timeout == 0 {
		cfg.ElevenLabs.Timeout = DefaultSignedURLTimeout
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = audio.DefaultFrameSize
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.AgentSampleRate == 0 {
		cfg.Audio.AgentSampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.QueueCapacity == 0 {
		cfg.Audio.QueueCapacity = audio.DefaultQueueCapacity
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	for i, raw := range cfg.ElevenLabs.BaseURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("elevenlabs.base_urls[%d] %q must be an absolute http(s) URL", i, raw))
		}
	}
	if cfg.ElevenLabs.Timeout < 0 {
		errs = append(errs, fmt.Errorf("elevenlabs.timeout %s must not be negative", cfg.ElevenLabs.Timeout))
	}
	if cfg.ElevenLabs.AgentID == "" {
		slog.Warn("no agent id configured; clients will not be able to start a voice conversation",
			"env", EnvAgentID)
	} else if cfg.ElevenLabs.APIKey == "" {
		slog.Warn("no api key configured; only public agents can be used", "env", EnvAPIKey)
	}

	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	for name, rate := range map[string]int{
		"audio.sample_rate":       cfg.Audio.SampleRate,
		"audio.agent_sample_rate": cfg.Audio.AgentSampleRate,
	} {
		if rate < 0 || (rate > 0 && rate < 8000) {
			errs = append(errs, fmt.Errorf("%s %d is out of range; must be at least 8000", name, rate))
		}
	}
	if cfg.Audio.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be positive", cfg.Audio.QueueCapacity))
	}

	return errors.Join(errs...)
}
