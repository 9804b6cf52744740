package config

import "slices"

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; every other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names top-level settings that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if (old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		(old.Server.TLS != nil && *old.Server.TLS != *new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		old.Server.StaticDir != new.Server.StaticDir {
		d.RestartRequired = append(d.RestartRequired, "server.http")
	}

	oe, ne := old.ElevenLabs, new.ElevenLabs
	if oe.APIKey != ne.APIKey || oe.AgentID != ne.AgentID || oe.Timeout != ne.Timeout ||
		oe.OverrideSystemPrompt != ne.OverrideSystemPrompt || !slices.Equal(oe.BaseURLs, ne.BaseURLs) {
		d.RestartRequired = append(d.RestartRequired, "elevenlabs")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Reports != new.Reports {
		d.RestartRequired = append(d.RestartRequired, "reports")
	}
	return d
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}
