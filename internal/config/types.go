// Package config resolves, parses, validates, and defaults talkingbot configuration.
package config

// Config is the fully materialized runtime configuration used by talkingbot.
type Config struct {
	Realtime RealtimeConfig
	Session  SessionConfig
	Audio    AudioConfig
	Tools    ToolsConfig
	Metrics  MetricsConfig
	Debug    DebugConfig

	// APIKey is resolved from the environment named by Realtime.APIKeyEnv, never from the file.
	APIKey string
}

// RealtimeConfig selects and addresses the conversation backend.
type RealtimeConfig struct {
	Transport     string
	Endpoint      string
	Model         string
	APIKeyEnv     string
	DialTimeoutMS int
	Relay         RelayConfig
}

// RelayConfig addresses the gRPC relay transport.
type RelayConfig struct {
	Addr string
	TLS  bool
}

// SessionConfig shapes each conversation.
type SessionConfig struct {
	Instructions       string
	Voice              string
	TranscriptionModel string
	StopGraceMS        int
	EchoDeltas         bool
}

// AudioConfig controls capture source selection and playback.
type AudioConfig struct {
	Backend   string
	Input     string
	Fallback  string
	Output    string
	Sink      string
	PlayerCmd CommandConfig
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// ToolsConfig selects the builtin tools offered to the model.
type ToolsConfig struct {
	Enable []string
	Math   MathConfig
}

// MathConfig addresses the chat model that turns questions into expressions.
type MathConfig struct {
	Model    string
	Endpoint string
}

// MetricsConfig controls the Prometheus exporter. An empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableEventDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
