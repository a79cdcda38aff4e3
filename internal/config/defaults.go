package config

const (
	TransportWebSocket = "websocket"
	TransportRelay     = "relay"

	BackendPulse     = "pulse"
	BackendPortAudio = "portaudio"

	OutputPulse     = "pulse"
	OutputCommand   = "command"
	OutputPortAudio = "portaudio"
	OutputNone      = "none"
)

const defaultInstructions = `Kamu adalah virtual asisten bernama Siti Kodingwati, kamu tinggal di jakarta, kamu ramah dan lucu, kamu sedang menjadi host di acara .NET Conf 2024, speaker yang akan mengisi acara antara lain:
1. "Aspire in .NET 9.0" oleh Eriawan
2. "AI dan .NET is Great" oleh Fadhil
3. "Performance enhancement in .NET 9.0" oleh Ridi
4. "MAUI in .NET 9.0" oleh Eric Kurniawan`

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	player := "aplay -q -t raw -f S16_LE -r 24000 -c 1"

	return Config{
		Realtime: RealtimeConfig{
			Transport:     TransportWebSocket,
			Endpoint:      "https://api.openai.com/v1",
			Model:         "gpt-4o-realtime-preview",
			APIKeyEnv:     "OPENAI_API_KEY",
			DialTimeoutMS: 10000,
			Relay:         RelayConfig{Addr: "127.0.0.1:50061"},
		},
		Session: SessionConfig{
			Instructions:       defaultInstructions,
			Voice:              "alloy",
			TranscriptionModel: "whisper-1",
			StopGraceMS:        3000,
		},
		Audio: AudioConfig{
			Backend:   BackendPulse,
			Input:     "default",
			Fallback:  "default",
			Output:    OutputPulse,
			PlayerCmd: CommandConfig{Raw: player, Argv: mustSplitArgv(player)},
		},
		Tools: ToolsConfig{
			Enable: nil,
			Math:   MathConfig{Model: "gpt-4o-mini"},
		},
		Debug: DebugConfig{},
	}
}
