package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	FirstAudioSLO            time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	VoiceProvider string

	ElevenLabsAPIKey            string
	ElevenLabsWSBaseURL         string
	ElevenLabsTTSVoice          string
	ElevenLabsTTSModel          string
	ElevenLabsSTTModel          string
	ElevenLabsTTSOutputFormat   string
	ElevenLabsSTTCommitStrategy string

	LocalWhisperCLI       string
	LocalWhisperModelPath string
	LocalWhisperLanguage  string
	LocalWhisperThreads   int
	LocalWhisperBeamSize  int
	LocalWhisperBestOf    int

	LocalKokoroPython       string
	LocalKokoroWorkerScript string
	LocalKokoroVoice        string
	LocalKokoroLangCode     string

	// DatabaseURL, if set, enables internal/sessionstore's Postgres-backed
	// turn history, durable across a gateway restart (on top of the
	// in-memory session.Manager's reconnect-within-process store).
	DatabaseURL string

	// Turn pipeline / supervisor tunables (§5, §10).
	SessionTTL           time.Duration // default 30m, renamed concept from SessionInactivityTimeout for clarity
	SessionSweepInterval time.Duration // default 5m
	HeartbeatTimeout     time.Duration // default 45s
	ICEGatherTimeout     time.Duration // default 3s

	ToolExecutorMaxParallel int           // default 10
	ToolCallTimeout         time.Duration // default 30s, per call

	Phase1TimeoutMs     int64 // default 60000
	Phase1MaxToolCalls  int   // default 10
	LLMRetries          int   // default 3

	VADPositiveThreshold float64 // default 0.5
	VADNegativeThreshold float64 // default 0.35
	VADMinSpeechFrames   int     // default 5
	VADRedemptionFrames  int     // default 50
	VADPreSpeechPad      int     // default 10

	PlaybookEnabled bool
	PlaybookPath    string // path to a JSON playbook.Definition, if PlaybookEnabled
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "samantha"),
		AllowAnyOrigin:      false,
		VoiceProvider:       envOrDefault("VOICE_PROVIDER", "auto"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// Default to a warm female premade voice for the Samantha prototype.
		ElevenLabsTTSVoice: envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel: envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		// Prefer low-latency PCM for realtime playback; preview endpoint wraps it as WAV.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		// Prefer explicit commit driven by our client-side VAD and controls.
		ElevenLabsSTTCommitStrategy: envOrDefault("ELEVENLABS_STT_COMMIT_STRATEGY", "manual"),
		LocalWhisperCLI:             envOrDefault("LOCAL_WHISPER_CLI", "whisper-cli"),
		// Default to a fast multilingual Whisper model for local realtime use.
		LocalWhisperModelPath: envOrDefault("LOCAL_WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		LocalWhisperLanguage:  envOrDefault("LOCAL_WHISPER_LANGUAGE", "en"),
		// 0 means "auto" (picked based on CPU count).
		LocalWhisperThreads:      0,
		LocalWhisperBeamSize:     1,
		LocalWhisperBestOf:       1,
		LocalKokoroPython:        envOrDefault("LOCAL_KOKORO_PYTHON", ""),
		LocalKokoroWorkerScript:  envOrDefault("LOCAL_KOKORO_WORKER_SCRIPT", "scripts/kokoro_worker.py"),
		LocalKokoroVoice:         envOrDefault("LOCAL_KOKORO_VOICE", "af_heart"),
		LocalKokoroLangCode:      envOrDefault("LOCAL_KOKORO_LANG_CODE", "a"),
		ElevenLabsAPIKey:         stringsTrimSpace("ELEVENLABS_API_KEY"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		FirstAudioSLO:            700 * time.Millisecond,

		SessionTTL:           30 * time.Minute,
		SessionSweepInterval: 5 * time.Minute,
		HeartbeatTimeout:     45 * time.Second,
		ICEGatherTimeout:     3 * time.Second,

		ToolExecutorMaxParallel: 10,
		ToolCallTimeout:         30 * time.Second,

		Phase1TimeoutMs:    60000,
		Phase1MaxToolCalls: 10,
		LLMRetries:         3,

		VADPositiveThreshold: 0.5,
		VADNegativeThreshold: 0.35,
		VADMinSpeechFrames:   5,
		VADRedemptionFrames:  50,
		VADPreSpeechPad:      10,

		PlaybookEnabled: false,
		PlaybookPath:    envOrDefault("PLAYBOOK_PATH", ""),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstAudioSLO, err = durationFromEnv("APP_FIRST_AUDIO_SLO", cfg.FirstAudioSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.SessionTTL, err = durationFromEnv("GATEWAY_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("GATEWAY_SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatTimeout, err = durationFromEnv("GATEWAY_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ICEGatherTimeout, err = durationFromEnv("GATEWAY_ICE_GATHER_TIMEOUT", cfg.ICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolCallTimeout, err = durationFromEnv("GATEWAY_TOOL_CALL_TIMEOUT", cfg.ToolCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolExecutorMaxParallel, err = intFromEnv("GATEWAY_TOOL_MAX_PARALLEL", cfg.ToolExecutorMaxParallel)
	if err != nil {
		return Config{}, err
	}
	phase1Timeout, err := durationFromEnv("GATEWAY_PHASE1_TIMEOUT", time.Duration(cfg.Phase1TimeoutMs)*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg.Phase1TimeoutMs = phase1Timeout.Milliseconds()
	cfg.Phase1MaxToolCalls, err = intFromEnv("GATEWAY_PHASE1_MAX_TOOL_CALLS", cfg.Phase1MaxToolCalls)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMRetries, err = intFromEnv("GATEWAY_LLM_RETRIES", cfg.LLMRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPositiveThreshold, err = floatFromEnv("GATEWAY_VAD_POSITIVE_THRESHOLD", cfg.VADPositiveThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADNegativeThreshold, err = floatFromEnv("GATEWAY_VAD_NEGATIVE_THRESHOLD", cfg.VADNegativeThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADMinSpeechFrames, err = intFromEnv("GATEWAY_VAD_MIN_SPEECH_FRAMES", cfg.VADMinSpeechFrames)
	if err != nil {
		return Config{}, err
	}
	cfg.VADRedemptionFrames, err = intFromEnv("GATEWAY_VAD_REDEMPTION_FRAMES", cfg.VADRedemptionFrames)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPreSpeechPad, err = intFromEnv("GATEWAY_VAD_PRE_SPEECH_PAD", cfg.VADPreSpeechPad)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybookEnabled, err = boolFromEnv("GATEWAY_PLAYBOOK_ENABLED", cfg.PlaybookEnabled)
	if err != nil {
		return Config{}, err
	}

	cfg.LocalWhisperThreads, err = intFromEnv("LOCAL_WHISPER_THREADS", cfg.LocalWhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.LocalWhisperBeamSize, err = intFromEnv("LOCAL_WHISPER_BEAM_SIZE", cfg.LocalWhisperBeamSize)
	if err != nil {
		return Config{}, err
	}
	cfg.LocalWhisperBestOf, err = intFromEnv("LOCAL_WHISPER_BEST_OF", cfg.LocalWhisperBestOf)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.LocalWhisperThreads < 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_THREADS must be >= 0")
	}
	if cfg.LocalWhisperBeamSize <= 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_BEAM_SIZE must be positive")
	}
	if cfg.LocalWhisperBestOf <= 0 {
		return Config{}, fmt.Errorf("LOCAL_WHISPER_BEST_OF must be positive")
	}
	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("GATEWAY_SESSION_TTL must be at least 5s")
	}
	if cfg.HeartbeatTimeout < time.Second {
		return Config{}, fmt.Errorf("GATEWAY_HEARTBEAT_TIMEOUT must be at least 1s")
	}
	if cfg.ToolExecutorMaxParallel <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_TOOL_MAX_PARALLEL must be positive")
	}
	if cfg.Phase1MaxToolCalls <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_PHASE1_MAX_TOOL_CALLS must be positive")
	}
	if cfg.LLMRetries < 0 {
		return Config{}, fmt.Errorf("GATEWAY_LLM_RETRIES must be >= 0")
	}
	if cfg.PlaybookEnabled && cfg.PlaybookPath == "" {
		return Config{}, fmt.Errorf("PLAYBOOK_PATH must be set when GATEWAY_PLAYBOOK_ENABLED is true")
	}
	if cfg.VADPositiveThreshold <= cfg.VADNegativeThreshold {
		return Config{}, fmt.Errorf("GATEWAY_VAD_POSITIVE_THRESHOLD must be greater than GATEWAY_VAD_NEGATIVE_THRESHOLD")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
