package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.VoiceProvider != "auto" {
		t.Fatalf("VoiceProvider = %q, want auto", cfg.VoiceProvider)
	}
	if cfg.SessionTTL.String() != "30m0s" {
		t.Fatalf("SessionTTL = %v, want 30m0s", cfg.SessionTTL)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.PlaybookEnabled {
		t.Fatalf("PlaybookEnabled = true, want false by default")
	}
}

func TestLoadUsesExplicitDatabaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/gateway")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/gateway" {
		t.Fatalf("DatabaseURL = %q, want explicit value", cfg.DatabaseURL)
	}
}

func TestLoadRejectsPlaybookEnabledWithoutPath(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GATEWAY_PLAYBOOK_ENABLED", "true")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error for PlaybookEnabled without PlaybookPath")
	}
}

func TestLoadRejectsBadVADThresholds(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GATEWAY_VAD_POSITIVE_THRESHOLD", "0.2")
	t.Setenv("GATEWAY_VAD_NEGATIVE_THRESHOLD", "0.5")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error when positive threshold <= negative threshold")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_FIRST_AUDIO_SLO",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"VOICE_PROVIDER",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"ELEVENLABS_STT_COMMIT_STRATEGY",
		"LOCAL_WHISPER_CLI",
		"LOCAL_WHISPER_MODEL_PATH",
		"LOCAL_WHISPER_LANGUAGE",
		"LOCAL_WHISPER_THREADS",
		"LOCAL_WHISPER_BEAM_SIZE",
		"LOCAL_WHISPER_BEST_OF",
		"LOCAL_KOKORO_PYTHON",
		"LOCAL_KOKORO_WORKER_SCRIPT",
		"LOCAL_KOKORO_VOICE",
		"LOCAL_KOKORO_LANG_CODE",
		"DATABASE_URL",
		"GATEWAY_SESSION_TTL",
		"GATEWAY_SESSION_SWEEP_INTERVAL",
		"GATEWAY_HEARTBEAT_TIMEOUT",
		"GATEWAY_ICE_GATHER_TIMEOUT",
		"GATEWAY_TOOL_CALL_TIMEOUT",
		"GATEWAY_TOOL_MAX_PARALLEL",
		"GATEWAY_PHASE1_TIMEOUT",
		"GATEWAY_PHASE1_MAX_TOOL_CALLS",
		"GATEWAY_LLM_RETRIES",
		"GATEWAY_VAD_POSITIVE_THRESHOLD",
		"GATEWAY_VAD_NEGATIVE_THRESHOLD",
		"GATEWAY_VAD_MIN_SPEECH_FRAMES",
		"GATEWAY_VAD_REDEMPTION_FRAMES",
		"GATEWAY_VAD_PRE_SPEECH_PAD",
		"GATEWAY_PLAYBOOK_ENABLED",
		"PLAYBOOK_PATH",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
