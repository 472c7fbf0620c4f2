// Command gateway is the composition root for the realtime voice gateway:
// it loads configuration, builds the provider clients, session store, tool
// registry, and playbook set, wires them into an
// internal/supervisor.Supervisor, and serves the control-channel websocket
// plus health/metrics endpoints over HTTP until it receives SIGINT/SIGTERM.
// Shape grounded on `_examples/ent0n29-samantha/cmd/samantha/main.go`'s
// flag-free env-config startup, provider selection, and graceful-shutdown
// sequence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/turnframe/gateway/internal/config"
	"github.com/turnframe/gateway/internal/httpapi"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/obslog"
	"github.com/turnframe/gateway/internal/observability"
	"github.com/turnframe/gateway/internal/playbook"
	"github.com/turnframe/gateway/internal/session"
	"github.com/turnframe/gateway/internal/sessionstore"
	"github.com/turnframe/gateway/internal/sttprovider"
	"github.com/turnframe/gateway/internal/supervisor"
	"github.com/turnframe/gateway/internal/toolcall"
	"github.com/turnframe/gateway/internal/ttsprovider"
)

func main() {
	logger := obslog.New(slog.LevelInfo)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	stt, ttsClient, ttsCloser, sttCloser, err := buildVoiceProviders(cfg, logger)
	if err != nil {
		return fmt.Errorf("build voice providers: %w", err)
	}
	if sttCloser != nil {
		defer sttCloser()
	}
	if ttsCloser != nil {
		defer ttsCloser()
	}

	// No example repo in the retrieval pack ships a real LLM completion
	// client (none import an OpenAI/Anthropic/Ollama SDK); until one is
	// wired in, the gateway runs against the deterministic Mock so the
	// turn pipeline and playbook runner are still fully exercised end to
	// end.
	llm := llmprovider.Provider(&llmprovider.Mock{
		Responses: []llmprovider.Response{{Text: "I'm here — what can I help with?", StopReason: llmprovider.StopEndTurn}},
	})

	registry := toolcall.NewRegistry()
	toolDefs := map[string]llmprovider.ToolDefinition{}
	registerBuiltinTools(registry, toolDefs)

	executor := toolcall.NewExecutor(registry, toolcall.ExecutorConfig{
		MaxParallel:    cfg.ToolExecutorMaxParallel,
		PerCallTimeout: cfg.ToolCallTimeout,
		ValidateArgs:   true,
	})

	playbooks := playbook.NewSet()
	if cfg.PlaybookEnabled {
		def, err := playbook.LoadFile(cfg.PlaybookPath)
		if err != nil {
			return fmt.Errorf("load playbook: %w", err)
		}
		// The supervisor binds every playbook-mode session to the
		// playbook id "default" (internal/supervisor/conn.go's
		// handleReconnect); a file that declares a different id would
		// load but never get picked up.
		if def.ID != "default" {
			return fmt.Errorf("playbook %q at %s: id must be %q", def.ID, cfg.PlaybookPath, "default")
		}
		if err := playbooks.Register(def); err != nil {
			return fmt.Errorf("register playbook: %w", err)
		}
		logger.Info("playbook loaded", "id", def.ID, "path", cfg.PlaybookPath)
	}

	sessions := session.NewManager(cfg.SessionTTL)
	sessions.SetEndedRetention(cfg.SessionSweepInterval)

	var store *sessionstore.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = sessionstore.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer func() { _ = store.Close() }()
		// No composition root in the retrieval pack ships a concrete
		// RetentionHook; left nil (meaning "always retain") until a real
		// policy is plugged in, same nil-safe posture as Auth/RateLimiter.
		var retention observability.RetentionHook
		sessions.SetExpireHook(func(sess *session.Session) {
			persistExpiredSession(context.Background(), logger, store, retention, sess)
		})
		logger.Info("session durability enabled", "backend", "postgres")
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sessions.StartJanitor(sweepCtx, cfg.SessionSweepInterval)

	sup := supervisor.New(supervisor.Deps{
		Config:    cfg,
		Sessions:  sessions,
		LLM:       llm,
		TTS:       ttsClient,
		STT:       stt,
		ToolDefs:  toolDefs,
		Executor:  executor,
		Playbooks: playbooks,
		Metrics:   metrics,
	})

	server := httpapi.New(cfg, sup, metrics)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "voice_provider", cfg.VoiceProvider)
		serveErr <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	stopSweep()
	sessions.Destroy()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// buildVoiceProviders selects the STT/TTS backend per cfg.VoiceProvider:
// "elevenlabs" and "local" pick explicitly, "mock" forces the deterministic
// fakes, and "auto" (the default) prefers ElevenLabs when an API key is
// configured and falls back to the local whisper/kokoro subprocesses
// otherwise.
func buildVoiceProviders(cfg config.Config, logger *slog.Logger) (sttprovider.Provider, ttsprovider.Provider, func(), func(), error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		if cfg.ElevenLabsAPIKey != "" {
			mode = "elevenlabs"
		} else {
			mode = "local"
		}
	}

	switch mode {
	case "mock":
		return &sttprovider.Mock{Text: "hello"}, &ttsprovider.Mock{}, nil, nil, nil

	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			return nil, nil, nil, nil, errors.New("elevenlabs voice provider selected but ELEVENLABS_API_KEY is unset")
		}
		stt := sttprovider.NewElevenLabs(sttprovider.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			ModelID: cfg.ElevenLabsSTTModel,
		})
		tts := ttsprovider.NewElevenLabs(ttsprovider.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		return stt, tts, nil, nil, nil

	case "local":
		sttClient, err := sttprovider.StartLocalWhisper(sttprovider.LocalWhisperConfig{
			CLI:       cfg.LocalWhisperCLI,
			ModelPath: cfg.LocalWhisperModelPath,
			Language:  cfg.LocalWhisperLanguage,
			Threads:   cfg.LocalWhisperThreads,
			BeamSize:  cfg.LocalWhisperBeamSize,
			BestOf:    cfg.LocalWhisperBestOf,
		})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("start local whisper: %w", err)
		}
		ttsClient, err := ttsprovider.StartLocalKokoro(ttsprovider.LocalKokoroConfig{
			PythonPath:  cfg.LocalKokoroPython,
			ScriptPath:  cfg.LocalKokoroWorkerScript,
			DefaultLang: cfg.LocalKokoroLangCode,
			SampleRate:  24000,
		})
		if err != nil {
			_ = sttClient.Close()
			return nil, nil, nil, nil, fmt.Errorf("start local kokoro: %w", err)
		}
		logger.Info("local voice providers started", "stt", sttClient.Name(), "tts", ttsClient.Name())
		return sttClient, ttsClient, func() { _ = ttsClient.Close() }, func() { _ = sttClient.Close() }, nil

	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown VOICE_PROVIDER %q", cfg.VoiceProvider)
	}
}

// registerBuiltinTools installs the small set of tools every session gets
// regardless of playbook, mirroring the always-available "end the
// conversation" affordance `_examples/ent0n29-samantha/internal/tasks`
// exposed to its planner.
func registerBuiltinTools(registry *toolcall.Registry, defs map[string]llmprovider.ToolDefinition) {
	const endCall = "end_call"
	_ = registry.Register(endCall, toolcall.Schema{
		Type: "object",
		Properties: map[string]toolcall.Property{
			"reason": {Type: "string"},
		},
	}, func(ctx toolcall.Context, args string) (any, error) {
		var parsed struct {
			Reason string `json:"reason"`
		}
		if args != "" {
			if err := json.Unmarshal([]byte(args), &parsed); err != nil {
				return nil, err
			}
		}
		return map[string]any{"ended": true, "reason": parsed.Reason}, nil
	}, toolcall.Sequential)

	defs[endCall] = llmprovider.ToolDefinition{
		Name:        endCall,
		Description: "End the current conversation turn loop when the caller's request is fully satisfied.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
		},
	}
}

// persistExpiredSession flushes a session's conversation history to
// durable storage once the in-memory store is about to drop it, unless a
// configured RetentionHook says otherwise.
func persistExpiredSession(parent context.Context, logger *slog.Logger, store *sessionstore.Store, retention observability.RetentionHook, sess *session.Session) {
	if sess.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	sessionLogger := obslog.WithSession(logger, sess.ID)

	if retention != nil {
		keep, err := retention.ShouldRetain(ctx, sess.ID)
		if err != nil {
			sessionLogger.Warn("retention hook failed, defaulting to retain", "error", err)
		} else if !keep {
			return
		}
	}
	for _, msg := range sess.History.Messages() {
		record := sessionstore.TurnRecord{
			ID:        sess.ID + "-" + string(msg.Role) + "-" + time.Now().UTC().Format(time.RFC3339Nano),
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Role:      string(msg.Role),
			Content:   msg.Text,
		}
		if len(msg.ToolCalls) > 0 {
			record.ToolName = msg.ToolCalls[0].Name
		}
		if msg.Role == "tool" {
			record.ToolCallID = msg.ToolCallID
			record.ToolName = msg.ToolName
		}
		if err := store.SaveTurn(ctx, record); err != nil {
			sessionLogger.Warn("failed to persist expired session turn", "error", err)
			return
		}
	}
}
