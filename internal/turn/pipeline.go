package turn

import (
	"context"
	"strings"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/convo"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/reliability"
	"github.com/turnframe/gateway/internal/ttsprovider"
)

// Config holds the simple pipeline's tunables.
type Config struct {
	HistoryWindow int // non-system messages kept in an LLM request, default 8
	SystemPrompt  string
	Chunker       Chunker // nil uses DefaultChunker
	TTSSampleRate int     // default 24000, per §6
}

func DefaultConfig() Config {
	return Config{HistoryWindow: 8, TTSSampleRate: 24000}
}

// RunTurn implements `run_turn(utterance, ctx) -> stream<TurnEvent>` (C4).
// It drives STT, the LLM streaming/sentence-boundary loop, and the TTS
// chunk pump, emitting events to sink. It returns once the turn's event
// stream is exhausted (including on error or cancellation).
func RunTurn(
	ctx context.Context,
	cfg Config,
	history *convo.State,
	utteranceWAV []byte,
	attachments []convo.VisionAttachment,
	sttFn func(ctx context.Context, wav []byte) (string, error),
	llm llmprovider.Provider,
	tools []llmprovider.ToolDefinition,
	modelConfig llmprovider.ModelConfig,
	tts ttsprovider.Provider,
	ttsSettings ttsprovider.Settings,
	sink Sink,
) {
	text, err := sttFn(ctx, utteranceWAV)
	if err != nil {
		sink.Emit(ErrorEvent(apperrors.STT(err)))
		return
	}
	sink.Emit(Transcript(text, true))

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		sink.Emit(TTSComplete())
		return
	}

	history.EnsureSystem(cfg.SystemPrompt)
	history.Append(convo.Message{Role: convo.RoleUser, Text: text, Attachments: attachments})

	assembled, ttsStarted := RunLLMAndTTS(ctx, cfg, history, llm, tools, modelConfig, tts, ttsSettings, sink)
	_ = assembled

	window := cfg.HistoryWindow
	if window <= 0 {
		window = 8
	}
	history.TrimTo(window)

	if ttsStarted {
		sink.Emit(TTSComplete())
	}
}

// RunLLMAndTTS implements Step B + Step C of C4: stream the LLM, dispatch
// TTS per completed sentence, and append the assistant message to history.
// It returns the full assembled text and whether TTSStart was ever emitted.
// It is also the building block the Playbook Turn Runner's Phase 2 reuses.
func RunLLMAndTTS(
	ctx context.Context,
	cfg Config,
	history *convo.State,
	llm llmprovider.Provider,
	tools []llmprovider.ToolDefinition,
	modelConfig llmprovider.ModelConfig,
	tts ttsprovider.Provider,
	ttsSettings ttsprovider.Settings,
	sink Sink,
) (assembled string, ttsStarted bool) {
	req := llmprovider.Request{
		Messages: ToLLMMessages(history.Window(cfg.HistoryWindow)),
		Tools:    tools,
		Config:   modelConfig,
	}

	if !llm.Streamable() {
		resp, err := llm.Complete(ctx, req)
		if err != nil {
			sink.Emit(ErrorEvent(apperrors.LLM(err, reliability.IsRetryableLLMError(err))))
			return "", false
		}
		history.Append(convo.Message{Role: convo.RoleAssistant, Text: resp.Text})
		sink.Emit(LLMFinal(resp.Text))
		ttsStarted = dispatchTTS(ctx, resp.Text, cfg, tts, ttsSettings, sink, false)
		return resp.Text, ttsStarted
	}

	var sb strings.Builder
	pending := ""
	firstToken := true
	_ = firstToken // tracks the first content delta; no metric records time-to-first-token from it

	var streamErr error
	onDelta := func(d llmprovider.Delta) error {
		if d.Content != "" {
			if firstToken {
				firstToken = false
			}
			sb.WriteString(d.Content)
			pending += d.Content
			complete, rest := SplitComplete(pending, cfg.Chunker)
			for _, sentence := range FilterEmpty(complete) {
				if !ttsStarted {
					sink.Emit(TTSStart())
					ttsStarted = true
				}
				if err := StreamSentence(ctx, sentence, cfg, tts, ttsSettings, sink); err != nil {
					sink.Emit(ErrorEvent(apperrors.TTS(err)))
				}
			}
			pending = rest
		}
		return ctx.Err()
	}

	resp, err := llm.Stream(ctx, req, onDelta)
	if err != nil {
		streamErr = err
	}
	if streamErr != nil {
		sink.Emit(ErrorEvent(apperrors.LLM(streamErr, reliability.IsRetryableLLMError(streamErr))))
		return sb.String(), ttsStarted
	}

	if strings.TrimSpace(pending) != "" {
		if !ttsStarted {
			sink.Emit(TTSStart())
			ttsStarted = true
		}
		if err := StreamSentence(ctx, pending, cfg, tts, ttsSettings, sink); err != nil {
			sink.Emit(ErrorEvent(apperrors.TTS(err)))
		}
	}

	full := sb.String()
	history.Append(convo.Message{Role: convo.RoleAssistant, Text: full, ToolCalls: ToConvoToolCalls(resp.ToolCalls)})
	sink.Emit(LLMFinal(full))
	return full, ttsStarted
}

// dispatchTTS synthesizes text as a single sentence (used by the
// non-streaming LLM fallback path, where there's no incremental boundary
// detection).
func dispatchTTS(ctx context.Context, text string, cfg Config, tts ttsprovider.Provider, settings ttsprovider.Settings, sink Sink, started bool) bool {
	return SpeakText(ctx, text, cfg, tts, settings, sink) || started
}

// SpeakText synthesizes a fully-known (non-streaming) body of text,
// sentence by sentence, emitting TTSStart on the first non-empty sentence.
// It is the Playbook Turn Runner's (C6) Phase 2 entry point for a
// final-answer text that was already produced during Phase 1, and the
// simple pipeline's fallback path for a non-streaming LLM response.
func SpeakText(ctx context.Context, text string, cfg Config, tts ttsprovider.Provider, settings ttsprovider.Settings, sink Sink) bool {
	started := false
	complete, rest := SplitComplete(text, cfg.Chunker)
	for _, sentence := range FilterEmpty(complete) {
		if !started {
			sink.Emit(TTSStart())
			started = true
		}
		if err := StreamSentence(ctx, sentence, cfg, tts, settings, sink); err != nil {
			sink.Emit(ErrorEvent(apperrors.TTS(err)))
		}
	}
	if trimmed := strings.TrimSpace(rest); trimmed != "" {
		if !started {
			sink.Emit(TTSStart())
			started = true
		}
		if err := StreamSentence(ctx, trimmed, cfg, tts, settings, sink); err != nil {
			sink.Emit(ErrorEvent(apperrors.TTS(err)))
		}
	}
	return started
}

// StreamSentence implements Step C for one sentence: stream from the
// provider if supported, falling back to a single non-streaming call on
// stream error.
func StreamSentence(ctx context.Context, sentence string, cfg Config, tts ttsprovider.Provider, settings ttsprovider.Settings, sink Sink) error {
	rate := cfg.TTSSampleRate
	if rate == 0 {
		rate = 24000
	}

	if tts.Streamable() {
		err := tts.Stream(ctx, sentence, settings, func(c ttsprovider.Chunk) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sr := c.SampleRate
			if sr == 0 {
				sr = rate
			}
			sink.Emit(TTSChunk(c.PCM, sr, sentence))
			return nil
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil // cancellation is not a TTS failure
		}
		// fall through to non-streaming fallback for just this sentence
	}

	chunk, err := tts.Speak(ctx, sentence, settings)
	if err != nil {
		return err
	}
	sr := chunk.SampleRate
	if sr == 0 {
		sr = rate
	}
	sink.Emit(TTSChunk(chunk.PCM, sr, sentence))
	return nil
}

// ToLLMMessages converts a convo.Message window into the llmprovider wire
// shape; exported for the Playbook Turn Runner's own request construction.
func ToLLMMessages(msgs []convo.Message) []llmprovider.Message {
	out := make([]llmprovider.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llmprovider.Message{
			Role:       string(m.Role),
			Content:    m.Text,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llmprovider.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, lm)
	}
	return out
}

// ToConvoToolCalls converts provider tool calls into the conversation
// history's shape.
func ToConvoToolCalls(tcs []llmprovider.ToolCall) []convo.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]convo.ToolCall, len(tcs))
	for i, tc := range tcs {
		out[i] = convo.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	return out
}
