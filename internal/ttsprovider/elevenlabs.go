package ttsprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ElevenLabsConfig configures the hosted ElevenLabs REST TTS endpoints.
type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string // default https://api.elevenlabs.io
	ModelID      string // default eleven_multilingual_v2
	OutputFormat string // default pcm_24000
	SampleRate   int    // default 24000, must match OutputFormat's rate
	HTTPClient   *http.Client
}

// ElevenLabs synthesizes speech via ElevenLabs' REST text-to-speech API
// (one-shot `/v1/text-to-speech/{voice_id}` and its chunked
// `/stream` variant), rather than the realtime websocket session the
// hosted API also exposes — the gateway speaks one already-chunked
// sentence at a time (§4.4 Step C), so a request/response call per
// sentence fits the turn pipeline better than a persisted duplex session.
type ElevenLabs struct {
	cfg ElevenLabsConfig
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_24000"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = sampleRateForOutputFormat(cfg.OutputFormat)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabs{cfg: cfg}
}

func sampleRateForOutputFormat(format string) int {
	switch {
	case strings.HasSuffix(format, "_16000"):
		return 16000
	case strings.HasSuffix(format, "_22050"):
		return 22050
	case strings.HasSuffix(format, "_44100"):
		return 44100
	default:
		return 24000
	}
}

func (p *ElevenLabs) Name() string     { return "elevenlabs" }
func (p *ElevenLabs) Streamable() bool { return true }

func (p *ElevenLabs) Speak(ctx context.Context, text string, settings Settings) (Chunk, error) {
	resp, err := p.request(ctx, text, settings, false)
	if err != nil {
		return Chunk{}, err
	}
	defer resp.Body.Close()
	pcm, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{PCM: pcm, SampleRate: p.cfg.SampleRate}, nil
}

func (p *ElevenLabs) Stream(ctx context.Context, text string, settings Settings, onChunk ChunkHandler) error {
	resp, err := p.request(ctx, text, settings, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := onChunk(Chunk{PCM: chunk, SampleRate: p.cfg.SampleRate}); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (p *ElevenLabs) request(ctx context.Context, text string, settings Settings, stream bool) (*http.Response, error) {
	voiceID := strings.TrimSpace(settings.VoiceID)
	if voiceID == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	modelID := strings.TrimSpace(settings.ModelID)
	if modelID == "" {
		modelID = p.cfg.ModelID
	}

	stability, similarity, speed := clampVoiceSettings(0, 0, settings.Speed)

	path := "/v1/text-to-speech/" + url.PathEscape(voiceID)
	if stream {
		path += "/stream"
	}
	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + path)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	body := map[string]any{
		"text":     text,
		"model_id": modelID,
		"voice_settings": map[string]any{
			"stability":        stability,
			"similarity_boost": similarity,
			"speed":            speed,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs tts request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("elevenlabs tts HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// clampVoiceSettings applies the same defaults/bounds the teacher's
// realtime websocket session used, so switching transports doesn't change
// what a given `Settings.Speed` sounds like.
func clampVoiceSettings(stability, similarity, speed float64) (float64, float64, float64) {
	if stability <= 0 {
		stability = 0.42
	}
	if stability > 1 {
		stability = 1
	}

	if similarity <= 0 {
		similarity = 0.85
	}
	if similarity > 1 {
		similarity = 1
	}

	if speed <= 0 {
		speed = 1.0
	}
	if speed < 0.7 {
		speed = 0.7
	} else if speed > 1.2 {
		speed = 1.2
	}

	return stability, similarity, speed
}
