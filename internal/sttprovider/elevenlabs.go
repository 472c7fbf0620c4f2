package sttprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ElevenLabsConfig configures the hosted ElevenLabs REST speech-to-text
// endpoint.
type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string // default https://api.elevenlabs.io
	ModelID    string // default scribe_v1
	HTTPClient *http.Client
}

// ElevenLabs transcribes via ElevenLabs' one-shot REST
// `/v1/speech-to-text` endpoint. The hosted API also exposes a realtime
// websocket session, but the gateway already assembles a complete
// utterance (VAD-gated) before calling Transcribe (§4.2/§4.3), so a
// single multipart upload per utterance is the natural fit.
type ElevenLabs struct {
	cfg ElevenLabsConfig
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabs{cfg: cfg}
}

func (p *ElevenLabs) Name() string { return "elevenlabs" }

func (p *ElevenLabs) Transcribe(ctx context.Context, wav []byte) (Result, error) {
	if len(wav) == 0 {
		return Result{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, err
	}
	if _, err := fw.Write(wav); err != nil {
		return Result{}, err
	}
	if err := mw.WriteField("model_id", p.cfg.ModelID); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/speech-to-text", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("elevenlabs stt request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("elevenlabs stt HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Text                string  `json:"text"`
		LanguageProbability float64 `json:"language_probability"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return Result{}, err
	}

	confidence := out.LanguageProbability
	if confidence <= 0 {
		confidence = 1.0
	}
	return Result{Text: strings.TrimSpace(out.Text), Confidence: confidence}, nil
}
