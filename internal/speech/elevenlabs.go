package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mago-voice-backend/internal/httpc"
	"mago-voice-backend/internal/upstream"
)

const (
	elevenBaseURL      = "https://api.elevenlabs.io"
	elevenDefaultModel = "eleven_flash_v2_5"
	providerEleven     = "elevenlabs"
)

// ElevenLabs synthesizes speech with the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey       string
	model        string
	defaultVoice string
	baseURL      string
	client       *http.Client
}

// NewElevenLabs creates an ElevenLabs synthesizer.
func NewElevenLabs(apiKey, model, defaultVoice, baseURL string, client *http.Client) (*ElevenLabs, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("elevenlabs: %w: api key required", upstream.ErrAuth)
	}
	if model == "" {
		model = elevenDefaultModel
	}
	if baseURL == "" {
		baseURL = elevenBaseURL
	}
	if client == nil {
		client = httpc.Client
	}
	return &ElevenLabs{
		apiKey:       apiKey,
		model:        model,
		defaultVoice: defaultVoice,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
	}, nil
}

// Synthesize implements Synthesizer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice := strings.TrimSpace(voiceID)
	if voice == "" || openAIVoices[voice] {
		voice = e.defaultVoice
	}
	if voice == "" {
		return nil, upstream.Classify(providerEleven, fmt.Errorf("no voice configured"))
	}

	payload := map[string]any{
		"text":     text,
		"model_id": e.model,
		"voice_settings": map[string]any{
			"stability":         0.5,
			"similarity_boost":  0.7,
			"style":             0.2,
			"use_speaker_boost": true,
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", e.baseURL, url.PathEscape(voice))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, upstream.Classify(providerEleven, err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", contentTypeMP3)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, upstream.Classify(providerEleven, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstream.Classify(providerEleven, upstream.FromResponse(providerEleven, resp, bb))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.Classify(providerEleven, fmt.Errorf("read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, upstream.Malformed(providerEleven, "empty audio body")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentTypeMP3
	}
	return &Result{Audio: audio, ContentType: ct, Provider: providerEleven}, nil
}
