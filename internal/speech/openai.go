package speech

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"mago-voice-backend/internal/upstream"
)

const providerOpenAITTS = "openai-tts"

var openAIVoices = map[string]bool{
	"alloy": true, "echo": true, "fable": true, "onyx": true, "nova": true, "shimmer": true,
}

// OpenAI synthesizes speech with the OpenAI audio/speech endpoint.
type OpenAI struct {
	client       *openai.Client
	model        string
	defaultVoice string
}

// NewOpenAI creates an OpenAI synthesizer. Voice IDs that are not OpenAI
// voices (e.g. ElevenLabs IDs from a persona) fall back to defaultVoice.
func NewOpenAI(client *openai.Client, model, defaultVoice string) *OpenAI {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if !openAIVoices[defaultVoice] {
		defaultVoice = "nova"
	}
	return &OpenAI{client: client, model: model, defaultVoice: defaultVoice}
}

// Synthesize implements Synthesizer.
func (o *OpenAI) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice := strings.ToLower(strings.TrimSpace(voiceID))
	if !openAIVoices[voice] {
		voice = o.defaultVoice
	}

	body, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, upstream.Classify(providerOpenAITTS, err)
	}
	defer body.Close()

	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, upstream.Classify(providerOpenAITTS, fmt.Errorf("read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, upstream.Malformed(providerOpenAITTS, "empty audio body")
	}
	return &Result{Audio: audio, ContentType: contentTypeMP3, Provider: providerOpenAITTS}, nil
}
