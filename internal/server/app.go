package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"mago-voice-backend/internal/audio"
	"mago-voice-backend/internal/config"
	"mago-voice-backend/internal/dispatch"
	"mago-voice-backend/internal/intent"
	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/provider"
	"mago-voice-backend/internal/reply"
	"mago-voice-backend/internal/speech"
	"mago-voice-backend/internal/store"
)

// App is the wired service: HTTP surface, pipeline, janitor and storage.
type App struct {
	Server   *Server
	Pipeline *dispatch.Pipeline
	Janitor  *store.Janitor
	storage  *store.Opened
}

// Build wires every component from cfg. cfg should already be validated.
func Build(cfg config.Config) (*App, error) {
	zone, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	personas, err := cfg.Personas()
	if err != nil {
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}
	if cfg.DefaultPersona != "" {
		if personas, err = reply.NewPersonas(cfg.DefaultPersona, listPersonas(personas)...); err != nil {
			return nil, err
		}
	}

	storage, err := store.Open(store.Settings{
		Kind:        cfg.StoreBackend,
		Path:        cfg.StorePath,
		URL:         cfg.StoreURL,
		DatabaseURL: cfg.DatabaseURL,
		RemoteURL:   cfg.RemoteStoreURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	conversations := store.NewConversationStore(storage.Backend, zone)
	sessions := store.NewMemoryStore(2 * cfg.Window().MaxMessages)

	client := openai.NewClient(cfg.OpenAIAPIKey)
	synth, err := buildSynthesizer(cfg, client)
	if err != nil {
		storage.Close()
		return nil, err
	}

	audioStore := audio.NewStore(storage.Backend, cfg.KeyMode())
	pipeline, err := dispatch.New(dispatch.Deps{
		Router:    intent.NewRouter(intent.WithDefaultCity(cfg.DefaultCity)),
		Facts:     provider.NewFacts(buildWeather(cfg, zone), buildNews(cfg), cfg.ProviderTimeout),
		Generator: reply.NewGenerator(client, cfg.Model, reply.WithWindow(cfg.Window()), reply.WithTimeout(cfg.ReplyTimeout)),
		Personas:  personas,
		Runner:    speech.NewRunner(synth, cfg.SynthWorkers, cfg.SynthTimeout),
		Audio:     audioStore,
		Store:     conversations,
		Sessions:  sessions,
		Policy:    cfg.Policy(),
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	janitor := store.NewJanitor(conversations, storage.Mirror, sessions, store.RetentionPolicy{
		MaxAgeDays: cfg.RetentionMaxAgeDays,
		PinnedDays: cfg.RetentionPinnedDays,
	}, cfg.RetentionInterval)

	srv := NewServer(cfg, Deps{
		Pipeline:    pipeline,
		Store:       conversations,
		Audio:       audioStore,
		Personas:    personas,
		Sessions:    sessions,
		Janitor:     janitor,
		Transcriber: client,
	})
	log.Info("service wired",
		"policy", cfg.Policy(),
		"key_mode", cfg.KeyMode(),
		"store", cfg.StoreBackend,
		"tts", cfg.TTSProviders(),
		"personas", personas.IDs(),
	)
	return &App{Server: srv, Pipeline: pipeline, Janitor: janitor, storage: storage}, nil
}

// Close waits for in-flight syntheses, then releases storage.
func (a *App) Close(ctx context.Context) error {
	err := a.Pipeline.Shutdown(ctx)
	return errors.Join(err, a.storage.Close())
}

func listPersonas(t *reply.Personas) []reply.Persona {
	ids := t.IDs()
	out := make([]reply.Persona, 0, len(ids))
	for _, id := range ids {
		p, _ := t.Get(id)
		out = append(out, p)
	}
	return out
}

func buildSynthesizer(cfg config.Config, client *openai.Client) (speech.Synthesizer, error) {
	var synths []speech.Synthesizer
	for _, name := range cfg.TTSProviders() {
		switch name {
		case "openai":
			synths = append(synths, speech.NewOpenAI(client, cfg.TTSModel, ""))
		case "elevenlabs":
			el, err := speech.NewElevenLabs(cfg.ElevenAPIKey, cfg.ElevenModel, cfg.ElevenVoice, "", nil)
			if err != nil {
				return nil, err
			}
			synths = append(synths, el)
		default:
			return nil, fmt.Errorf("unknown TTS provider %q", name)
		}
	}
	if len(synths) == 1 {
		return synths[0], nil
	}
	return speech.NewChain(synths...), nil
}

func buildWeather(cfg config.Config, zone *time.Location) provider.WeatherProvider {
	var openWeather provider.WeatherProvider
	if cfg.OpenWeatherAPIKey != "" {
		ow, err := provider.NewOpenWeather(cfg.OpenWeatherAPIKey, zone)
		if err != nil {
			log.Warn("openweather disabled", "error", err)
		} else {
			openWeather = ow
		}
	}
	return provider.NewWeatherChain(openWeather, provider.NewOpenMeteo("", "", nil))
}

func buildNews(cfg config.Config) provider.NewsProvider {
	if cfg.NewsAPIKey == "" {
		log.Warn("NEWS_API_KEY is not set; news lookups will use the fallback reply")
		return nil
	}
	n, err := provider.NewNewsAPI(cfg.NewsAPIKey, cfg.NewsCountry, "", nil)
	if err != nil {
		log.Warn("newsapi disabled", "error", err)
		return nil
	}
	return n
}
