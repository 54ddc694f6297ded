package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mago-voice-backend/internal/audio"
	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/reply"
	"mago-voice-backend/internal/speech"
)

type Config struct {
	Port          string
	AllowedOrigin string
	LogLevel      string

	OpenAIAPIKey string
	Model        string
	TTSModel     string
	STTModel     string
	ElevenAPIKey string
	ElevenModel  string
	ElevenVoice  string
	TTSProvider  string // openai, elevenlabs, or a comma-separated fallback order

	OpenWeatherAPIKey string
	NewsAPIKey        string
	NewsCountry       string
	DefaultCity       string
	TimeZone          string

	PersonasFile   string
	DefaultPersona string

	AudioPolicy  string
	AudioKeyMode string
	SynthTimeout time.Duration
	SynthWorkers int

	ProviderTimeout    time.Duration
	ReplyTimeout       time.Duration
	ContextMaxMessages int
	ContextMaxChars    int

	// Storage
	StoreBackend   string // file, bolt, afs, postgres
	StorePath      string
	StoreURL       string
	DatabaseURL    string
	RemoteStoreURL string

	// Retention
	RetentionEnabled    bool
	RetentionMaxAgeDays int
	RetentionPinnedDays []string
	RetentionInterval   time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:          getEnvDefault("PORT", "8080"),
		AllowedOrigin: getEnvDefault("ALLOWED_ORIGIN", "*"),
		LogLevel:      getEnvDefault("LOG_LEVEL", "info"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		Model:        getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		TTSModel:     getEnvDefault("OPENAI_TTS_MODEL", "tts-1"),
		STTModel:     getEnvDefault("OPENAI_STT_MODEL", "whisper-1"),
		ElevenAPIKey: os.Getenv("ELEVEN_API_KEY"),
		ElevenModel:  getEnvDefault("ELEVEN_MODEL_ID", "eleven_flash_v2_5"),
		ElevenVoice:  os.Getenv("ELEVEN_VOICE_ID"),
		TTSProvider:  getEnvDefault("TTS_PROVIDER", "openai"),

		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		NewsAPIKey:        os.Getenv("NEWS_API_KEY"),
		NewsCountry:       getEnvDefault("NEWS_COUNTRY", "jp"),
		DefaultCity:       getEnvDefault("DEFAULT_CITY", "東京"),
		TimeZone:          getEnvDefault("TIME_ZONE", "Asia/Tokyo"),

		PersonasFile:   getEnvDefault("PERSONAS_FILE", "config/personas.yaml"),
		DefaultPersona: os.Getenv("DEFAULT_PERSONA"),

		AudioPolicy:  getEnvDefault("AUDIO_POLICY", string(speech.PolicyBlocking)),
		AudioKeyMode: getEnvDefault("AUDIO_KEY_MODE", string(audio.KeyPerTurn)),
		SynthTimeout: getEnvDurationDefault("SYNTH_TIMEOUT", speech.DefaultTimeout),
		SynthWorkers: getEnvIntDefault("SYNTH_WORKERS", 4),

		ProviderTimeout:    getEnvDurationDefault("PROVIDER_TIMEOUT", 6*time.Second),
		ReplyTimeout:       getEnvDurationDefault("REPLY_TIMEOUT", reply.DefaultTimeout),
		ContextMaxMessages: getEnvIntDefault("CONTEXT_MAX_MESSAGES", reply.DefaultWindow.MaxMessages),
		ContextMaxChars:    getEnvIntDefault("CONTEXT_MAX_CHARS", reply.DefaultWindow.MaxChars),

		StoreBackend:   getEnvDefault("STORE_BACKEND", "file"),
		StorePath:      getEnvDefault("STORE_PATH", "data"),
		StoreURL:       os.Getenv("STORE_URL"),
		DatabaseURL:    os.Getenv("DB_URL"),
		RemoteStoreURL: os.Getenv("REMOTE_STORE_URL"),

		RetentionEnabled:    getEnvBoolDefault("RETENTION_ENABLED", true),
		RetentionMaxAgeDays: getEnvIntDefault("RETENTION_MAX_AGE_DAYS", 30),
		RetentionPinnedDays: getEnvListDefault("RETENTION_PINNED_DAYS", nil),
		RetentionInterval:   getEnvDurationDefault("RETENTION_INTERVAL", time.Hour),
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY is not set; the server will refuse to start")
	}
	return cfg
}

// Validate checks required credentials and enum values. The server calls it
// before listening and exits on error.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if _, err := speech.ParsePolicy(c.AudioPolicy); err != nil {
		errs = append(errs, fmt.Errorf("AUDIO_POLICY: %w", err))
	}
	if _, err := audio.ParseKeyMode(c.AudioKeyMode); err != nil {
		errs = append(errs, fmt.Errorf("AUDIO_KEY_MODE: %w", err))
	}
	for _, p := range c.TTSProviders() {
		switch p {
		case "openai":
		case "elevenlabs":
			if c.ElevenAPIKey == "" {
				errs = append(errs, errors.New("TTS_PROVIDER elevenlabs needs ELEVEN_API_KEY"))
			}
		default:
			errs = append(errs, fmt.Errorf("TTS_PROVIDER: unknown provider %q", p))
		}
	}
	switch c.StoreBackend {
	case "file", "bolt":
	case "afs":
		if c.StoreURL == "" {
			errs = append(errs, errors.New("STORE_BACKEND afs needs STORE_URL"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("STORE_BACKEND postgres needs DB_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend))
	}
	if c.SynthWorkers < 1 {
		errs = append(errs, fmt.Errorf("SYNTH_WORKERS must be positive, got %d", c.SynthWorkers))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Personas(); err != nil {
		errs = append(errs, fmt.Errorf("personas: %w", err))
	}
	return errors.Join(errs...)
}

// TTSProviders returns the synthesizers in fallback order.
func (c Config) TTSProviders() []string {
	var out []string
	for _, p := range strings.Split(c.TTSProvider, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Policy() speech.Policy {
	p, _ := speech.ParsePolicy(c.AudioPolicy)
	return p
}

func (c Config) KeyMode() audio.KeyMode {
	m, _ := audio.ParseKeyMode(c.AudioKeyMode)
	return m
}

func (c Config) Window() reply.Window {
	return reply.Window{MaxMessages: c.ContextMaxMessages, MaxChars: c.ContextMaxChars}
}

// Location resolves TIME_ZONE. Asia/Tokyo falls back to a fixed +09:00 zone
// on hosts without tzdata.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err == nil {
		return loc, nil
	}
	if c.TimeZone == "Asia/Tokyo" || c.TimeZone == "JST" {
		return time.FixedZone("JST", 9*60*60), nil
	}
	return nil, fmt.Errorf("TIME_ZONE %q: %w", c.TimeZone, err)
}

// Personas loads the persona table from PersonasFile. A missing file yields
// the built-in table.
func (c Config) Personas() (*reply.Personas, error) {
	if c.PersonasFile != "" {
		if _, err := os.Stat(c.PersonasFile); err == nil {
			t, err := reply.LoadPersonas(c.PersonasFile)
			if err != nil {
				return nil, err
			}
			if c.DefaultPersona != "" {
				if _, err := t.Get(c.DefaultPersona); err != nil {
					return nil, err
				}
			}
			return t, nil
		}
	}
	return reply.NewPersonas("", BuiltinPersona)
}

// BuiltinPersona is used when no persona file is present.
var BuiltinPersona = reply.Persona{
	ID:                    "yuukun",
	VoiceID:               "nova",
	SystemInstruction:     "あなたは明るく元気な孫のゆうくんです。自然に短く話してね。",
	ForbiddenAddressTerms: []string{"おばあちゃん", "おじいちゃん"},
	AddressAs:             "まーちゃん",
	Register:              "やさしいタメ口",
	Temperature:           0.7,
	MaxTokens:             200,
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn("ignoring invalid integer setting", "key", key, "value", v)
	}
	return def
}

// getEnvDurationDefault accepts Go durations ("30s") or plain seconds ("30").
func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warn("ignoring invalid duration setting", "key", key, "value", v)
	return def
}
