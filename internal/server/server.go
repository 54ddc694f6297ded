package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	openai "github.com/sashabaranov/go-openai"

	"mago-voice-backend/internal/audio"
	"mago-voice-backend/internal/config"
	"mago-voice-backend/internal/dispatch"
	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/reply"
	"mago-voice-backend/internal/speech"
	"mago-voice-backend/internal/store"
	"mago-voice-backend/internal/types"
)

const (
	audioPath      = "/api/audio"
	chatTimeout    = 60 * time.Second
	voiceTimeout   = 180 * time.Second
	maxUploadBytes = 32 << 20
)

// Transcriber turns uploaded speech into text. *openai.Client satisfies it.
type Transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Deps are the collaborators the HTTP surface exposes. Janitor, Sessions
// and Transcriber are optional.
type Deps struct {
	Pipeline    *dispatch.Pipeline
	Store       *store.ConversationStore
	Audio       *audio.Store
	Personas    *reply.Personas
	Sessions    *store.MemoryStore
	Janitor     *store.Janitor
	Transcriber Transcriber
}

type Server struct {
	router *chi.Mux
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Session-Id"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router: r,
		cfg:    cfg,
		deps:   deps,
		logger: log.Component("server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/voice", s.handleVoice)
	s.router.Delete("/api/session", s.handleEndSession)
	s.router.Get("/api/personas", s.handlePersonas)
	// Audio
	s.router.Get("/api/turns/{turnID}/audio", s.handleTurnAudio)
	s.router.Get(audioPath+"/{name}", s.handleAudio)
	// Conversation log
	s.router.Get("/api/days", s.handleDays)
	s.router.Get("/api/days/{day}", s.handleDay)
	s.router.Put("/api/days/{day}/pin", s.handlePin)
	s.router.Delete("/api/days/{day}/pin", s.handleUnpin)
	s.router.Post("/api/retention/sweep", s.handleSweep)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if hc, ok := s.deps.Store.Backend().(store.HealthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "store unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "policy": string(s.cfg.Policy())})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// blank text is a turn like any other; the pipeline answers it with the
	// persona's apology
	text := strings.TrimSpace(req.Utterance())
	sid := resolveSession(w, r, req.SessionID)

	ctx, cancel := context.WithTimeout(r.Context(), chatTimeout)
	defer cancel()
	resp, err := s.deps.Pipeline.Submit(ctx, dispatch.Request{Text: text, PersonaID: req.PersonaID, SessionID: sid})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	w.Header().Set("X-Session-Id", sid)
	s.writeJSON(w, http.StatusOK, s.chatResponse(resp, sid, ""))
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcriber == nil {
		s.writeError(w, http.StatusNotImplemented, "speech-to-text is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	sid := resolveSession(w, r, r.FormValue(sessionQuery))
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "audio file is required (field 'file')")
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), voiceTimeout)
	defer cancel()

	tr, err := s.deps.Transcriber.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.STTModel,
		Reader:   file,
		FilePath: header.Filename,
		Language: "ja",
	})
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	transcribed := strings.TrimSpace(tr.Text)
	if transcribed == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "empty transcription")
		return
	}

	resp, err := s.deps.Pipeline.Submit(ctx, dispatch.Request{Text: transcribed, PersonaID: r.FormValue("persona_id"), SessionID: sid})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	w.Header().Set("X-Session-Id", sid)
	s.writeJSON(w, http.StatusOK, s.chatResponse(resp, sid, transcribed))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if sid := sessionFrom(r, ""); sid != "" && s.deps.Sessions != nil {
		s.deps.Sessions.Clear(sid)
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if s.deps.Personas == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"personas": []string{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"personas": s.deps.Personas.IDs(),
		"default":  s.deps.Personas.Default().ID,
	})
}

func (s *Server) chatResponse(resp dispatch.Response, sid, transcript string) types.ChatResponse {
	out := types.ChatResponse{
		TurnID:     resp.TurnID,
		SessionID:  sid,
		Reply:      resp.Reply,
		Intent:     string(resp.Intent),
		PersonaID:  resp.PersonaID,
		Transcript: transcript,
		Audio:      s.audioStatus(resp.TurnID, dispatch.AudioState{Status: resp.AudioStatus, Ref: resp.Audio}),
	}
	if out.Audio != nil && out.Audio.URL != "" {
		out.AudioURL = out.Audio.URL
		out.Voice = out.Audio.URL
	}
	return out
}

// audioStatus renders a poll result. A failed synthesis is an explicit null.
func (s *Server) audioStatus(turnID string, st dispatch.AudioState) *types.AudioStatus {
	switch st.Status {
	case speech.StatusReady:
		if st.Ref == nil {
			return nil
		}
		return &types.AudioStatus{
			Status:  string(speech.StatusReady),
			URL:     audio.URL(audioPath, *st.Ref),
			Version: st.Ref.Version,
		}
	case speech.StatusPending:
		return &types.AudioStatus{
			Status:  string(speech.StatusPending),
			PollURL: "/api/turns/" + turnID + "/audio",
		}
	default:
		return nil
	}
}

func (s *Server) handleTurnAudio(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	st, err := s.deps.Pipeline.Poll(r.Context(), turnID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "turn not found")
		return
	}
	if err != nil {
		s.logger.Error("poll failed", "turn_id", turnID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	if out := s.audioStatus(turnID, st); out != nil {
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	s.writeJSON(w, http.StatusOK, types.AudioStatus{Status: string(speech.StatusFailed)})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	key := "audio/" + chi.URLParam(r, "name")
	if err := audio.ValidKey(key); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid audio key")
		return
	}
	data, err := s.deps.Audio.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "audio not found")
		return
	}
	if err != nil {
		s.logger.Error("reading audio failed", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "audio unavailable")
		return
	}
	if key == audio.FixedKey {
		// Overwritten by every turn.
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.deps.Store.ListDays(r.Context())
	if err != nil {
		s.logger.Error("listing days failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	pinned, err := s.deps.Store.PinnedDays(r.Context())
	if err != nil {
		s.logger.Error("listing pins failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if days == nil {
		days = []store.Day{}
	}
	if pinned == nil {
		pinned = []store.Day{}
	}
	s.writeJSON(w, http.StatusOK, types.DaysResponse{Days: days, Pinned: pinned})
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, ok := s.dayParam(w, r)
	if !ok {
		return
	}
	turns, err := s.deps.Store.GetDay(r.Context(), day)
	if err != nil {
		s.logger.Error("reading day failed", "day", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "reading day failed")
		return
	}
	s.writeJSON(w, http.StatusOK, types.DayResponse{Day: day, Turns: turns})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	day, ok := s.dayParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.Pin(r.Context(), day); err != nil {
		s.logger.Error("pin failed", "day", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "pin failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	day, ok := s.dayParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.Unpin(r.Context(), day); err != nil {
		s.logger.Error("unpin failed", "day", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "unpin failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var (
		report store.CleanupReport
		err    error
	)
	if s.deps.Janitor != nil {
		report, err = s.deps.Janitor.RunOnce(r.Context())
	} else {
		report, err = s.deps.Store.Cleanup(r.Context(), store.RetentionPolicy{
			MaxAgeDays: s.cfg.RetentionMaxAgeDays,
			PinnedDays: s.cfg.RetentionPinnedDays,
		})
	}
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) dayParam(w http.ResponseWriter, r *http.Request) (store.Day, bool) {
	day, _, err := store.ParseDay(chi.URLParam(r, "day"), s.deps.Store.Zone())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return "", false
	}
	return day, true
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, reply.ErrUnknownPersona) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("submit failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "could not handle utterance")
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
