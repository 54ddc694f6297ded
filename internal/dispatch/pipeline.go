// Package dispatch turns one utterance into a persisted turn: it routes the
// utterance, produces the reply, synthesizes audio per the deployment's
// policy and records the result.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mago-voice-backend/internal/audio"
	"mago-voice-backend/internal/intent"
	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/provider"
	"mago-voice-backend/internal/reply"
	"mago-voice-backend/internal/speech"
	"mago-voice-backend/internal/store"
)

// saveTimeout bounds writing one audio artifact or turn update.
const saveTimeout = 10 * time.Second

// Request is one inbound utterance.
type Request struct {
	Text      string `json:"text"`
	PersonaID string `json:"persona_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is what the caller gets back for a submitted utterance. Audio is
// set only when AudioStatus is ready; a pending turn is polled with Poll.
type Response struct {
	TurnID      string
	Day         store.Day
	Reply       string
	Intent      intent.Tag
	PersonaID   string
	Audio       *audio.Ref
	AudioStatus speech.Status
}

// AudioState is the poll result for a turn's audio.
type AudioState struct {
	Status speech.Status
	Ref    *audio.Ref
}

// Deps are the collaborators of a Pipeline. Sessions is optional.
type Deps struct {
	Router    *intent.Router
	Facts     *provider.Facts
	Generator *reply.Generator
	Personas  *reply.Personas
	Runner    *speech.Runner
	Audio     *audio.Store
	Store     *store.ConversationStore
	Sessions  *store.MemoryStore
	Policy    speech.Policy
}

type Option func(*Pipeline)

// WithClock overrides the clock used for turn timestamps and canned replies.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline orchestrates one turn. It is safe for concurrent use.
type Pipeline struct {
	Deps
	now    func() time.Time
	tasks  *registry
	logger *slog.Logger
}

func New(d Deps, opts ...Option) (*Pipeline, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"router":    d.Router != nil,
		"facts":     d.Facts != nil,
		"generator": d.Generator != nil,
		"personas":  d.Personas != nil,
		"runner":    d.Runner != nil,
		"audio":     d.Audio != nil,
		"store":     d.Store != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New("dispatch: missing collaborators: " + strings.Join(missing, ", "))
	}
	if d.Policy == "" {
		d.Policy = speech.PolicyBlocking
	}
	p := &Pipeline{
		Deps:   d,
		now:    time.Now,
		tasks:  newRegistry(),
		logger: log.Component("dispatch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Submit handles one utterance. Cancelling ctx after Submit starts does not
// undo the reply, the synthesis or the persistence. The only error is an
// unknown persona; upstream and storage failures degrade instead.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Response, error) {
	persona, err := p.Personas.Get(req.PersonaID)
	if err != nil {
		return Response{}, err
	}
	ctx = context.WithoutCancel(ctx)
	start := p.now()

	text := strings.TrimSpace(req.Text)
	turn := store.Turn{
		ID:        store.NewTurnID(start, p.Store.Zone()),
		Timestamp: start,
		Utterance: text,
		State:     store.StateCreated,
		PersonaID: persona.ID,
		SessionID: req.SessionID,
	}
	day := p.Store.DayFor(start)

	route := p.Router.Classify(text)
	turn.Intent = string(route.Tag)
	turn.Reply = p.handle(ctx, route, text, persona, req.SessionID)
	turn.State = store.StateReplyReady
	p.remember(req.SessionID, text, turn.Reply)

	resp := Response{
		TurnID:    turn.ID,
		Day:       day,
		Reply:     turn.Reply,
		Intent:    route.Tag,
		PersonaID: persona.ID,
	}

	turn.State = store.StateAudioPending
	if p.Policy == speech.PolicyBackground {
		p.persist(ctx, day, turn)
		p.tasks.add(turn.ID, start)
		p.startAudio(ctx, turn.ID, turn.Reply, persona.VoiceID, func(ref *audio.Ref) {
			p.tasks.settle(turn.ID, ref)
			p.settle(ctx, turn.ID, ref)
		})
		resp.AudioStatus = speech.StatusPending
		p.logTurn(turn, resp, start)
		return resp, nil
	}

	var ref *audio.Ref
	task := p.startAudio(ctx, turn.ID, turn.Reply, persona.VoiceID, func(r *audio.Ref) { ref = r })
	_, _ = task.Wait(ctx)

	turn.Audio = ref
	if ref != nil {
		turn.State = store.StateAudioReady
		resp.Audio = ref
		resp.AudioStatus = speech.StatusReady
	} else {
		turn.State = store.StateAudioFailed
		resp.AudioStatus = speech.StatusFailed
	}
	turn.State = store.StatePersisted
	p.persist(ctx, day, turn)
	p.logTurn(turn, resp, start)
	return resp, nil
}

// startAudio synthesizes text and stores the artifact. onSettled receives
// the reference, or nil when synthesis or storage failed, before the task
// completes.
func (p *Pipeline) startAudio(ctx context.Context, turnID, text, voiceID string, onSettled func(*audio.Ref)) *speech.Task {
	return p.Runner.Start(ctx, text, voiceID, func(res *speech.Result, err error) {
		if err != nil {
			onSettled(nil)
			return
		}
		onSettled(p.saveAudio(ctx, turnID, res))
	})
}

func (p *Pipeline) saveAudio(ctx context.Context, turnID string, res *speech.Result) *audio.Ref {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	ref, err := p.Audio.Put(ctx, turnID, res.Audio)
	if err != nil {
		p.logger.Error("storing audio failed", "turn_id", turnID, "error", err)
		return nil
	}
	return &ref
}

func (p *Pipeline) persist(ctx context.Context, day store.Day, turn store.Turn) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := p.Store.AppendTurn(ctx, day, turn); err != nil {
		p.logger.Error("persisting turn failed", "turn_id", turn.ID, "day", day, "error", err)
	}
}

func (p *Pipeline) settle(ctx context.Context, turnID string, ref *audio.Ref) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if _, err := p.Store.UpdateAudio(ctx, turnID, ref); err != nil {
		p.logger.Error("updating turn audio failed", "turn_id", turnID, "error", err)
	}
}

func (p *Pipeline) remember(sessionID, utterance, replyText string) {
	if p.Sessions == nil || sessionID == "" || utterance == "" {
		return
	}
	p.Sessions.Append(sessionID,
		store.Message{Role: "user", Content: utterance},
		store.Message{Role: "assistant", Content: replyText},
	)
}

func (p *Pipeline) history(sessionID string) []reply.Message {
	if p.Sessions == nil || sessionID == "" {
		return nil
	}
	msgs := p.Sessions.Get(sessionID)
	out := make([]reply.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, reply.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *Pipeline) logTurn(turn store.Turn, resp Response, start time.Time) {
	p.logger.Info("turn handled",
		"turn_id", turn.ID,
		"intent", turn.Intent,
		"persona", turn.PersonaID,
		"policy", p.Policy,
		"audio", resp.AudioStatus,
		"took", p.now().Sub(start),
	)
}

// Poll reports the audio status of a turn. Tasks started by this process
// answer from memory; older turns are read from the store.
func (p *Pipeline) Poll(ctx context.Context, turnID string) (AudioState, error) {
	if st, ok := p.tasks.get(turnID); ok {
		return st, nil
	}
	turn, err := p.Store.GetTurn(ctx, turnID)
	if err != nil {
		return AudioState{}, err
	}
	switch turn.AudioStatus() {
	case "ready":
		return AudioState{Status: speech.StatusReady, Ref: turn.Audio}, nil
	case "pending":
		// No task in this process will settle it any more.
		if p.now().Sub(turn.Timestamp) > p.Runner.Timeout()+saveTimeout {
			return AudioState{Status: speech.StatusFailed}, nil
		}
		return AudioState{Status: speech.StatusPending}, nil
	default:
		return AudioState{Status: speech.StatusFailed}, nil
	}
}

// Shutdown waits for in-flight syntheses to finish and be recorded.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.Runner.Shutdown(ctx)
}
