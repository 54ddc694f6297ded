// Package reply produces persona-consistent chat replies from a generative
// model. Upstream failures never escape: Generate returns the persona's
// apology instead, which callers treat like any other reply.
package reply

import (
	"context"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"mago-voice-backend/internal/log"
	"mago-voice-backend/internal/upstream"
)

const providerChat = "openai-chat"

// DefaultTimeout bounds one chat completion.
const DefaultTimeout = 15 * time.Second

// Completer is the part of the chat-completion client the generator uses.
// *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

// CreateChatCompletion implements Completer.
func (f CompleterFunc) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f(ctx, req)
}

// Request is one generation call.
type Request struct {
	Utterance string
	Persona   Persona
	History   []Message

	// Facts are looked-up statements the reply should be based on.
	Facts []string
}

// Generator wraps a chat model.
type Generator struct {
	client  Completer
	model   string
	window  Window
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithWindow sets the context window bound.
func WithWindow(w Window) Option { return func(g *Generator) { g.window = w } }

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGenerator creates a generator for model.
func NewGenerator(client Completer, model string, opts ...Option) *Generator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	g := &Generator{
		client:  client,
		model:   model,
		window:  DefaultWindow,
		timeout: DefaultTimeout,
		logger:  log.Component("reply"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a reply for req. It never fails; on any upstream error it
// returns req.Persona's apology.
func (g *Generator) Generate(ctx context.Context, req Request) string {
	apology := req.Persona.ApologyText()
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return apology
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(req.Persona, req.History, req.Facts, utterance))
	if err != nil {
		err = upstream.Classify(providerChat, err)
		g.logger.Warn("chat completion failed", "persona", req.Persona.ID, "kind", upstream.Kind(err), "error", err)
		return apology
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err := upstream.Malformed(providerChat, "no choices")
		g.logger.Warn("chat completion empty", "persona", req.Persona.ID, "error", err)
		return apology
	}
	return ReplaceForbidden(strings.TrimSpace(resp.Choices[0].Message.Content), req.Persona)
}

func (g *Generator) buildRequest(p Persona, history []Message, facts []string, utterance string) openai.ChatCompletionRequest {
	system := p.Instruction()
	if len(facts) > 0 {
		system += "\n\n次の情報をもとに、短く答えてください。\n" + strings.Join(facts, "\n")
	}

	trimmed := g.window.Trim(history)
	messages := make([]openai.ChatCompletionMessage, 0, len(trimmed)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, m := range trimmed {
		role := m.Role
		if role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: utterance})

	return openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Messages:    messages,
	}
}

// ReplaceForbidden rewrites forbidden address terms with the persona's
// preferred form of address.
func ReplaceForbidden(text string, p Persona) string {
	if len(p.ForbiddenAddressTerms) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(p.ForbiddenAddressTerms))
	for _, term := range p.ForbiddenAddressTerms {
		if term = strings.TrimSpace(term); term != "" {
			pairs = append(pairs, term, p.AddressAs)
		}
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
