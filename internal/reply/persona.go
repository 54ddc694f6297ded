package reply

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is a named bundle of voice, tone and address-term policy.
// Its texts are configuration; no code branches on a persona ID.
type Persona struct {
	ID                    string   `yaml:"id"`
	VoiceID               string   `yaml:"voice_id"`
	SystemInstruction     string   `yaml:"system_instruction"`
	ForbiddenAddressTerms []string `yaml:"forbidden_address_terms"`
	AddressAs             string   `yaml:"address_as"`
	Register              string   `yaml:"register"`
	Apology               string   `yaml:"apology"`
	Temperature           float32  `yaml:"temperature"`
	MaxTokens             int      `yaml:"max_tokens"`
}

// DefaultApology is used when a persona does not configure its own.
const DefaultApology = "ごめんね、今ちょっと調子が悪いみたい。もう一度話しかけてくれる？"

// Instruction returns the system prompt sent to the chat model.
func (p Persona) Instruction() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.SystemInstruction))
	if p.Register != "" {
		b.WriteString("\n話し方: ")
		b.WriteString(p.Register)
	}
	if len(p.ForbiddenAddressTerms) > 0 {
		b.WriteString("\n相手を「")
		b.WriteString(strings.Join(p.ForbiddenAddressTerms, "」「"))
		b.WriteString("」と呼ばないでください。")
		if p.AddressAs != "" {
			b.WriteString("「")
			b.WriteString(p.AddressAs)
			b.WriteString("」と呼んでください。")
		}
	}
	return b.String()
}

// ApologyText returns the configured apology or the default one.
func (p Persona) ApologyText() string {
	if s := strings.TrimSpace(p.Apology); s != "" {
		return s
	}
	return DefaultApology
}

// Personas is the persona table keyed by ID.
type Personas struct {
	byID     map[string]Persona
	fallback string
}

var ErrUnknownPersona = errors.New("reply: unknown persona")

type personaFile struct {
	Default  string    `yaml:"default"`
	Personas []Persona `yaml:"personas"`
}

// LoadPersonas reads a YAML persona table.
func LoadPersonas(path string) (*Personas, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f personaFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse personas %s: %w", path, err)
	}
	return NewPersonas(f.Default, f.Personas...)
}

// NewPersonas builds a table. fallback names the persona used when a request
// names none; empty means the first persona.
func NewPersonas(fallback string, list ...Persona) (*Personas, error) {
	if len(list) == 0 {
		return nil, errors.New("reply: at least one persona is required")
	}
	t := &Personas{byID: make(map[string]Persona, len(list))}
	for i, p := range list {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("reply: persona #%d has no id", i)
		}
		if _, dup := t.byID[p.ID]; dup {
			return nil, fmt.Errorf("reply: duplicate persona %q", p.ID)
		}
		t.byID[p.ID] = p
	}
	if fallback == "" {
		fallback = list[0].ID
	}
	if _, ok := t.byID[fallback]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownPersona, fallback)
	}
	t.fallback = fallback
	return t, nil
}

// Get returns the persona for id, or the default persona when id is empty.
func (t *Personas) Get(id string) (Persona, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = t.fallback
	}
	p, ok := t.byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	return p, nil
}

// Default returns the default persona.
func (t *Personas) Default() Persona { return t.byID[t.fallback] }

// IDs returns the persona IDs in sorted order.
func (t *Personas) IDs() []string {
	out := make([]string, 0, len(t.byID))
	for id := range t.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
