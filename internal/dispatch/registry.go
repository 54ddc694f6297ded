package dispatch

import (
	"sync"
	"time"

	"mago-voice-backend/internal/audio"
	"mago-voice-backend/internal/speech"
)

// registryTTL is how long a settled background task stays answerable from
// memory.
const registryTTL = 15 * time.Minute

type entry struct {
	state   AudioState
	started time.Time
}

// registry tracks background syntheses by turn ID.
type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

func (r *registry) add(turnID string, started time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.state.Status != speech.StatusPending && started.Sub(e.started) > registryTTL {
			delete(r.entries, id)
		}
	}
	r.entries[turnID] = &entry{state: AudioState{Status: speech.StatusPending}, started: started}
}

func (r *registry) settle(turnID string, ref *audio.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[turnID]
	if !ok {
		return
	}
	if ref != nil {
		e.state = AudioState{Status: speech.StatusReady, Ref: ref}
	} else {
		e.state = AudioState{Status: speech.StatusFailed}
	}
}

func (r *registry) get(turnID string) (AudioState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[turnID]
	if !ok {
		return AudioState{}, false
	}
	return e.state, true
}
