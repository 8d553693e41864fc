// Package honeypot implements the per-session trap registry: invisible
// adversarial elements injected into every page, with predicates that detect
// an agent interacting with a trap element or echoing trap content. A
// trigger is terminal for the session.
package honeypot

import (
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Trigger records an agent tripping a trap.
type Trigger struct {
	SessionID  string    `json:"session_id"`
	TrapID     string    `json:"trap_id"`
	ActionKind string    `json:"action_kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// Callback is invoked synchronously for every trigger, before the trigger
// is returned to the pipeline.
type Callback func(Trigger)

// echoThreshold is the token-overlap ratio above which agent text counts as
// an echo of trap content.
const echoThreshold = 0.5

// Registry holds the active traps and recorded triggers for all sessions.
// Safe for concurrent use; each session's entries are independent.
type Registry struct {
	mu        sync.RWMutex
	traps     map[string][]Trap
	triggers  map[string][]Trigger
	callbacks []Callback
	logger    *slog.Logger
}

// NewRegistry creates an empty trap registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		traps:    make(map[string][]Trap),
		triggers: make(map[string][]Trigger),
		logger:   logger.With("component", "honeypot.Registry"),
	}
}

// RegisterSession instantiates the template set for a session with unique
// trap IDs and returns the active traps. Calling it again replaces the
// session's traps.
func (r *Registry) RegisterSession(sessionID string) []Trap {
	traps := make([]Trap, len(trapTemplates))
	for i, tpl := range trapTemplates {
		traps[i] = tpl
		traps[i].ID = tpl.ID + "-" + newTrapSuffix()
	}

	r.mu.Lock()
	r.traps[sessionID] = traps
	r.triggers[sessionID] = nil
	r.mu.Unlock()

	r.logger.Info("registered honeypot traps", "session_id", sessionID, "count", len(traps))
	return traps
}

// Traps returns the active traps for a session.
func (r *Registry) Traps(sessionID string) []Trap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Trap, len(r.traps[sessionID]))
	copy(out, r.traps[sessionID])
	return out
}

// OnTrigger registers a callback fired synchronously on every trigger.
func (r *Registry) OnTrigger(cb Callback) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, cb)
	r.mu.Unlock()
}

// CheckInteraction reports whether the action's target identifier contains a
// trap identifier. A hit records and returns the trigger.
func (r *Registry) CheckInteraction(sessionID, target, actionKind string) *Trigger {
	if target == "" {
		return nil
	}
	r.mu.RLock()
	traps := r.traps[sessionID]
	r.mu.RUnlock()

	for _, trap := range traps {
		if strings.Contains(target, trap.ID) || strings.Contains(target, "honey-"+trap.ID) {
			return r.record(sessionID, trap.ID, actionKind)
		}
	}
	return nil
}

// CheckContentEcho reports whether agent text shares a majority of tokens
// with any trap's content, indicating the agent read hidden trap content.
func (r *Registry) CheckContentEcho(sessionID, text string) *Trigger {
	if text == "" {
		return nil
	}
	r.mu.RLock()
	traps := r.traps[sessionID]
	r.mu.RUnlock()

	textTokens := tokenSet(text)
	if len(textTokens) == 0 {
		return nil
	}

	for _, trap := range traps {
		trapTokens := tokenSet(trap.Content)
		if len(trapTokens) == 0 {
			continue
		}
		overlap := 0
		for tok := range trapTokens {
			if textTokens[tok] {
				overlap++
			}
		}
		if float64(overlap)/float64(len(trapTokens)) >= echoThreshold {
			return r.record(sessionID, trap.ID, "READ")
		}
	}
	return nil
}

// Triggers returns the recorded triggers for a session.
func (r *Registry) Triggers(sessionID string) []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Trigger, len(r.triggers[sessionID]))
	copy(out, r.triggers[sessionID])
	return out
}

// IsCompromised reports whether any trap fired for the session.
func (r *Registry) IsCompromised(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triggers[sessionID]) > 0
}

// Cleanup removes all traps and triggers for a session.
func (r *Registry) Cleanup(sessionID string) {
	r.mu.Lock()
	delete(r.traps, sessionID)
	delete(r.triggers, sessionID)
	r.mu.Unlock()
}

func (r *Registry) record(sessionID, trapID, actionKind string) *Trigger {
	trig := Trigger{
		SessionID:  sessionID,
		TrapID:     trapID,
		ActionKind: actionKind,
		Timestamp:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.triggers[sessionID] = append(r.triggers[sessionID], trig)
	callbacks := make([]Callback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Warn("HONEYPOT TRAP TRIGGERED",
		"session_id", sessionID,
		"trap_id", trapID,
		"action", actionKind,
	)

	for _, cb := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("honeypot callback panicked", "panic", rec)
				}
			}()
			cb(trig)
		}()
	}
	return &trig
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

// newTrapSuffix returns a short unique suffix for a per-session trap ID.
func newTrapSuffix() string {
	return strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String()[16:])
}
