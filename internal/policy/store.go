package policy

import (
	"fmt"
	"log/slog"
	"sync"
)

// GlobalScope is the fallback scope that always has a policy.
const GlobalScope = "global"

// Store holds the active policy per scope plus every superseded version.
// Reads return deep copies; an evaluation in flight keeps the policy it
// started with even if the scope is rewritten mid-flight.
type Store struct {
	mu      sync.RWMutex
	active  map[string]Policy
	history map[string][]Policy
	logger  *slog.Logger
}

// NewStore creates a store with DefaultPolicy installed at global scope.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		active:  make(map[string]Policy),
		history: make(map[string][]Policy),
		logger:  logger.With("component", "policy.Store"),
	}
	s.active[GlobalScope] = DefaultPolicy()
	return s
}

// Get returns the active policy for a scope, falling back to global when the
// scope has no policy of its own.
func (s *Store) Get(scope string) Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.active[scope]; ok {
		return p.Clone()
	}
	return s.active[GlobalScope].Clone()
}

// Set installs a policy for a scope. The previous active policy, if any,
// moves to the scope's history. A missing version is assigned automatically
// as the successor of the previous one.
func (s *Store) Set(scope string, p Policy) Policy {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.active[scope]
	if had {
		s.history[scope] = append(s.history[scope], prev)
	}
	if p.Version == "" {
		if had {
			p.Version = nextVersion(prev.Version)
		} else {
			p.Version = "v1"
		}
	}
	s.active[scope] = p.Clone()

	s.logger.Info("policy updated", "scope", scope, "version", p.Version)
	return p.Clone()
}

// History returns the superseded versions for a scope, oldest first.
func (s *Store) History(scope string) []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.history[scope]
	out := make([]Policy, len(hist))
	for i, p := range hist {
		out[i] = p.Clone()
	}
	return out
}

// Scopes returns every scope holding an active policy.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for scope := range s.active {
		out = append(out, scope)
	}
	return out
}

// Delete removes a scope's active policy and history. The global scope
// cannot be deleted.
func (s *Store) Delete(scope string) error {
	if scope == GlobalScope {
		return fmt.Errorf("cannot delete %s scope", GlobalScope)
	}
	s.mu.Lock()
	delete(s.active, scope)
	delete(s.history, scope)
	s.mu.Unlock()
	return nil
}
