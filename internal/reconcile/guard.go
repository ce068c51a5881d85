package reconcile

import (
	"errors"
	"sync"
)

// ErrInFlight is returned when a guild is already being reconciled.
var ErrInFlight = errors.New("reconciliation already in progress for guild")

// Guard tracks which guilds have a run in progress. Overlapping runs for
// the same guild are rejected; different guilds proceed independently.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// Acquire marks guildID as in flight. The returned release func must be
// called when the run ends.
func (g *Guard) Acquire(guildID string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[guildID]; busy {
		return nil, ErrInFlight
	}
	g.active[guildID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, guildID)
			g.mu.Unlock()
		})
	}, nil
}

// Active reports whether guildID has a run in progress.
func (g *Guard) Active(guildID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[guildID]
	return ok
}
