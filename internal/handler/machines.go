package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/quiz"
)

// MachineFactory creates the quiz machine for a new browser session.
type MachineFactory func() *quiz.Machine

type machineEntry struct {
	machine  *quiz.Machine
	lastSeen time.Time
}

// registry maps session handles to their quiz machines.
type registry struct {
	mu      sync.Mutex
	factory MachineFactory
	entries map[string]*machineEntry
	now     func() time.Time
}

func newRegistry(factory MachineFactory) *registry {
	return &registry{
		factory: factory,
		entries: make(map[string]*machineEntry),
		now:     time.Now,
	}
}

// get returns the machine for id, creating it on first use.
func (g *registry) get(id string) *quiz.Machine {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	if !ok {
		e = &machineEntry{machine: g.factory()}
		g.entries[id] = e
		slog.Debug("created quiz machine", "session", id)
	}
	e.lastSeen = g.now()
	return e.machine
}

// sweep closes and forgets machines unused for longer than ttl.
func (g *registry) sweep(ttl time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-ttl)
	n := 0
	for id, e := range g.entries {
		if e.lastSeen.Before(cutoff) {
			e.machine.Close()
			delete(g.entries, id)
			n++
		}
	}
	return n
}

func (g *registry) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, e := range g.entries {
		e.machine.Close()
		delete(g.entries, id)
	}
}

func (g *registry) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// runSweeper evicts idle machines every interval until ctx is done, then
// closes the rest.
func (g *registry) runSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.closeAll()
			return
		case <-ticker.C:
			if n := g.sweep(ttl); n > 0 {
				slog.Info("evicted idle quiz sessions", "count", n)
			}
		}
	}
}
