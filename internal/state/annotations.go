package state

import (
	"slices"
	"sync"
)

// Shape kinds.
const (
	KindLine = "line"
	KindZone = "zone"
	KindNote = "note"
)

// Drawn is one shape the coordinator placed on a chart surface.
type Drawn struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"` // line, zone, note
	Price float64 `json:"price"`
	Label string  `json:"label"`
}

// Annotations tracks what is currently drawn on each surface so it can be removed later.
type Annotations struct {
	mu        sync.Mutex
	bySurface map[string][]Drawn
}

func NewAnnotations() *Annotations {
	return &Annotations{bySurface: make(map[string][]Drawn)}
}

// Add appends shapes for surface.
func (a *Annotations) Add(surface string, d ...Drawn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bySurface[surface] = append(a.bySurface[surface], d...)
}

// List returns a copy of the shapes recorded for surface.
func (a *Annotations) List(surface string) []Drawn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.bySurface[surface])
}

// Take removes and returns the shapes of the given kinds for surface. No kinds means all.
func (a *Annotations) Take(surface string, kinds ...string) []Drawn {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.bySurface[surface]
	if len(kinds) == 0 {
		delete(a.bySurface, surface)
		return cur
	}
	var taken, kept []Drawn
	for _, d := range cur {
		if slices.Contains(kinds, d.Kind) {
			taken = append(taken, d)
		} else {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		delete(a.bySurface, surface)
	} else {
		a.bySurface[surface] = kept
	}
	return taken
}

// Forget drops all bookkeeping for a surface, e.g. when its chart disconnects.
func (a *Annotations) Forget(surface string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.bySurface, surface)
}
