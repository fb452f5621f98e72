package watch

import "livewatch/internal/twitch"

type entry struct {
	id    string
	state State
}

// Tracker owns the registry (name -> state). It is driven by a single
// goroutine, the cycle; callers that need to look at it get copies.
type Tracker struct {
	order []string
	reg   map[string]*entry
}

func NewTracker() *Tracker {
	return &Tracker{reg: map[string]*entry{}}
}

// Sync replaces the tracked set. order lists the names in display order and
// ids maps each of them to its provider id; names missing from ids are skipped.
// Names that stay with the same id keep their state, everything else starts
// as Unknown.
func (t *Tracker) Sync(order []string, ids map[string]string) (added, removed []string) {
	next := make(map[string]*entry, len(ids))
	nextOrder := make([]string, 0, len(ids))
	for _, name := range order {
		id, ok := ids[name]
		if !ok || id == "" {
			continue
		}
		if _, dup := next[name]; dup {
			continue
		}
		if old, ok := t.reg[name]; ok && old.id == id {
			next[name] = &entry{id: id, state: old.state}
		} else {
			next[name] = &entry{id: id, state: Unknown}
			added = append(added, name)
		}
		nextOrder = append(nextOrder, name)
	}
	for _, name := range t.order {
		if e, ok := next[name]; !ok || e.id != t.reg[name].id {
			removed = append(removed, name)
		}
	}
	t.order = nextOrder
	t.reg = next
	return added, removed
}

// IDs returns the provider ids of all tracked broadcasters.
func (t *Tracker) IDs() []string {
	out := make([]string, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.reg[name].id)
	}
	return out
}

// Apply updates every tracked broadcaster from one snapshot and returns the
// state changes. Live -> Live produces nothing; applying the same snapshot
// twice returns no transitions the second time.
func (t *Tracker) Apply(snap twitch.Snapshot) []Transition {
	var out []Transition
	for _, name := range t.order {
		e := t.reg[name]
		info, live := snap[e.id]
		prev := e.state
		next := Offline
		if live {
			next = Live
		}
		if prev == next {
			continue
		}
		e.state = next
		tr := Transition{
			Broadcaster: Broadcaster{Name: name, ProviderID: e.id, State: next},
			From:        prev,
			To:          next,
		}
		if live {
			tr.Info = info
		}
		out = append(out, tr)
	}
	return out
}

// State returns the recorded state of name.
func (t *Tracker) State(name string) (State, bool) {
	e, ok := t.reg[name]
	if !ok {
		return Unknown, false
	}
	return e.state, true
}

func (t *Tracker) Len() int { return len(t.order) }

// Broadcasters returns a copy of the registry in display order.
func (t *Tracker) Broadcasters() []Broadcaster {
	out := make([]Broadcaster, 0, len(t.order))
	for _, name := range t.order {
		e := t.reg[name]
		out = append(out, Broadcaster{Name: name, ProviderID: e.id, State: e.state})
	}
	return out
}
