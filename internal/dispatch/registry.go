package dispatch

import (
	"sort"
	"strings"
)

// CommandEntry binds a trigger word to a handler name.
type CommandEntry struct {
	Trigger string `json:"trigger"`
	Handler string `json:"handler"`
}

// Registry is the static trigger table. It is built once and never mutated,
// so lookups need no locking.
type Registry struct {
	entries map[string]string
}

// NewRegistry normalizes every trigger the way the tokenizer normalizes words,
// so a trigger configured as "Weather " still matches the token "weather".
// Entries whose trigger normalizes to nothing are ignored; on duplicates the
// last one wins.
func NewRegistry(entries []CommandEntry) *Registry {
	r := &Registry{entries: make(map[string]string, len(entries))}
	for _, e := range entries {
		trigger := normalize(strings.TrimSpace(e.Trigger))
		if trigger == "" || e.Handler == "" {
			continue
		}
		r.entries[trigger] = e.Handler
	}
	return r
}

// RegistryFromMap builds a registry from a trigger -> handler map.
func RegistryFromMap(m map[string]string) *Registry {
	entries := make([]CommandEntry, 0, len(m))
	for trigger, handler := range m {
		entries = append(entries, CommandEntry{Trigger: trigger, Handler: handler})
	}
	return NewRegistry(entries)
}

// Lookup matches token by exact equality.
func (r *Registry) Lookup(token string) (string, bool) {
	h, ok := r.entries[token]
	return h, ok
}

// Entries lists the table sorted by trigger.
func (r *Registry) Entries() []CommandEntry {
	out := make([]CommandEntry, 0, len(r.entries))
	for t, h := range r.entries {
		out = append(out, CommandEntry{Trigger: t, Handler: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out
}

func (r *Registry) Len() int { return len(r.entries) }
