// Package properties provides an ordered, override-aware key/value
// accumulator used for environment variables and system properties.
//
// Entries remember whether they were set explicitly or inherited from a base
// (for example the host environment). An explicit entry always wins over an
// inherited one, regardless of the order in which Set, Inherit and Merge are
// applied. Iteration follows first-insertion order so captured output can be
// asserted line by line.
//
// A Properties value is not safe for concurrent mutation. Clone it before
// handing it to another goroutine.
package properties

import (
	"sort"
	"strings"
)

// Entry is one accumulated key/value pair.
type Entry struct {
	Key       string
	Value     string
	Inherited bool
}

// Properties is an ordered key/value accumulator. The zero value is ready to use.
type Properties struct {
	entries []Entry
	index   map[string]int
}

// New returns an empty accumulator.
func New() *Properties {
	return &Properties{}
}

// FromMap returns explicit entries for m in sorted key order.
func FromMap(m map[string]string) *Properties {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := New()
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// FromEnviron parses "KEY=VALUE" pairs, as returned by os.Environ, into
// explicit entries. Malformed pairs without '=' are skipped; later
// duplicates win.
func FromEnviron(environ []string) *Properties {
	p := New()
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		p.Set(k, v)
	}
	return p
}

// Set explicitly assigns key. An existing entry keeps its position.
func (p *Properties) Set(key, value string) *Properties {
	p.put(Entry{Key: key, Value: value})
	return p
}

// SetIfAbsent assigns key only when no entry exists for it.
func (p *Properties) SetIfAbsent(key, value string) *Properties {
	if !p.Has(key) {
		p.put(Entry{Key: key, Value: value})
	}
	return p
}

// Get returns the value for key.
func (p *Properties) Get(key string) (string, bool) {
	if i, ok := p.index[key]; ok {
		return p.entries[i].Value, true
	}
	return "", false
}

// Has reports whether key is present.
func (p *Properties) Has(key string) bool {
	_, ok := p.index[key]
	return ok
}

// IsInherited reports whether key is present only through inheritance.
func (p *Properties) IsInherited(key string) bool {
	if i, ok := p.index[key]; ok {
		return p.entries[i].Inherited
	}
	return false
}

// Remove deletes key and reports whether it was present.
func (p *Properties) Remove(key string) bool {
	i, ok := p.index[key]
	if !ok {
		return false
	}
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	p.reindex()
	return true
}

// Len returns the number of entries.
func (p *Properties) Len() int {
	return len(p.entries)
}

// Keys returns keys in insertion order.
func (p *Properties) Keys() []string {
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in insertion order.
func (p *Properties) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Inherit layers base underneath p: base entries are added as inherited and
// refresh other inherited entries, but never replace an explicit entry.
func (p *Properties) Inherit(base *Properties) *Properties {
	if base == nil {
		return p
	}
	for _, e := range base.entries {
		p.inherit(e.Key, e.Value)
	}
	return p
}

// Merge applies other on top of p. Explicit entries in other override any
// entry in p; inherited entries in other behave as in Inherit.
func (p *Properties) Merge(other *Properties) *Properties {
	if other == nil {
		return p
	}
	for _, e := range other.entries {
		if e.Inherited {
			p.inherit(e.Key, e.Value)
			continue
		}
		p.put(Entry{Key: e.Key, Value: e.Value})
	}
	return p
}

// Clone returns an independent snapshot.
func (p *Properties) Clone() *Properties {
	c := &Properties{}
	if p == nil {
		return c
	}
	c.entries = p.Entries()
	c.reindex()
	return c
}

// Environ renders entries as "KEY=VALUE" pairs in insertion order.
func (p *Properties) Environ() []string {
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.Key + "=" + e.Value
	}
	return out
}

// Map returns the entries as a map.
func (p *Properties) Map() map[string]string {
	m := make(map[string]string, len(p.entries))
	for _, e := range p.entries {
		m[e.Key] = e.Value
	}
	return m
}

// String renders entries one per line, in order.
func (p *Properties) String() string {
	return strings.Join(p.Environ(), "\n")
}

func (p *Properties) inherit(key, value string) {
	if i, ok := p.index[key]; ok {
		if p.entries[i].Inherited {
			p.entries[i].Value = value
		}
		return
	}
	p.put(Entry{Key: key, Value: value, Inherited: true})
}

func (p *Properties) put(e Entry) {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	if i, ok := p.index[e.Key]; ok {
		p.entries[i] = e
		return
	}
	p.index[e.Key] = len(p.entries)
	p.entries = append(p.entries, e)
}

func (p *Properties) reindex() {
	p.index = make(map[string]int, len(p.entries))
	for i, e := range p.entries {
		p.index[e.Key] = i
	}
}
