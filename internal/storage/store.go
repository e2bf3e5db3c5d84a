package storage

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Key identifies one stored attribute. Attr may carry sub-segments, for
// example mode tables store under ("modeNameToId", "<name>").
type Key struct {
	Class string
	ID    string
	Attr  []string
}

// K builds a Key.
func K(class, id string, attr ...string) Key {
	return Key{Class: class, ID: id, Attr: attr}
}

// String renders the key as class/id/attr[/sub...].
func (k Key) String() string {
	parts := append([]string{k.Class, k.ID}, k.Attr...)
	return strings.Join(parts, "/")
}

// attrString renders just the attribute part of the key.
func (k Key) attrString() string {
	return strings.Join(k.Attr, "/")
}

// Entry is one key/value pair returned by GetMatching.
type Entry struct {
	Key   Key
	Value any
}

// Callback receives attribute change notifications. It runs synchronously
// on the goroutine that performed the write; callbacks that can block must
// hand off to the background scheduler themselves.
type Callback func(entityID, attr string, value any)

// registration pairs an attribute pattern with a callback. The pattern "*"
// matches every attribute of the entity.
type registration struct {
	pattern string
	fn      Callback
}

// Logger defines the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Store is the attribute store. All public methods are safe for concurrent
// use; a single mutex serialises mutation and the mutex is never held while
// callbacks run.
type Store struct {
	mu       sync.Mutex
	values   map[string]any
	entities map[string][]registration // class/id -> callbacks, registration order
	watchers []func(key Key, value any)
	logger   Logger
}

// New creates an empty store.
func New() *Store {
	return &Store{
		values:   make(map[string]any),
		entities: make(map[string][]registration),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Set writes a value unconditionally without firing callbacks. Used for
// bulk initial loads and for bookkeeping keys nothing watches.
func (s *Store) Set(key Key, value any) {
	s.mu.Lock()
	s.values[key.String()] = value
	s.mu.Unlock()
}

// SetAndNotify writes a value and fires the entity's matching callbacks,
// in registration order, if and only if the value differs from what is
// already stored. Returns true when the value changed.
func (s *Store) SetAndNotify(key Key, value any) bool {
	entity := key.Class + "/" + key.ID
	attr := key.attrString()

	s.mu.Lock()
	old, exists := s.values[key.String()]
	if exists && reflect.DeepEqual(old, value) {
		s.mu.Unlock()
		return false
	}
	s.values[key.String()] = value

	var fire []Callback
	for _, reg := range s.entities[entity] {
		if reg.pattern == attr || reg.pattern == "*" {
			fire = append(fire, reg.fn)
		}
	}
	watchers := append([]func(Key, any){}, s.watchers...)
	s.mu.Unlock()

	for _, fn := range fire {
		fn(key.ID, attr, value)
	}
	for _, fn := range watchers {
		fn(key, value)
	}
	return true
}

// Get returns the stored value, or def when the key is missing. Missing
// keys are never an error.
func (s *Store) Get(key Key, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key.String()]; ok {
		return v
	}
	return def
}

// GetMatching scans for keys under the given prefix. A trailing "*"
// attribute segment is stripped, so K(class, id, "modeNameToId", "*")
// returns every mode-name entry. Results are sorted by key for stable
// iteration.
func (s *Store) GetMatching(prefix Key) []Entry {
	attr := prefix.Attr
	if n := len(attr); n > 0 && attr[n-1] == "*" {
		attr = attr[:n-1]
	}
	want := Key{Class: prefix.Class, ID: prefix.ID, Attr: attr}.String() + "/"

	s.mu.Lock()
	var entries []Entry
	for k, v := range s.values {
		if strings.HasPrefix(k, want) {
			parts := strings.Split(k, "/")
			entries = append(entries, Entry{
				Key:   Key{Class: parts[0], ID: parts[1], Attr: parts[2:]},
				Value: v,
			})
		}
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries
}

// OnChange registers a callback for an entity. The pattern is either an
// exact attribute name or "*" for all attributes. Registration is
// append-only for the life of the process; there is no unregister.
func (s *Store) OnChange(class, id, pattern string, fn Callback) {
	entity := class + "/" + id
	s.mu.Lock()
	s.entities[entity] = append(s.entities[entity], registration{pattern: pattern, fn: fn})
	s.mu.Unlock()
}

// OnAnyChange registers a store-wide watcher fired after the per-entity
// callbacks for every notified change. Used by broadcast surfaces that
// mirror the whole store rather than one entity.
func (s *Store) OnAnyChange(fn func(key Key, value any)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// all returns a copy of every key/value pair, for persistence.
func (s *Store) all() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// load installs persisted pairs without firing callbacks.
func (s *Store) load(values map[string]any) {
	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	s.mu.Unlock()
}
