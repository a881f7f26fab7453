package config

// KeyValue is one raw, still-encoded configuration fragment read from a
// Source (a whole file, a single override key, ...).
type KeyValue struct {
	Key    string
	Value  []byte
	Format string // "yaml", "json", or "" for a bare scalar override
}

// Source supplies configuration fragments and, optionally, a live feed of
// changes to them.
type Source interface {
	Load() ([]*KeyValue, error)
	Watch() (Watcher, error)
}

// Watcher streams KeyValue updates from a Source. A nil, nil return from
// Next means "something changed, re-Load()" without the watcher itself
// knowing the new contents (e.g. an fsnotify write event).
type Watcher interface {
	Next() ([]*KeyValue, error)
	Stop() error
}
