// Package registry maps actor paths to their current generation and inbox
// handle. It is the single source of truth for tell and ask by path;
// references holding an older generation fail fast with ErrGone.
package registry

import (
	"sync/atomic"

	"github.com/Workiva/go-datastructures/trie/ctrie"
	"github.com/rs/zerolog"

	"github.com/hedisam/goproc/errors"
)

// Inbox is the send-only handle the registry keeps per path.
type Inbox interface {
	Push(msg interface{}) error
}

// Entry is a weak snapshot of a registered actor.
type Entry struct {
	Generation uint64
	Inbox      Inbox
}

type record struct {
	generation atomic.Uint64
	inbox      atomic.Value // Inbox
}

// Registry is a concurrent path to reference map.
type Registry struct {
	entries *ctrie.Ctrie
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: ctrie.New(nil),
		logger:  logger.With().Str("system", "registry").Logger(),
	}
}

// Register binds a path to an inbox at the given generation. Re-registering
// an existing path bumps the record in place so stale references observe
// the generation change instead of a dangling inbox.
func (r *Registry) Register(p Path, generation uint64, inbox Inbox) {
	key := []byte(p.String())
	if v, ok := r.entries.Lookup(key); ok {
		rec := v.(*record)
		rec.inbox.Store(inbox)
		rec.generation.Store(generation)
		return
	}
	rec := &record{}
	rec.inbox.Store(inbox)
	rec.generation.Store(generation)
	r.entries.Insert(key, rec)
	r.logger.Debug().Str("path", p.String()).Uint64("generation", generation).Msg("registered")
}

// Unregister removes a path. The generation guards against a racing
// restart: a newer registration is left untouched.
func (r *Registry) Unregister(p Path, generation uint64) {
	key := []byte(p.String())
	v, ok := r.entries.Lookup(key)
	if !ok {
		return
	}
	if v.(*record).generation.Load() != generation {
		return
	}
	r.entries.Remove(key)
	r.logger.Debug().Str("path", p.String()).Msg("unregistered")
}

// Lookup returns the current entry for a path, or ErrGone.
func (r *Registry) Lookup(p Path) (Entry, error) {
	v, ok := r.entries.Lookup([]byte(p.String()))
	if !ok {
		return Entry{}, errors.ErrGone
	}
	rec := v.(*record)
	inbox, _ := rec.inbox.Load().(Inbox)
	if inbox == nil {
		return Entry{}, errors.ErrGone
	}
	return Entry{Generation: rec.generation.Load(), Inbox: inbox}, nil
}

// Resolve returns the inbox for a path iff the caller's generation matches
// the current one.
func (r *Registry) Resolve(p Path, generation uint64) (Inbox, error) {
	entry, err := r.Lookup(p)
	if err != nil {
		return nil, err
	}
	if entry.Generation != generation {
		return nil, errors.ErrGone
	}
	return entry.Inbox, nil
}

// Size reports the number of registered paths.
func (r *Registry) Size() uint {
	return r.entries.Size()
}
