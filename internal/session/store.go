package session

import (
	"maps"
	"sync"
	"time"

	"foliate/api/internal/util"
)

// entity is the mutable state behind one session. All read-then-write access
// goes through mu, so at most one mutation is in flight per session while
// unrelated sessions proceed independently.
type entity struct {
	mu      sync.Mutex
	info    Info
	aborted bool
	globals map[string]any
	// Ordered ledger plus a GUID index kept in sync on every mutation.
	fragments []Fragment
	index     map[string]int
}

// Store keeps the live sessions. The outer lock only guards the maps; it is
// never held across a session mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entity
	aliases  map[string]string
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entity),
		aliases:  make(map[string]string),
	}
}

func aliasKey(group, alias string) string {
	return group + "/" + alias
}

// Create registers a new session bound to templateID. The alias, when set,
// must be free within the caller's group.
func (s *Store) Create(templateID, alias, group string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alias != "" {
		if _, taken := s.aliases[aliasKey(group, alias)]; taken {
			return Info{}, ErrAliasConflict
		}
	}

	info := Info{
		ID:         util.NewGUID(),
		Alias:      alias,
		Group:      group,
		TemplateID: templateID,
		CreatedAt:  time.Now().UTC(),
	}
	s.sessions[info.ID] = &entity{
		info:    info,
		globals: make(map[string]any),
		index:   make(map[string]int),
	}
	if alias != "" {
		s.aliases[aliasKey(group, alias)] = info.ID
	}
	return info, nil
}

// lookup resolves a session ID or alias within group. Callers must not hold
// the returned entity's lock yet.
func (s *Store) lookup(idOrAlias, group string) (*entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.sessions[idOrAlias]; ok && entry.info.Group == group {
		return entry, nil
	}
	if id, ok := s.aliases[aliasKey(group, idOrAlias)]; ok {
		if entry, ok := s.sessions[id]; ok {
			return entry, nil
		}
	}
	return nil, ErrNotFound
}

// Resolve returns the identity of a live session.
func (s *Store) Resolve(idOrAlias, group string) (Info, error) {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return Info{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.aborted {
		return Info{}, ErrNotFound
	}
	return entry.info, nil
}

// SetGlobals merges partial into the session's global parameters,
// last-write-wins per key. An empty map is a no-op.
func (s *Store) SetGlobals(idOrAlias, group string, partial map[string]any) error {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.aborted {
		return ErrNotFound
	}
	maps.Copy(entry.globals, partial)
	return nil
}

// AddFragment assigns frag a GUID and splices it into the ledger at the
// requested position. A missing positional reference fails the call with no
// mutation.
func (s *Store) AddFragment(idOrAlias, group string, frag Fragment, pos Position) (string, error) {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return "", err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.aborted {
		return "", ErrNotFound
	}

	at := len(entry.fragments)
	switch pos.Kind {
	case PositionEnd:
	case PositionStart:
		at = 0
	case PositionBefore, PositionAfter:
		ref, ok := entry.index[pos.Ref]
		if !ok {
			return "", ErrFragmentNotFound
		}
		at = ref
		if pos.Kind == PositionAfter {
			at = ref + 1
		}
	}

	frag.GUID = util.NewGUID()
	frag.AddedAt = time.Now().UTC()

	entry.fragments = append(entry.fragments, Fragment{})
	copy(entry.fragments[at+1:], entry.fragments[at:])
	entry.fragments[at] = frag
	entry.reindex(at)

	return frag.GUID, nil
}

// RemoveFragment deletes the fragment with guid, leaving the relative order
// of every other fragment untouched.
func (s *Store) RemoveFragment(idOrAlias, group, guid string) error {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.aborted {
		return ErrNotFound
	}

	at, ok := entry.index[guid]
	if !ok {
		return ErrFragmentNotFound
	}
	entry.fragments = append(entry.fragments[:at], entry.fragments[at+1:]...)
	delete(entry.index, guid)
	entry.reindex(at)
	return nil
}

// Fragments returns a copy of the ledger in render order.
func (s *Store) Fragments(idOrAlias, group string) ([]Fragment, error) {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.aborted {
		return nil, ErrNotFound
	}
	return copyFragments(entry.fragments), nil
}

// Snapshot captures identity, globals and ledger in one consistent read so
// rendering can proceed without holding the session lock.
func (s *Store) Snapshot(idOrAlias, group string) (Snapshot, error) {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return Snapshot{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.aborted {
		return Snapshot{}, ErrNotFound
	}
	globals := make(map[string]any, len(entry.globals))
	maps.Copy(globals, entry.globals)
	return Snapshot{
		Info:      entry.info,
		Globals:   globals,
		Fragments: copyFragments(entry.fragments),
	}, nil
}

// Abort irreversibly tears the session down and frees its alias. A second
// abort, like any other operation on an aborted session, reports ErrNotFound.
func (s *Store) Abort(idOrAlias, group string) error {
	entry, err := s.lookup(idOrAlias, group)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if entry.aborted {
		entry.mu.Unlock()
		return ErrNotFound
	}
	entry.aborted = true
	entry.globals = nil
	entry.fragments = nil
	entry.index = nil
	info := entry.info
	entry.mu.Unlock()

	s.mu.Lock()
	delete(s.sessions, info.ID)
	if info.Alias != "" {
		delete(s.aliases, aliasKey(info.Group, info.Alias))
	}
	s.mu.Unlock()
	return nil
}

// Count reports the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// reindex rebuilds GUID positions from at onward.
func (e *entity) reindex(at int) {
	for i := at; i < len(e.fragments); i++ {
		e.index[e.fragments[i].GUID] = i
	}
}

func copyFragments(fragments []Fragment) []Fragment {
	out := make([]Fragment, len(fragments))
	copy(out, fragments)
	for i := range out {
		params := make(map[string]any, len(out[i].Parameters))
		maps.Copy(params, out[i].Parameters)
		out[i].Parameters = params
	}
	return out
}
