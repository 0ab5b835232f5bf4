package editctx

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/model"
)

// Clock supplies the current time; injectable for tests and eviction
type Clock func() time.Time

// entityContexts holds the contexts for one entity behind its own lock, so
// mutations on unrelated entities never contend
type entityContexts struct {
	mu       sync.Mutex
	contexts map[contextKey]time.Time
}

type contextKey struct {
	field     string
	principal string
}

// Tracker is the process-wide advisory registry of who is editing which
// field of which entity. The state is a UI hint, never a lock: it must not
// block concurrent field patches, and it does not survive restarts.
type Tracker struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entityContexts
	clock   Clock
	ttl     time.Duration
}

// NewTracker creates a tracker. Contexts older than ttl are evicted lazily
// on read; a ttl of zero disables eviction.
func NewTracker(clock Clock, ttl time.Duration) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		entries: make(map[uuid.UUID]*entityContexts),
		clock:   clock,
		ttl:     ttl,
	}
}

// SetContext records that principal is editing field of entity. Upserts are
// idempotent; re-setting refreshes the context timestamp.
func (t *Tracker) SetContext(entityID uuid.UUID, field string, principal string) {
	contexts := t.contextsFor(entityID, true)

	contexts.mu.Lock()
	defer contexts.mu.Unlock()
	contexts.contexts[contextKey{field: field, principal: principal}] = t.clock()
}

// ClearContexts removes every context owned by principal on the entity
func (t *Tracker) ClearContexts(entityID uuid.UUID, principal string) {
	contexts := t.contextsFor(entityID, false)
	if contexts == nil {
		return
	}

	contexts.mu.Lock()
	for key := range contexts.contexts {
		if key.principal == principal {
			delete(contexts.contexts, key)
		}
	}
	empty := len(contexts.contexts) == 0
	contexts.mu.Unlock()

	if empty {
		t.dropIfEmpty(entityID)
	}
}

// ListContexts returns the live contexts on the entity. Stale contexts past
// the ttl are evicted on the way out. No ordering is guaranteed.
func (t *Tracker) ListContexts(entityID uuid.UUID) []*model.EditContext {
	contexts := t.contextsFor(entityID, false)
	if contexts == nil {
		return nil
	}

	now := t.clock()

	contexts.mu.Lock()
	defer contexts.mu.Unlock()

	var result []*model.EditContext
	for key, updatedAt := range contexts.contexts {
		if t.ttl > 0 && now.Sub(updatedAt) > t.ttl {
			delete(contexts.contexts, key)
			continue
		}
		result = append(result, &model.EditContext{
			EntityID:  entityID,
			Field:     key.field,
			Principal: key.principal,
			UpdatedAt: updatedAt,
		})
	}

	return result
}

// ClearEntity drops every context on the entity regardless of owner, used
// when the entity itself is deleted
func (t *Tracker) ClearEntity(entityID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, entityID)
}

// contextsFor returns the per-entity bucket, creating it when create is set
func (t *Tracker) contextsFor(entityID uuid.UUID, create bool) *entityContexts {
	t.mu.RLock()
	contexts, ok := t.entries[entityID]
	t.mu.RUnlock()
	if ok || !create {
		return contexts
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	contexts, ok = t.entries[entityID]
	if !ok {
		contexts = &entityContexts{contexts: make(map[contextKey]time.Time)}
		t.entries[entityID] = contexts
	}
	return contexts
}

// dropIfEmpty removes the entity bucket once no contexts remain
func (t *Tracker) dropIfEmpty(entityID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	contexts, ok := t.entries[entityID]
	if !ok {
		return
	}

	contexts.mu.Lock()
	empty := len(contexts.contexts) == 0
	contexts.mu.Unlock()

	if empty {
		delete(t.entries, entityID)
	}
}
