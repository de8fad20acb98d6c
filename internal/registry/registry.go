package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
)

// Registry-level errors.
var (
	ErrNotFound      = errors.New("property not found")
	ErrAlreadyExists = errors.New("property already exists")

	// ErrNoChange can be returned from an Update mutator to abandon the
	// update without treating it as a failure. Nothing is committed and no
	// persistence is scheduled.
	ErrNoChange = errors.New("no change")
)

// entry pairs a property with its own mutex. Mutations for the same id are
// serialized on entry.mu; mutations for different ids proceed independently.
type entry struct {
	mu   sync.Mutex
	prop models.Property
}

// Registry is the authoritative owner of the property map. All reads hand
// out deep copies and all writes go through Update, so callers can never
// observe or produce torn state.
//
// Every successful mutation marks the id dirty; the persistence-flush task
// drains the dirty set through CollectDirty.
type Registry struct {
	log *logger.Logger

	mu      sync.RWMutex
	entries map[models.PropertyID]*entry

	dirtyMu sync.Mutex
	dirty   map[models.PropertyID]struct{}
	removed map[models.PropertyID]struct{}
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		log:     log,
		entries: make(map[models.PropertyID]*entry),
		dirty:   make(map[models.PropertyID]struct{}),
		removed: make(map[models.PropertyID]struct{}),
	}
}

// Create adds a new property. Fails with ErrAlreadyExists when the id is
// taken.
func (r *Registry) Create(p models.Property) error {
	if p.ID == "" {
		return fmt.Errorf("property id must not be empty")
	}
	if p.Level < models.MinLevel {
		p.Level = models.MinLevel
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.LastTaxPaymentAt.IsZero() {
		p.LastTaxPaymentAt = now
	}

	r.mu.Lock()
	if _, exists := r.entries[p.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("property %s: %w", p.ID, ErrAlreadyExists)
	}
	r.entries[p.ID] = &entry{prop: p.Clone()}
	r.mu.Unlock()

	r.markDirty(p.ID)
	r.log.Info("property created", map[string]interface{}{
		"property_id": string(p.ID),
		"price":       p.Price,
		"base_tax":    p.BaseTax,
	})
	return nil
}

// Remove deletes a property from the registry. The deletion is propagated to
// the persistence gateway on the next flush.
func (r *Registry) Remove(id models.PropertyID) error {
	r.mu.Lock()
	if _, exists := r.entries[id]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("property %s: %w", id, ErrNotFound)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	r.dirtyMu.Lock()
	delete(r.dirty, id)
	r.removed[id] = struct{}{}
	r.dirtyMu.Unlock()

	r.log.Info("property removed", map[string]interface{}{
		"property_id": string(id),
	})
	return nil
}

// Get returns a point-in-time copy of the property.
func (r *Registry) Get(id models.PropertyID) (models.Property, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.Property{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prop.Clone(), nil
}

// Update applies the mutator to the property under its exclusive lock. The
// mutator receives a private copy; only when it returns nil is the copy
// committed and persistence scheduled. Any error (including ErrNoChange)
// leaves the prior state untouched.
//
// Updates for different ids run in parallel; updates for the same id are
// totally ordered.
func (r *Registry) Update(id models.PropertyID, mutate func(*models.Property) error) (models.Property, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.Property{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.prop.Clone()
	if err := mutate(&working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return e.prop.Clone(), nil
		}
		return models.Property{}, err
	}

	working.UpdatedAt = time.Now().UTC()
	e.prop = working
	r.markDirty(id)
	return working.Clone(), nil
}

// List returns copies of every property matching the predicate. A nil
// predicate matches everything. The result is a snapshot: iterating it can
// never observe later writes, and reads never block writers on other ids.
func (r *Registry) List(pred func(*models.Property) bool) []models.Property {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.Property, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if pred == nil || pred(&e.prop) {
			out = append(out, e.prop.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the current set of property ids, sorted.
func (r *Registry) IDs() []models.PropertyID {
	r.mu.RLock()
	ids := make([]models.PropertyID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered properties.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountOwnedBy returns how many properties the account currently owns.
func (r *Registry) CountOwnedBy(account models.AccountID) int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	count := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.prop.OwnedBy(account) {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

// LoadFrom replaces the registry contents with the given properties,
// typically read from the persistence gateway at startup. Nothing is marked
// dirty: what was just loaded does not need saving.
func (r *Registry) LoadFrom(props []models.Property) {
	r.mu.Lock()
	r.entries = make(map[models.PropertyID]*entry, len(props))
	for i := range props {
		p := props[i].Clone()
		r.entries[p.ID] = &entry{prop: p}
	}
	r.mu.Unlock()

	r.dirtyMu.Lock()
	r.dirty = make(map[models.PropertyID]struct{})
	r.removed = make(map[models.PropertyID]struct{})
	r.dirtyMu.Unlock()
}

// CollectDirty drains the dirty and removed sets and returns the properties
// to save and the ids to delete. Ids that were removed after being marked
// dirty only appear in the removed list.
func (r *Registry) CollectDirty() (changed []models.Property, removed []models.PropertyID) {
	r.dirtyMu.Lock()
	dirtyIDs := make([]models.PropertyID, 0, len(r.dirty))
	for id := range r.dirty {
		dirtyIDs = append(dirtyIDs, id)
	}
	removed = make([]models.PropertyID, 0, len(r.removed))
	for id := range r.removed {
		removed = append(removed, id)
	}
	r.dirty = make(map[models.PropertyID]struct{})
	r.removed = make(map[models.PropertyID]struct{})
	r.dirtyMu.Unlock()

	for _, id := range dirtyIDs {
		if p, err := r.Get(id); err == nil {
			changed = append(changed, p)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return changed, removed
}

func (r *Registry) lookup(id models.PropertyID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("property %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (r *Registry) markDirty(id models.PropertyID) {
	r.dirtyMu.Lock()
	r.dirty[id] = struct{}{}
	r.dirtyMu.Unlock()
}
