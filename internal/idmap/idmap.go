// Package idmap reconciles external UUID identifiers with the store's integer
// identifiers, and keeps native autoincrement ids clear of a legacy store.
package idmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/logging"
	"github.com/haseab/retrace-sub006/internal/model"
)

// Store persists mappings. *db.DB implements it.
type Store interface {
	UpsertMapping(ctx context.Context, entity model.EntityType, externalID string, internalID int64) error
	DeleteMapping(ctx context.Context, entity model.EntityType, externalID string) (bool, error)
	LoadMappings(ctx context.Context) ([]db.Mapping, error)
}

type key struct {
	entity model.EntityType
	ext    uuid.UUID
}

type reverseKey struct {
	entity model.EntityType
	id     int64
}

// Mapper is a bidirectional, per-entity cache over persisted mappings.
// Writes go to the store first under the write lock; the cache only changes
// once they succeed.
type Mapper struct {
	store Store
	log   *log.Logger

	mu      sync.RWMutex
	forward map[key]int64
	reverse map[reverseKey]uuid.UUID
}

// New returns an empty mapper. Call Load to warm it from the store.
func New(store Store, logger *log.Logger) *Mapper {
	return &Mapper{
		store:   store,
		log:     logging.OrDiscard(logger),
		forward: make(map[key]int64),
		reverse: make(map[reverseKey]uuid.UUID),
	}
}

// Load replaces the cache with every persisted mapping.
func (m *Mapper) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.store.LoadMappings(ctx)
	if err != nil {
		return err
	}

	forward := make(map[key]int64, len(rows))
	reverse := make(map[reverseKey]uuid.UUID, len(rows))
	for _, r := range rows {
		ext, err := uuid.Parse(r.ExternalID)
		if err != nil {
			return fmt.Errorf("mapping %s/%s: %w", r.Entity, r.ExternalID, err)
		}
		forward[key{r.Entity, ext}] = r.InternalID
		reverse[reverseKey{r.Entity, r.InternalID}] = ext
	}

	m.forward, m.reverse = forward, reverse

	m.log.Debug("uuid mappings loaded", "count", len(rows))
	return nil
}

// Register persists externalID -> internalID and then caches it. The write
// lock is held across both, so concurrent registrations reach the cache in
// the order they reached the store.
func (m *Mapper) Register(ctx context.Context, entity model.EntityType, externalID uuid.UUID, internalID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.UpsertMapping(ctx, entity, externalID.String(), internalID); err != nil {
		return err
	}

	k := key{entity, externalID}
	if old, ok := m.forward[k]; ok {
		delete(m.reverse, reverseKey{entity, old})
	}
	m.forward[k] = internalID
	m.reverse[reverseKey{entity, internalID}] = externalID
	return nil
}

// InternalID resolves an external identifier.
func (m *Mapper) InternalID(entity model.EntityType, externalID uuid.UUID) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.forward[key{entity, externalID}]
	return id, ok
}

// ExternalID resolves an internal identifier.
func (m *Mapper) ExternalID(entity model.EntityType, internalID int64) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ext, ok := m.reverse[reverseKey{entity, internalID}]
	return ext, ok
}

// Forget removes a mapping from the store and the cache.
func (m *Mapper) Forget(ctx context.Context, entity model.EntityType, externalID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.DeleteMapping(ctx, entity, externalID.String()); err != nil {
		return err
	}

	k := key{entity, externalID}
	if id, ok := m.forward[k]; ok {
		delete(m.reverse, reverseKey{entity, id})
		delete(m.forward, k)
	}
	return nil
}

// Len returns the number of cached mappings.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.forward)
}
