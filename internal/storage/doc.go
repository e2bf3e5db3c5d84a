// Package storage provides the process-local attribute store.
//
// Every piece of mirrored device state lives here as a key/value pair keyed
// by (entity class, entity id, attribute). Devices write through
// SetAndNotify, which suppresses writes that do not change the stored value
// so duplicate events from the cloud do not fan out as duplicate callbacks.
//
// The store is the only object mutated by multiple components; a single
// coarse mutex serialises all access. Callbacks run synchronously on the
// writer's goroutine and outside the store lock, so a callback may read the
// store but must hand off to the background scheduler if it can block.
//
// An optional sqlite-backed snapshot (see Snapshot) persists the store
// across restarts. Loading is best effort: a missing or corrupt snapshot is
// treated as a cold start.
package storage
