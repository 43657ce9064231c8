/*
 * Copyright 2019 Tero Vierimaa
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package queue holds the ordered sequence of pending requests: the
// concatenation of system-priority items at the head, then VIP items, then
// normal items, each class preserving its own insertion order.
package queue

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/repository"
)

const persistDebounce = 500 * time.Millisecond

// Manager is the single-writer owner of the in-memory queue. All mutating
// operations take the lock, apply the change, and emit events only after
// the lock is released so handlers never observe a half-applied mutation
// or re-enter the manager while it is held.
type Manager struct {
	bus  *eventbus.Bus
	repo repository.Repository

	mu      sync.Mutex
	items   []model.QueueItem
	byID    map[string]bool
	counter int64

	persistTimer *time.Timer
}

// NewManager returns an empty queue publishing change events on bus and
// persisting every mutation to repo (debounced the same way the
// orchestrator debounces its playback snapshot).
func NewManager(bus *eventbus.Bus, repo repository.Repository) *Manager {
	return &Manager{
		bus:  bus,
		repo: repo,
		byID: make(map[string]bool),
	}
}

// LoadQueue restores the queue from repo, reseeding the dedup index and
// the insertion counter so subsequently added items still sort after
// whatever was restored. Call once at startup, before Start.
func (m *Manager) LoadQueue() error {
	items, err := m.repo.LoadQueue()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = items
	m.byID = make(map[string]bool, len(items))
	for _, it := range items {
		m.byID[it.Id()] = true
		if it.AddedAt > m.counter {
			m.counter = it.AddedAt
		}
	}
	return nil
}

// schedulePersist debounces a PersistQueue call the same window the
// orchestrator uses for its playback snapshot, absorbing bursts of
// queue mutations (e.g. a drag-reorder) into a single write.
func (m *Manager) schedulePersist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistTimer != nil {
		m.persistTimer.Stop()
	}
	m.persistTimer = time.AfterFunc(persistDebounce, func() {
		if err := m.PersistNow(); err != nil {
			logrus.Errorf("queue: persist: %v", err)
		}
	})
}

// PersistNow flushes the current queue to the repository immediately,
// bypassing the debounce window. Used on shutdown.
func (m *Manager) PersistNow() error {
	snap := m.Snapshot()
	return m.repo.PersistQueue(snap)
}

// Add inserts item at the tail of its priority class. Duplicate detection
// is keyed on item.Descriptor.Id.
func (m *Manager) Add(item model.QueueItem) error {
	m.mu.Lock()
	if m.byID[item.Id()] {
		m.mu.Unlock()
		return model.New(model.KindDuplicateRequest, "item already queued: "+item.Id(), nil)
	}
	if item.Id() == "" {
		m.mu.Unlock()
		return model.New(model.KindInvalidRequest, "item has no descriptor id", nil)
	}

	m.counter++
	item.AddedAt = m.counter

	insertAt := m.tailIndexForClass(item.Priority)
	m.items = append(m.items, model.QueueItem{})
	copy(m.items[insertAt+1:], m.items[insertAt:])
	m.items[insertAt] = item
	m.byID[item.Id()] = true
	m.mu.Unlock()

	logrus.Debugf("queue: added %s (priority=%s)", item.Id(), item.Priority)
	m.bus.Publish(eventbus.QueueItemAdded, item)
	m.bus.Publish(eventbus.QueueUpdated, m.Snapshot())
	m.schedulePersist()
	return nil
}

// AddFirst places item at the absolute head of the queue, ahead of any
// system-priority item already there. It is reserved for system-priority
// insertions (e.g. a re-queued currently-playing track after a restart).
func (m *Manager) AddFirst(item model.QueueItem) error {
	m.mu.Lock()
	if m.byID[item.Id()] {
		m.mu.Unlock()
		return model.New(model.KindDuplicateRequest, "item already queued: "+item.Id(), nil)
	}
	m.counter++
	item.AddedAt = m.counter
	item.Priority = model.PrioritySystem

	m.items = append([]model.QueueItem{item}, m.items...)
	m.byID[item.Id()] = true
	m.mu.Unlock()

	m.bus.Publish(eventbus.QueueItemAdded, item)
	m.bus.Publish(eventbus.QueueUpdated, m.Snapshot())
	m.schedulePersist()
	return nil
}

// Remove deletes the item at index. index is validated against the
// current snapshot under the lock.
func (m *Manager) Remove(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return model.New(model.KindOutOfRange, "remove index out of range", nil)
	}

	removed := m.items[index]
	m.items = append(m.items[:index], m.items[index+1:]...)
	delete(m.byID, removed.Id())
	m.mu.Unlock()

	m.bus.Publish(eventbus.QueueItemRemoved, removed)
	m.bus.Publish(eventbus.QueueUpdated, m.Snapshot())
	m.schedulePersist()
	return nil
}

// Reorder moves the item at fromIndex to toIndex. The move is rejected if
// it would cross a priority-class boundary; both indices are revalidated
// against the live queue under the same lock that performs the move, so a
// concurrent mutation between validation and application cannot corrupt
// the queue.
func (m *Manager) Reorder(fromIndex, toIndex int) error {
	m.mu.Lock()

	n := len(m.items)
	if fromIndex < 0 || fromIndex >= n || toIndex < 0 || toIndex >= n {
		m.mu.Unlock()
		return model.New(model.KindInvalidMove, "reorder index out of range", nil)
	}
	if fromIndex == toIndex {
		m.mu.Unlock()
		return nil
	}

	moving := m.items[fromIndex]
	target := m.items[toIndex]
	if moving.Priority != target.Priority {
		m.mu.Unlock()
		return model.ErrInvalidMove
	}

	items := append([]model.QueueItem{}, m.items...)
	item := items[fromIndex]
	items = append(items[:fromIndex], items[fromIndex+1:]...)

	items = append(items, model.QueueItem{})
	copy(items[toIndex+1:], items[toIndex:])
	items[toIndex] = item
	m.items = items

	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.bus.Publish(eventbus.QueueReordered, snap)
	m.bus.Publish(eventbus.QueueUpdated, snap)
	m.schedulePersist()
	return nil
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.items = nil
	m.byID = make(map[string]bool)
	m.mu.Unlock()

	m.bus.Publish(eventbus.QueueCleared, nil)
	m.bus.Publish(eventbus.QueueUpdated, []model.QueueItem{})
	m.schedulePersist()
}

// Peek returns the item at the head of the queue without removing it.
func (m *Manager) Peek() (model.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return model.QueueItem{}, false
	}
	return m.items[0], true
}

// Pop removes and returns the item at the head of the queue.
func (m *Manager) Pop() (model.QueueItem, bool) {
	m.mu.Lock()
	if len(m.items) == 0 {
		m.mu.Unlock()
		return model.QueueItem{}, false
	}
	item := m.items[0]
	m.items = m.items[1:]
	delete(m.byID, item.Id())
	m.mu.Unlock()

	m.bus.Publish(eventbus.QueueItemRemoved, item)
	m.bus.Publish(eventbus.QueueUpdated, m.Snapshot())
	m.schedulePersist()
	return item, true
}

// Snapshot returns a defensive copy of the current queue order.
func (m *Manager) Snapshot() []model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// UpdateDownloadState mutates the download state of the item with the
// given id in place, then publishes QUEUE_UPDATED. It is a no-op if the
// item is no longer queued (e.g. it was removed while a download was in
// flight).
func (m *Manager) UpdateDownloadState(id string, state model.DownloadState) {
	m.mu.Lock()
	found := false
	for i := range m.items {
		if m.items[i].Id() == id {
			m.items[i].DownloadState = state
			found = true
			break
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if found {
		m.bus.Publish(eventbus.QueueUpdated, snap)
		m.schedulePersist()
	}
}

func (m *Manager) snapshotLocked() []model.QueueItem {
	out := make([]model.QueueItem, len(m.items))
	copy(out, m.items)
	return out
}

// tailIndexForClass returns the index at which an item of the given
// priority class should be inserted to land at the tail of its class.
// Must be called with m.mu held.
func (m *Manager) tailIndexForClass(p model.Priority) int {
	last := -1
	for i, it := range m.items {
		if it.Priority.Less(p) || it.Priority == p {
			last = i
		} else {
			break
		}
	}
	return last + 1
}
