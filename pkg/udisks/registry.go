// Diskmount Core
// Copyright (c) 2026 The Diskmount Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Diskmount Core.
//
// Diskmount Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Diskmount Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Diskmount Core.  If not, see <http://www.gnu.org/licenses/>.

package udisks

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/DiskmountProject/diskmount-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
)

// Bounds for the removed-device side table. Entries only exist to complete
// in-flight event synthesis after a removal, so retention can be short.
const (
	deletedRetention  = 30 * time.Second
	deletedMaxEntries = 64
)

type deletedEntry struct {
	removedAt time.Time
	props     InterfaceSet
}

// Registry is the authoritative mapping from identity to last-known raw
// state. Mutation is single-writer (the protocol daemon's notification
// loop); event handlers and menu builders read through the RWMutex between
// notification-processing steps.
//
// Stored InterfaceSets are never mutated in place: every update clones,
// applies, and swaps, so views handed out earlier stay valid snapshots.
type Registry struct {
	clock   clockwork.Clock
	objects map[Identity]InterfaceSet
	deleted map[Identity]deletedEntry
	mu      syncutil.RWMutex
}

// NewRegistry creates an empty registry. A nil clock selects the real clock;
// tests inject a fake to drive side-table expiry.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:   clock,
		objects: make(map[Identity]InterfaceSet),
		deleted: make(map[Identity]deletedEntry),
	}
}

func (r *Registry) view(id Identity, props InterfaceSet) DeviceView {
	if props == nil {
		return DeviceView{}
	}
	return NewDeviceView(id, props, r)
}

// Upsert replaces the identity's raw state wholesale and returns the new
// view. Calling it twice with identical state is idempotent.
func (r *Registry) Upsert(id Identity, props InterfaceSet) DeviceView {
	clone := props.Clone()
	r.mu.Lock()
	r.objects[id] = clone
	delete(r.deleted, id)
	r.mu.Unlock()
	return r.view(id, clone)
}

// MergeInterfaces merges added interfaces into the identity's state,
// creating the object if it was unknown. It returns the before/after view
// pair; old is the zero view when the object is new.
func (r *Registry) MergeInterfaces(id Identity, added InterfaceSet) (old, updated DeviceView, existed bool) {
	r.mu.Lock()
	prev, existed := r.objects[id]
	next := prev.Clone()
	if next == nil {
		next = make(InterfaceSet, len(added))
	}
	next.Merge(added)
	r.objects[id] = next
	delete(r.deleted, id)
	r.mu.Unlock()
	return r.view(id, prev), r.view(id, next), existed
}

// DropInterfaces removes interfaces from the identity's state. When the set
// becomes empty the object is retired to the deleted side table, equivalent
// to a removal. Unknown identities yield known == false and no mutation.
func (r *Registry) DropInterfaces(id Identity, interfaces []string) (old, updated DeviceView, removedAll, known bool) {
	r.mu.Lock()
	prev, known := r.objects[id]
	if !known {
		r.mu.Unlock()
		return DeviceView{}, DeviceView{}, false, false
	}
	next := prev.Clone()
	next.Drop(interfaces)
	if len(next) == 0 {
		delete(r.objects, id)
		r.retireLocked(id, prev)
		r.mu.Unlock()
		return r.view(id, prev), DeviceView{}, true, true
	}
	r.objects[id] = next
	r.mu.Unlock()
	return r.view(id, prev), r.view(id, next), false, true
}

// ApplyProperties applies a PropertiesChanged delta to one interface of the
// identity's state. Unknown identities yield known == false and no mutation.
func (r *Registry) ApplyProperties(id Identity, iface string, changed PropMap, invalidated []string) (old, updated DeviceView, known bool) {
	r.mu.Lock()
	prev, known := r.objects[id]
	if !known {
		r.mu.Unlock()
		return DeviceView{}, DeviceView{}, false
	}
	next := prev.Clone()
	next.Apply(iface, changed, invalidated)
	r.objects[id] = next
	r.mu.Unlock()
	return r.view(id, prev), r.view(id, next), true
}

// Remove retires the identity to the deleted side table and returns its
// last-known view, or the zero view if it was unknown.
func (r *Registry) Remove(id Identity) (DeviceView, bool) {
	r.mu.Lock()
	prev, known := r.objects[id]
	if known {
		delete(r.objects, id)
		r.retireLocked(id, prev)
	}
	r.mu.Unlock()
	if !known {
		return DeviceView{}, false
	}
	return r.view(id, prev), true
}

// retireLocked stores a removed object's last state, pruning expired and
// excess entries so long daemon lifetimes cannot grow the table unboundedly.
func (r *Registry) retireLocked(id Identity, props InterfaceSet) {
	now := r.clock.Now()
	for key, entry := range r.deleted {
		if now.Sub(entry.removedAt) > deletedRetention {
			delete(r.deleted, key)
		}
	}
	if len(r.deleted) >= deletedMaxEntries {
		oldest := Identity("")
		var oldestAt time.Time
		for key, entry := range r.deleted {
			if oldest == "" || entry.removedAt.Before(oldestAt) {
				oldest, oldestAt = key, entry.removedAt
			}
		}
		delete(r.deleted, oldest)
	}
	r.deleted[id] = deletedEntry{removedAt: now, props: props}
}

// View returns the current view of the identity. It implements Resolver.
func (r *Registry) View(id Identity) (DeviceView, bool) {
	r.mu.RLock()
	props, ok := r.objects[id]
	r.mu.RUnlock()
	if !ok {
		return DeviceView{}, false
	}
	return r.view(id, props), true
}

// Deleted returns the last-known view of a recently removed identity, for
// completing in-flight event synthesis.
func (r *Registry) Deleted(id Identity) (DeviceView, bool) {
	r.mu.RLock()
	entry, ok := r.deleted[id]
	r.mu.RUnlock()
	if !ok || r.clock.Now().Sub(entry.removedAt) > deletedRetention {
		return DeviceView{}, false
	}
	return r.view(id, entry.props), true
}

// Raw returns a clone of the identity's raw state. Used for job-record
// lookup, where the reconciler needs properties of non-device objects.
func (r *Registry) Raw(id Identity) (InterfaceSet, bool) {
	r.mu.RLock()
	props, ok := r.objects[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return props.Clone(), true
}

// Views returns the current device and drive views in a stable order,
// excluding jobs and deleted entries. It implements Resolver.
func (r *Registry) Views() []DeviceView {
	r.mu.RLock()
	ids := make([]Identity, 0, len(r.objects))
	for id := range r.objects {
		if id.IsDeviceOrDrive() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	views := make([]DeviceView, 0, len(ids))
	for _, id := range ids {
		if view, ok := r.View(id); ok {
			views = append(views, view)
		}
	}
	return views
}

// Find locates a device by its device file path or any of its mount paths.
func (r *Registry) Find(path string) (DeviceView, bool) {
	clean := filepath.Clean(path)
	for _, view := range r.Views() {
		if view.DeviceFile() != "" && filepath.Clean(view.DeviceFile()) == clean {
			return view, true
		}
		for _, mount := range view.MountPaths() {
			if filepath.Clean(mount) == clean {
				return view, true
			}
		}
	}
	return DeviceView{}, false
}
