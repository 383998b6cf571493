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

// Package udisks2 implements the modern, ObjectManager-based device source:
// a reconciler that folds raw bus notifications into the device registry and
// synthesizes semantic events from the resulting state deltas.
package udisks2

import (
	"context"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
)

// NotificationKind enumerates the raw notification kinds of the modern
// protocol.
type NotificationKind int

const (
	// InterfacesAdded carries a full or partial InterfaceSet for an
	// object. A previously unknown object appearing with its full set is
	// the "object appeared" case.
	InterfacesAdded NotificationKind = iota
	// InterfacesRemoved names interfaces dropped from an object. An
	// object losing its last interface has disappeared.
	InterfacesRemoved
	// PropertiesChanged carries a changed-properties map and an
	// invalidated-keys list for one interface of one object.
	PropertiesChanged
	// JobCompleted reports the end of a long-running job object.
	JobCompleted
)

// Notification is one raw transport notification. Which fields are set
// depends on Kind.
type Notification struct {
	Interfaces  udisks.InterfaceSet
	Changed     udisks.PropMap
	Interface   string
	Message     string
	Removed     []string
	Invalidated []string
	Object      udisks.Identity
	Kind        NotificationKind
	Success     bool
}

// Transport is the opaque asynchronous boundary to the bus. Subscribe must
// be called before Enumerate so that notifications arriving while the
// snapshot is taken are queued rather than lost; the daemon merges the
// snapshot first and then drains the queue, relying on notification
// processing being idempotent for duplicates.
type Transport interface {
	Subscribe(ctx context.Context) (<-chan Notification, error)
	Enumerate(ctx context.Context) (map[udisks.Identity]udisks.InterfaceSet, error)
	Close() error
}
