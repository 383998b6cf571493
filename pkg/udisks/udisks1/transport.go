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

package udisks1

import (
	"context"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
)

// NotificationKind enumerates the raw notification kinds of the legacy
// protocol. They are much coarser than the modern kinds: add and change
// carry a full fresh property bag, remove carries nothing.
type NotificationKind int

const (
	DeviceAdded NotificationKind = iota
	DeviceRemoved
	DeviceChanged
	// JobChanged reports both job start (InProgress true) and completion
	// (InProgress false) against the job's target device.
	JobChanged
)

// Notification is one raw legacy notification. Props is set on add and
// change; the job fields only on JobChanged.
type Notification struct {
	Props      FlatProps
	JobID      string
	Object     udisks.Identity
	Percent    float64
	Kind       NotificationKind
	InProgress bool
}

// Transport is the asynchronous boundary to the legacy bus. The same
// subscribe-before-enumerate ordering contract applies as for the modern
// protocol.
type Transport interface {
	Subscribe(ctx context.Context) (<-chan Notification, error)
	Enumerate(ctx context.Context) (map[udisks.Identity]FlatProps, error)
	Close() error
}
