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

// Package udisks implements the device-state model shared by both UDisks
// protocol generations: raw per-object property sets, derived device views,
// the device registry, event synthesis and event dispatch.
package udisks

import "strings"

// BusName and ObjectRoot locate the modern UDisks service on the system bus.
const (
	BusName    = "org.freedesktop.UDisks2"
	ObjectRoot = "/org/freedesktop/UDisks2"
)

// UDisks2 interface names used as InterfaceSet keys. The legacy protocol
// adapter translates its flat property bags into this same keying so that
// DeviceView never sees generation-specific names.
const (
	InterfaceDrive          = "org.freedesktop.UDisks2.Drive"
	InterfaceBlock          = "org.freedesktop.UDisks2.Block"
	InterfacePartition      = "org.freedesktop.UDisks2.Partition"
	InterfacePartitionTable = "org.freedesktop.UDisks2.PartitionTable"
	InterfaceFilesystem     = "org.freedesktop.UDisks2.Filesystem"
	InterfaceEncrypted      = "org.freedesktop.UDisks2.Encrypted"
	InterfaceLoop           = "org.freedesktop.UDisks2.Loop"
	InterfaceJob            = "org.freedesktop.UDisks2.Job"
	InterfaceObjectManager  = "org.freedesktop.DBus.ObjectManager"
	InterfaceProperties     = "org.freedesktop.DBus.Properties"
)

// Identity is the stable D-Bus object path naming one device, drive or job
// across its lifetime. It is the registry map key everywhere.
type Identity string

// Kind classifies an identity by its position under the UDisks2 object root.
type Kind int

const (
	KindUnknown Kind = iota
	KindDevice
	KindDrive
	KindJob
)

// IsZero reports whether the identity names nothing. UDisks encodes "no
// object" relationships as the root path "/".
func (id Identity) IsZero() bool {
	return id == "" || id == "/"
}

// Kind returns the object kind derived from the path layout
// (/org/freedesktop/UDisks2/{block_devices,drives,jobs}/...).
func (id Identity) Kind() Kind {
	parts := strings.Split(string(id), "/")
	if len(parts) < 5 {
		return KindUnknown
	}
	switch parts[4] {
	case "block_devices", "devices":
		// "devices" is the legacy protocol's path segment.
		return KindDevice
	case "drives":
		return KindDrive
	case "jobs":
		return KindJob
	default:
		return KindUnknown
	}
}

// IsDeviceOrDrive reports whether the identity names an object that event
// synthesis cares about (jobs and manager objects are handled separately).
func (id Identity) IsDeviceOrDrive() bool {
	k := id.Kind()
	return k == KindDevice || k == KindDrive
}
