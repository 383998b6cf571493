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

// Package udisks1 implements the legacy device source. The legacy service
// exposes one flat property bag per device and only signals which device
// changed, so state is read eagerly at observation time and translated into
// the interface-keyed shape the device view understands. No legacy property
// name leaks past this package.
package udisks1

import (
	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/godbus/dbus/v5"
)

// Legacy service location and names.
const (
	BusName          = "org.freedesktop.UDisks"
	ObjectRoot       = "/org/freedesktop/UDisks"
	ManagerInterface = "org.freedesktop.UDisks"
	DeviceInterface  = "org.freedesktop.UDisks.Device"
)

// FlatProps is one device's legacy property bag, as returned by a bulk
// property read on the device interface.
type FlatProps map[string]dbus.Variant

func (p FlatProps) bool(name string) bool {
	v, ok := p[name]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

func (p FlatProps) present(name string) (dbus.Variant, bool) {
	v, ok := p[name]
	return v, ok
}

// Adapt translates a legacy property bag into the unified InterfaceSet
// shape. Capability interfaces are synthesized from the legacy boolean
// markers; property values are re-keyed onto the modern names so DeviceView
// stays generation-agnostic.
func Adapt(props FlatProps) udisks.InterfaceSet {
	set := make(udisks.InterfaceSet, 4)

	block := make(udisks.PropMap, 8)
	copyProp(block, "Device", props, "DeviceFile")
	copyProp(block, "PreferredDevice", props, "DeviceFilePresentation")
	copyProp(block, "Symlinks", props, "DeviceFileById")
	copyProp(block, "IdUsage", props, "IdUsage")
	copyProp(block, "IdType", props, "IdType")
	copyProp(block, "IdLabel", props, "IdLabel")
	copyProp(block, "IdUUID", props, "IdUuid")
	copyProp(block, "Size", props, "DeviceSize")
	copyProp(block, "HintSystem", props, "DeviceIsSystemInternal")
	if props.bool("DeviceIsLuksCleartext") {
		copyProp(block, "CryptoBackingDevice", props, "LuksCleartextSlave")
	}
	set[udisks.InterfaceBlock] = block

	if props.bool("DeviceIsDrive") {
		drive := make(udisks.PropMap, 3)
		copyProp(drive, "MediaAvailable", props, "DeviceIsMediaAvailable")
		copyProp(drive, "Ejectable", props, "DriveIsMediaEjectable")
		copyProp(drive, "CanPowerOff", props, "DriveCanDetach")
		set[udisks.InterfaceDrive] = drive
	}

	if usage, ok := block["IdUsage"]; ok {
		if s, _ := usage.Value().(string); s == "filesystem" {
			fs := make(udisks.PropMap, 1)
			if props.bool("DeviceIsMounted") {
				copyProp(fs, "MountPoints", props, "DeviceMountPaths")
			}
			set[udisks.InterfaceFilesystem] = fs
		}
	}

	if props.bool("DeviceIsLuks") {
		encrypted := make(udisks.PropMap, 1)
		copyProp(encrypted, "CleartextDevice", props, "LuksHolder")
		set[udisks.InterfaceEncrypted] = encrypted
	}

	if props.bool("DeviceIsPartition") {
		partition := make(udisks.PropMap, 1)
		copyProp(partition, "Table", props, "PartitionSlave")
		set[udisks.InterfacePartition] = partition
	}

	if props.bool("DeviceIsPartitionTable") {
		set[udisks.InterfacePartitionTable] = make(udisks.PropMap)
	}

	return set
}

func copyProp(dst udisks.PropMap, dstName string, src FlatProps, srcName string) {
	if v, ok := src.present(srcName); ok {
		dst[dstName] = v
	}
}
