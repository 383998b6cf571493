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

// Resolver resolves identities to current device views. It is implemented
// by Registry. Relationship queries on a view resolve through it and return
// the zero view when the target identity is unknown — removal and creation
// are not atomic across notifications, so dangling references are normal.
type Resolver interface {
	View(id Identity) (DeviceView, bool)
	Views() []DeviceView
}

// DeviceView is an immutable, point-in-time semantic wrapper over one
// identity's InterfaceSet. Every query is a pure function of the set (plus
// the resolver for relationship traversal) and is safe to call when backing
// interfaces are absent: absence yields a well-defined negative answer.
type DeviceView struct {
	reg   Resolver
	props InterfaceSet
	id    Identity
}

// NewDeviceView wraps props for id. The caller must not mutate props after
// handing it over.
func NewDeviceView(id Identity, props InterfaceSet, reg Resolver) DeviceView {
	return DeviceView{id: id, props: props, reg: reg}
}

// Identity returns the stable handle of the viewed object.
func (v DeviceView) Identity() Identity { return v.id }

// IsZero reports whether this is the "no device" view.
func (v DeviceView) IsZero() bool { return v.id == "" }

func (v DeviceView) String() string { return string(v.id) }

func (v DeviceView) resolve(id Identity) DeviceView {
	if id.IsZero() || v.reg == nil {
		return DeviceView{}
	}
	view, ok := v.reg.View(id)
	if !ok {
		return DeviceView{}
	}
	return view
}

// Interface availability.

func (v DeviceView) IsDrive() bool          { return v.props.Has(InterfaceDrive) }
func (v DeviceView) IsBlock() bool          { return v.props.Has(InterfaceBlock) }
func (v DeviceView) IsPartition() bool      { return v.props.Has(InterfacePartition) }
func (v DeviceView) IsPartitionTable() bool { return v.props.Has(InterfacePartitionTable) }
func (v DeviceView) IsFilesystem() bool     { return v.props.Has(InterfaceFilesystem) }
func (v DeviceView) IsLUKS() bool           { return v.props.Has(InterfaceEncrypted) }
func (v DeviceView) IsLoop() bool           { return v.props.Has(InterfaceLoop) }

// Block device attributes.

// DeviceFile is the filesystem path of the device block file, e.g. /dev/sdb1.
func (v DeviceView) DeviceFile() string {
	path, _ := v.props.ByteString(InterfaceBlock, "Device")
	return path
}

// DevicePresentation is the device file path to present to the user.
func (v DeviceView) DevicePresentation() string {
	path, _ := v.props.ByteString(InterfaceBlock, "PreferredDevice")
	return path
}

// Symlinks returns the device file symlinks, e.g. /dev/disk/by-uuid/... .
func (v DeviceView) Symlinks() []string {
	links, _ := v.props.ByteStrings(InterfaceBlock, "Symlinks")
	return links
}

// SizeBytes is the size of the device in bytes.
func (v DeviceView) SizeBytes() uint64 {
	size, _ := v.props.Uint64(InterfaceBlock, "Size")
	return size
}

// IDUsage is the device usage class, e.g. "filesystem" or "crypto".
func (v DeviceView) IDUsage() string {
	usage, _ := v.props.String(InterfaceBlock, "IdUsage")
	return usage
}

// IDType refines IDUsage, e.g. "ext4" for "filesystem" or "crypto_LUKS"
// for "crypto".
func (v DeviceView) IDType() string {
	t, _ := v.props.String(InterfaceBlock, "IdType")
	return t
}

// IDLabel is the filesystem label, if any.
func (v DeviceView) IDLabel() string {
	label, _ := v.props.String(InterfaceBlock, "IdLabel")
	return label
}

// IDUUID is the filesystem or container UUID.
func (v DeviceView) IDUUID() string {
	uuid, _ := v.props.String(InterfaceBlock, "IdUUID")
	return uuid
}

// IsCrypto reports whether the block content is an encrypted container.
func (v DeviceView) IsCrypto() bool { return v.IDUsage() == "crypto" }

// HintIgnore reports the UDisks presentation hint to ignore the device.
func (v DeviceView) HintIgnore() bool {
	ignore, _ := v.props.Bool(InterfaceBlock, "HintIgnore")
	return ignore
}

// IsTopLevel reports whether the device sits at the top of its container
// chain (neither a partition nor an unlocked cleartext device).
func (v DeviceView) IsTopLevel() bool {
	return !v.IsPartition() && !v.IsLUKSCleartext()
}

// Relationships. Traversal is depth-bounded via visited sets where a
// malformed topology could otherwise cycle.

// Drive returns the drive that owns this device, or the zero view.
func (v DeviceView) Drive() DeviceView {
	return v.driveOf(map[Identity]bool{})
}

func (v DeviceView) driveOf(seen map[Identity]bool) DeviceView {
	if seen[v.id] {
		return DeviceView{}
	}
	seen[v.id] = true
	if v.IsDrive() {
		return v
	}
	if slave := v.LUKSCleartextSlave(); !slave.IsZero() {
		return slave.driveOf(seen)
	}
	if drive, ok := v.props.Path(InterfaceBlock, "Drive"); ok && !drive.IsZero() {
		return v.resolve(drive)
	}
	if slave := v.PartitionSlave(); !slave.IsZero() {
		// Legacy protocol objects carry no Drive reference; walk the
		// partition chain instead.
		return slave.driveOf(seen)
	}
	return DeviceView{}
}

// assocDrive unifies drive-attribute access for top level block devices and
// drive objects themselves.
func (v DeviceView) assocDrive() DeviceView {
	if v.IsDrive() {
		return v
	}
	if v.IsTopLevel() {
		return v.Drive()
	}
	return v
}

// HasMedia reports whether media is available in the owning drive.
func (v DeviceView) HasMedia() bool {
	media, _ := v.assocDrive().props.Bool(InterfaceDrive, "MediaAvailable")
	return media
}

// IsEjectable reports whether the owning drive can eject its media.
func (v DeviceView) IsEjectable() bool {
	ejectable, _ := v.assocDrive().props.Bool(InterfaceDrive, "Ejectable")
	return ejectable
}

// IsDetachable reports whether the owning drive can be powered off.
func (v DeviceView) IsDetachable() bool {
	detachable, _ := v.assocDrive().props.Bool(InterfaceDrive, "CanPowerOff")
	return detachable
}

// PartitionSlave returns the partition table containing this partition, or
// the zero view.
func (v DeviceView) PartitionSlave() DeviceView {
	table, ok := v.props.Path(InterfacePartition, "Table")
	if !ok {
		return DeviceView{}
	}
	return v.resolve(table)
}

// LUKSCleartextSlave returns the encrypted device backing this cleartext
// device, or the zero view.
func (v DeviceView) LUKSCleartextSlave() DeviceView {
	backing, ok := v.props.Path(InterfaceBlock, "CryptoBackingDevice")
	if !ok || backing.IsZero() {
		return DeviceView{}
	}
	return v.resolve(backing)
}

// IsLUKSCleartext reports whether this device is the unlocked cleartext of
// an encrypted container.
func (v DeviceView) IsLUKSCleartext() bool {
	backing, ok := v.props.Path(InterfaceBlock, "CryptoBackingDevice")
	return ok && !backing.IsZero()
}

// LUKSCleartextHolder returns the cleartext device unlocked from this
// container, or the zero view. Newer services store the reference on the
// container itself; otherwise the relationship only exists on the cleartext
// side and the registry is scanned.
func (v DeviceView) LUKSCleartextHolder() DeviceView {
	if !v.IsLUKS() {
		return DeviceView{}
	}
	if holder, ok := v.props.Path(InterfaceEncrypted, "CleartextDevice"); ok && !holder.IsZero() {
		return v.resolve(holder)
	}
	if v.reg == nil {
		return DeviceView{}
	}
	for _, candidate := range v.reg.Views() {
		backing, ok := candidate.props.Path(InterfaceBlock, "CryptoBackingDevice")
		if ok && backing == v.id {
			return candidate
		}
	}
	return DeviceView{}
}

// IsUnlocked reports whether this encrypted container has a cleartext
// holder.
func (v DeviceView) IsUnlocked() bool {
	return !v.LUKSCleartextHolder().IsZero()
}

// Filesystem attributes.

// IsMounted reports whether the filesystem has at least one mount point.
func (v DeviceView) IsMounted() bool {
	paths, ok := v.props.ByteStrings(InterfaceFilesystem, "MountPoints")
	return ok && len(paths) > 0
}

// MountPaths returns the active mount paths, empty when not mounted.
func (v DeviceView) MountPaths() []string {
	paths, _ := v.props.ByteStrings(InterfaceFilesystem, "MountPoints")
	return paths
}

// IsExternal reports whether the device is not system internal. UDisks2
// sometimes guesses HintSystem wrong for unlocked cleartext devices, so
// parent devices are checked recursively.
func (v DeviceView) IsExternal() bool {
	return v.isExternal(map[Identity]bool{})
}

func (v DeviceView) isExternal(seen map[Identity]bool) bool {
	if seen[v.id] {
		return false
	}
	seen[v.id] = true
	if hintSystem, ok := v.props.Bool(InterfaceBlock, "HintSystem"); ok && !hintSystem {
		return true
	}
	if slave := v.LUKSCleartextSlave(); !slave.IsZero() && slave.isExternal(seen) {
		return true
	}
	if slave := v.PartitionSlave(); !slave.IsZero() && slave.isExternal(seen) {
		return true
	}
	return false
}

// InUse reports whether the device is mounted, unlocked, or a partition
// table with any child in use. The visited set keeps a self-referential
// table from hanging the call.
func (v DeviceView) InUse() bool {
	return v.inUse(map[Identity]bool{})
}

func (v DeviceView) inUse(seen map[Identity]bool) bool {
	if seen[v.id] {
		return false
	}
	seen[v.id] = true
	if v.IsMounted() || v.IsUnlocked() {
		return true
	}
	if v.IsPartitionTable() && v.reg != nil {
		for _, child := range v.reg.Views() {
			table, ok := child.props.Path(InterfacePartition, "Table")
			if ok && table == v.id && child.inUse(seen) {
				return true
			}
		}
	}
	return false
}

// UILabel is the best human-readable name for the device.
func (v DeviceView) UILabel() string {
	if label := v.IDLabel(); label != "" {
		return label
	}
	if path := v.DevicePresentation(); path != "" {
		return path
	}
	return v.DeviceFile()
}

// Attr resolves one rule-matching attribute by name through an explicit
// typed accessor table. The second return is false for unknown attribute
// names, never for absent values (those resolve to the zero value).
func (v DeviceView) Attr(name string) (any, bool) {
	fn, ok := viewAttrs[name]
	if !ok {
		return nil, false
	}
	return fn(v), true
}

// viewAttrs is the attribute table used by device-matching rules.
var viewAttrs = map[string]func(DeviceView) any{
	"device_file":        func(v DeviceView) any { return v.DeviceFile() },
	"symlinks":           func(v DeviceView) any { return v.Symlinks() },
	"id_usage":           func(v DeviceView) any { return v.IDUsage() },
	"id_type":            func(v DeviceView) any { return v.IDType() },
	"id_label":           func(v DeviceView) any { return v.IDLabel() },
	"id_uuid":            func(v DeviceView) any { return v.IDUUID() },
	"is_drive":           func(v DeviceView) any { return v.IsDrive() },
	"is_block":           func(v DeviceView) any { return v.IsBlock() },
	"is_partition":       func(v DeviceView) any { return v.IsPartition() },
	"is_partition_table": func(v DeviceView) any { return v.IsPartitionTable() },
	"is_filesystem":      func(v DeviceView) any { return v.IsFilesystem() },
	"is_crypto":          func(v DeviceView) any { return v.IsCrypto() },
	"is_luks":            func(v DeviceView) any { return v.IsLUKS() },
	"is_loop":            func(v DeviceView) any { return v.IsLoop() },
	"is_external":        func(v DeviceView) any { return v.IsExternal() },
	"is_mounted":         func(v DeviceView) any { return v.IsMounted() },
	"is_unlocked":        func(v DeviceView) any { return v.IsUnlocked() },
	"is_ignored":         func(v DeviceView) any { return v.HintIgnore() },
	"has_media":          func(v DeviceView) any { return v.HasMedia() },
	"is_ejectable":       func(v DeviceView) any { return v.IsEjectable() },
	"is_detachable":      func(v DeviceView) any { return v.IsDetachable() },
}
