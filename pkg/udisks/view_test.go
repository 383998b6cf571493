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
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	driveSDB     = Identity("/org/freedesktop/UDisks2/drives/stick")
	blockSDB     = Identity("/org/freedesktop/UDisks2/block_devices/sdb")
	blockSDB1    = Identity("/org/freedesktop/UDisks2/block_devices/sdb1")
	blockSDB2    = Identity("/org/freedesktop/UDisks2/block_devices/sdb2")
	blockDMLuks  = Identity("/org/freedesktop/UDisks2/block_devices/dm_0")
	jobMountSDB1 = Identity("/org/freedesktop/UDisks2/jobs/1")
)

// seedStick populates a registry with a drive, a partition table, a mounted
// filesystem partition and a LUKS partition with its cleartext holder.
func seedStick(t *testing.T, reg *Registry) {
	t.Helper()
	reg.Upsert(driveSDB, InterfaceSet{
		InterfaceDrive: props(map[string]any{
			"MediaAvailable": true,
			"Ejectable":      true,
			"CanPowerOff":    true,
		}),
	})
	reg.Upsert(blockSDB, InterfaceSet{
		InterfaceBlock: props(map[string]any{
			"Device":     []byte("/dev/sdb\x00"),
			"Drive":      dbus.ObjectPath(driveSDB),
			"HintSystem": false,
		}),
		InterfacePartitionTable: props(map[string]any{}),
	})
	reg.Upsert(blockSDB1, InterfaceSet{
		InterfaceBlock: props(map[string]any{
			"Device":     []byte("/dev/sdb1\x00"),
			"Drive":      dbus.ObjectPath(driveSDB),
			"IdUsage":    "filesystem",
			"IdType":     "vfat",
			"IdLabel":    "STICK",
			"IdUUID":     "1234-ABCD",
			"HintSystem": false,
		}),
		InterfaceFilesystem: props(map[string]any{
			"MountPoints": [][]byte{[]byte("/media/stick\x00")},
		}),
		InterfacePartition: props(map[string]any{
			"Table": dbus.ObjectPath(blockSDB),
		}),
	})
	reg.Upsert(blockSDB2, InterfaceSet{
		InterfaceBlock: props(map[string]any{
			"Device":     []byte("/dev/sdb2\x00"),
			"Drive":      dbus.ObjectPath(driveSDB),
			"IdUsage":    "crypto",
			"IdType":     "crypto_LUKS",
			"IdUUID":     "dead-beef",
			"HintSystem": false,
		}),
		InterfaceEncrypted: props(map[string]any{}),
		InterfacePartition: props(map[string]any{
			"Table": dbus.ObjectPath(blockSDB),
		}),
	})
	reg.Upsert(blockDMLuks, InterfaceSet{
		InterfaceBlock: props(map[string]any{
			"Device":              []byte("/dev/dm-0\x00"),
			"CryptoBackingDevice": dbus.ObjectPath(blockSDB2),
			"IdUsage":             "filesystem",
			"IdType":              "ext4",
			// The service guesses wrong for cleartext devices.
			"HintSystem": true,
		}),
		InterfaceFilesystem: props(map[string]any{}),
	})
}

func TestDeviceViewBasicQueries(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	view, ok := reg.View(blockSDB1)
	require.True(t, ok)

	assert.True(t, view.IsBlock())
	assert.True(t, view.IsFilesystem())
	assert.True(t, view.IsPartition())
	assert.False(t, view.IsDrive())
	assert.False(t, view.IsLUKS())
	assert.Equal(t, "/dev/sdb1", view.DeviceFile())
	assert.Equal(t, "STICK", view.IDLabel())
	assert.Equal(t, "vfat", view.IDType())
	assert.True(t, view.IsMounted())
	assert.Equal(t, []string{"/media/stick"}, view.MountPaths())
	assert.False(t, view.IsTopLevel())
}

func TestDeviceViewAbsentInterfacesAreNegative(t *testing.T) {
	t.Parallel()

	view := NewDeviceView(blockSDB1, InterfaceSet{}, nil)

	assert.False(t, view.IsFilesystem())
	assert.False(t, view.IsMounted())
	assert.Empty(t, view.MountPaths())
	assert.Empty(t, view.DeviceFile())
	assert.False(t, view.HasMedia())
	assert.True(t, view.Drive().IsZero())
}

func TestDeviceViewDriveResolution(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	partition, ok := reg.View(blockSDB1)
	require.True(t, ok)
	assert.Equal(t, driveSDB, partition.Drive().Identity())

	// The cleartext device reaches the drive through its crypto backing
	// device.
	cleartext, ok := reg.View(blockDMLuks)
	require.True(t, ok)
	assert.Equal(t, driveSDB, cleartext.Drive().Identity())

	drive, ok := reg.View(driveSDB)
	require.True(t, ok)
	assert.Equal(t, driveSDB, drive.Drive().Identity())
}

func TestDeviceViewDriveAttributesViaAssociatedDrive(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	table, ok := reg.View(blockSDB)
	require.True(t, ok)
	assert.True(t, table.HasMedia())
	assert.True(t, table.IsEjectable())
	assert.True(t, table.IsDetachable())
}

func TestDeviceViewLUKSRelationships(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	container, ok := reg.View(blockSDB2)
	require.True(t, ok)
	assert.True(t, container.IsLUKS())
	assert.True(t, container.IsCrypto())
	assert.True(t, container.IsUnlocked())
	assert.Equal(t, blockDMLuks, container.LUKSCleartextHolder().Identity())

	cleartext, ok := reg.View(blockDMLuks)
	require.True(t, ok)
	assert.True(t, cleartext.IsLUKSCleartext())
	assert.Equal(t, blockSDB2, cleartext.LUKSCleartextSlave().Identity())
}

func TestDeviceViewCleartextHolderFromContainerProperty(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	container := Identity("/org/freedesktop/UDisks2/block_devices/sdc1")
	holder := Identity("/org/freedesktop/UDisks2/block_devices/dm_1")
	reg.Upsert(container, InterfaceSet{
		InterfaceBlock: props(map[string]any{"IdUsage": "crypto"}),
		InterfaceEncrypted: props(map[string]any{
			"CleartextDevice": dbus.ObjectPath(holder),
		}),
	})
	reg.Upsert(holder, InterfaceSet{
		InterfaceBlock: props(map[string]any{}),
	})

	view, ok := reg.View(container)
	require.True(t, ok)
	assert.Equal(t, holder, view.LUKSCleartextHolder().Identity())
	assert.True(t, view.IsUnlocked())
}

func TestDeviceViewIsExternalChecksParents(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	// HintSystem is true on the cleartext device itself, but its backing
	// partition is external.
	cleartext, ok := reg.View(blockDMLuks)
	require.True(t, ok)
	assert.True(t, cleartext.IsExternal())
}

func TestDeviceViewInUse(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	table, ok := reg.View(blockSDB)
	require.True(t, ok)
	assert.True(t, table.InUse(), "table with mounted child")

	partition, ok := reg.View(blockSDB1)
	require.True(t, ok)
	assert.True(t, partition.InUse())

	container, ok := reg.View(blockSDB2)
	require.True(t, ok)
	assert.True(t, container.InUse(), "unlocked container")
}

func TestDeviceViewInUseFalseWithoutDescendants(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	table := Identity("/org/freedesktop/UDisks2/block_devices/sdd")
	reg.Upsert(table, InterfaceSet{
		InterfaceBlock:          props(map[string]any{}),
		InterfacePartitionTable: props(map[string]any{}),
	})

	view, ok := reg.View(table)
	require.True(t, ok)
	assert.False(t, view.InUse())
}

func TestDeviceViewInUseSelfReferentialTableDoesNotHang(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	loop := Identity("/org/freedesktop/UDisks2/block_devices/weird")
	reg.Upsert(loop, InterfaceSet{
		InterfaceBlock:          props(map[string]any{}),
		InterfacePartitionTable: props(map[string]any{}),
		InterfacePartition: props(map[string]any{
			"Table": dbus.ObjectPath(loop),
		}),
	})

	view, ok := reg.View(loop)
	require.True(t, ok)
	assert.False(t, view.InUse())
	assert.True(t, view.Drive().IsZero() || view.Drive().Identity() == loop)
}

func TestDeviceViewDanglingReferencesResolveToZero(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	orphan := Identity("/org/freedesktop/UDisks2/block_devices/orphan")
	reg.Upsert(orphan, InterfaceSet{
		InterfaceBlock: props(map[string]any{
			"Drive": dbus.ObjectPath("/org/freedesktop/UDisks2/drives/gone"),
		}),
	})

	view, ok := reg.View(orphan)
	require.True(t, ok)
	assert.True(t, view.Drive().IsZero())
}

func TestDeviceViewAttrTable(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)
	view, ok := reg.View(blockSDB1)
	require.True(t, ok)

	label, ok := view.Attr("id_label")
	require.True(t, ok)
	assert.Equal(t, "STICK", label)

	mounted, ok := view.Attr("is_mounted")
	require.True(t, ok)
	assert.Equal(t, true, mounted)

	_, ok = view.Attr("no_such_attribute")
	assert.False(t, ok)
}

func TestDeviceViewUILabel(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	seedStick(t, reg)

	labeled, ok := reg.View(blockSDB1)
	require.True(t, ok)
	assert.Equal(t, "STICK", labeled.UILabel())

	unlabeled, ok := reg.View(blockSDB)
	require.True(t, ok)
	assert.Equal(t, "/dev/sdb", unlabeled.UILabel())
}
