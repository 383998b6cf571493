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

func props(pairs map[string]any) PropMap {
	m := make(PropMap, len(pairs))
	for k, v := range pairs {
		m[k] = dbus.MakeVariant(v)
	}
	return m
}

func TestInterfaceSetByteStringTrimsNul(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{
		InterfaceBlock: props(map[string]any{
			"Device": []byte("/dev/sdb1\x00"),
		}),
	}

	device, ok := set.ByteString(InterfaceBlock, "Device")
	require.True(t, ok)
	assert.Equal(t, "/dev/sdb1", device)
}

func TestInterfaceSetByteStringAcceptsPlainString(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{
		InterfaceBlock: props(map[string]any{"Device": "/dev/sdb1"}),
	}

	device, ok := set.ByteString(InterfaceBlock, "Device")
	require.True(t, ok)
	assert.Equal(t, "/dev/sdb1", device)
}

func TestInterfaceSetByteStringsDecodesBothShapes(t *testing.T) {
	t.Parallel()

	fromBytes := InterfaceSet{
		InterfaceFilesystem: props(map[string]any{
			"MountPoints": [][]byte{[]byte("/media/usb\x00")},
		}),
	}
	paths, ok := fromBytes.ByteStrings(InterfaceFilesystem, "MountPoints")
	require.True(t, ok)
	assert.Equal(t, []string{"/media/usb"}, paths)

	fromStrings := InterfaceSet{
		InterfaceFilesystem: props(map[string]any{
			"MountPoints": []string{"/media/usb"},
		}),
	}
	paths, ok = fromStrings.ByteStrings(InterfaceFilesystem, "MountPoints")
	require.True(t, ok)
	assert.Equal(t, []string{"/media/usb"}, paths)
}

func TestInterfaceSetAbsenceIsSentinelNotError(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{InterfaceBlock: props(map[string]any{})}

	_, ok := set.Bool(InterfaceDrive, "MediaAvailable")
	assert.False(t, ok, "absent interface")

	_, ok = set.String(InterfaceBlock, "IdLabel")
	assert.False(t, ok, "absent property")

	_, ok = set.Uint64(InterfaceBlock, "Size")
	assert.False(t, ok)
}

func TestInterfaceSetPathResolvesObjectPaths(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{
		InterfacePartition: props(map[string]any{
			"Table": dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb"),
		}),
	}

	table, ok := set.Path(InterfacePartition, "Table")
	require.True(t, ok)
	assert.Equal(t, Identity("/org/freedesktop/UDisks2/block_devices/sdb"), table)
}

func TestInterfaceSetCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := InterfaceSet{
		InterfaceBlock: props(map[string]any{"IdLabel": "STICK"}),
	}
	clone := original.Clone()
	clone[InterfaceBlock]["IdLabel"] = dbus.MakeVariant("CHANGED")

	label, ok := original.String(InterfaceBlock, "IdLabel")
	require.True(t, ok)
	assert.Equal(t, "STICK", label)
}

func TestInterfaceSetMergeReplacesWholeInterfaces(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{
		InterfaceBlock: props(map[string]any{"IdLabel": "OLD", "IdUsage": "filesystem"}),
	}
	set.Merge(InterfaceSet{
		InterfaceBlock:      props(map[string]any{"IdLabel": "NEW"}),
		InterfaceFilesystem: props(map[string]any{}),
	})

	label, ok := set.String(InterfaceBlock, "IdLabel")
	require.True(t, ok)
	assert.Equal(t, "NEW", label)

	// Whole-interface replacement drops properties the new payload omits.
	_, ok = set.String(InterfaceBlock, "IdUsage")
	assert.False(t, ok)
	assert.True(t, set.Has(InterfaceFilesystem))
}

func TestInterfaceSetApplyChangedAndInvalidated(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{
		InterfaceBlock: props(map[string]any{"IdLabel": "OLD", "IdUsage": "filesystem"}),
	}
	set.Apply(InterfaceBlock, props(map[string]any{"IdLabel": "NEW"}), []string{"IdUsage"})

	label, ok := set.String(InterfaceBlock, "IdLabel")
	require.True(t, ok)
	assert.Equal(t, "NEW", label)
	_, ok = set.String(InterfaceBlock, "IdUsage")
	assert.False(t, ok)
}

func TestInterfaceSetApplyUnknownInterfaceCreatesIt(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{}
	set.Apply(InterfaceDrive, props(map[string]any{"MediaAvailable": true}), nil)

	media, ok := set.Bool(InterfaceDrive, "MediaAvailable")
	require.True(t, ok)
	assert.True(t, media)
}

func TestInterfaceSetDrop(t *testing.T) {
	t.Parallel()

	set := InterfaceSet{
		InterfaceBlock:      props(map[string]any{}),
		InterfaceFilesystem: props(map[string]any{}),
	}
	set.Drop([]string{InterfaceFilesystem, "org.example.NotThere"})

	assert.True(t, set.Has(InterfaceBlock))
	assert.False(t, set.Has(InterfaceFilesystem))
}
