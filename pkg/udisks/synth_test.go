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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func driveView(hasMedia bool) DeviceView {
	return NewDeviceView(driveSDB, InterfaceSet{
		InterfaceDrive: props(map[string]any{"MediaAvailable": hasMedia}),
	}, nil)
}

func filesystemView(mounted bool) DeviceView {
	set := InterfaceSet{
		InterfaceBlock:      props(map[string]any{"IdUsage": "filesystem"}),
		InterfaceFilesystem: props(map[string]any{}),
	}
	if mounted {
		set[InterfaceFilesystem] = props(map[string]any{
			"MountPoints": []string{"/media/stick"},
		})
	}
	return NewDeviceView(blockSDB1, set, nil)
}

func eventNames(events []Event) []EventName {
	names := make([]EventName, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

func TestDiffAppearanceAndDisappearance(t *testing.T) {
	t.Parallel()

	view := filesystemView(false)

	added := Diff(DeviceView{}, view)
	require.Len(t, added, 1)
	assert.Equal(t, EventDeviceAdded, added[0].Name)
	assert.Equal(t, view.Identity(), added[0].Device.Identity())

	removed := Diff(view, DeviceView{})
	require.Len(t, removed, 1)
	assert.Equal(t, EventDeviceRemoved, removed[0].Name)
	assert.Equal(t, view.Identity(), removed[0].Device.Identity())

	assert.Empty(t, Diff(DeviceView{}, DeviceView{}))
}

func TestDiffMediaToggle(t *testing.T) {
	t.Parallel()

	inserted := Diff(driveView(false), driveView(true))
	assert.Equal(t, []EventName{EventMediaAdded}, eventNames(inserted))

	ejected := Diff(driveView(true), driveView(false))
	assert.Equal(t, []EventName{EventMediaRemoved}, eventNames(ejected))

	// Identical states yield no events, in either polarity.
	assert.Empty(t, Diff(driveView(true), driveView(true)))
	assert.Empty(t, Diff(driveView(false), driveView(false)))
}

func TestDiffMediaRoundTripYieldsExactlyOnePair(t *testing.T) {
	t.Parallel()

	var names []EventName
	names = append(names, eventNames(Diff(driveView(false), driveView(true)))...)
	names = append(names, eventNames(Diff(driveView(true), driveView(false)))...)

	assert.Equal(t, []EventName{EventMediaAdded, EventMediaRemoved}, names)
}

func TestDiffMountToggle(t *testing.T) {
	t.Parallel()

	mounted := Diff(filesystemView(false), filesystemView(true))
	assert.Equal(t, []EventName{EventDeviceMounted}, eventNames(mounted))

	unmounted := Diff(filesystemView(true), filesystemView(false))
	assert.Equal(t, []EventName{EventDeviceUnmounted}, eventNames(unmounted))
}

func TestDiffMultipleTogglesEmitInFixedOrder(t *testing.T) {
	t.Parallel()

	// A single notification flipping both media and mount state is not
	// expected in practice but must come out in the declared order.
	old := NewDeviceView(blockSDB1, InterfaceSet{
		InterfaceDrive:      props(map[string]any{"MediaAvailable": false}),
		InterfaceFilesystem: props(map[string]any{}),
	}, nil)
	updated := NewDeviceView(blockSDB1, InterfaceSet{
		InterfaceDrive: props(map[string]any{"MediaAvailable": true}),
		InterfaceFilesystem: props(map[string]any{
			"MountPoints": []string{"/media/stick"},
		}),
	}, nil)

	events := Diff(old, updated)
	assert.Equal(t, []EventName{EventMediaAdded, EventDeviceMounted}, eventNames(events))
}

func TestDiffTogglesRestrictsToOneAttribute(t *testing.T) {
	t.Parallel()

	old := NewDeviceView(blockSDB1, InterfaceSet{
		InterfaceDrive:      props(map[string]any{"MediaAvailable": false}),
		InterfaceFilesystem: props(map[string]any{}),
	}, nil)
	updated := NewDeviceView(blockSDB1, InterfaceSet{
		InterfaceDrive: props(map[string]any{"MediaAvailable": true}),
		InterfaceFilesystem: props(map[string]any{
			"MountPoints": []string{"/media/stick"},
		}),
	}, nil)

	events := DiffToggles(old, updated, "is_mounted")
	assert.Equal(t, []EventName{EventDeviceMounted}, eventNames(events))
}

func TestJobOperationTables(t *testing.T) {
	t.Parallel()

	ing, ok := JobProgressEvent("encrypted-unlock")
	require.True(t, ok)
	assert.Equal(t, EventDeviceUnlocking, ing)

	ed, ok := JobCompletionEvent("encrypted-unlock")
	require.True(t, ok)
	assert.Equal(t, EventDeviceUnlocked, ed)

	// Mount completion is owned by the mount-point toggle, never by the
	// job table.
	_, ok = JobCompletionEvent("filesystem-mount")
	assert.False(t, ok)
	ing, ok = JobProgressEvent("filesystem-mount")
	require.True(t, ok)
	assert.Equal(t, EventDeviceMounting, ing)

	assert.False(t, KnownJobOperation("ata-smart-selftest"))
	assert.True(t, KnownJobOperation("encrypted-lock"))
}
