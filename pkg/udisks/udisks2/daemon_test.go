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

package udisks2

import (
	"context"
	"testing"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	blockSDB1 = udisks.Identity("/org/freedesktop/UDisks2/block_devices/sdb1")
	blockSDB2 = udisks.Identity("/org/freedesktop/UDisks2/block_devices/sdb2")
	driveSDB  = udisks.Identity("/org/freedesktop/UDisks2/drives/stick")
	unlockJob = udisks.Identity("/org/freedesktop/UDisks2/jobs/7")
)

func props(pairs map[string]any) udisks.PropMap {
	m := make(udisks.PropMap, len(pairs))
	for k, v := range pairs {
		m[k] = dbus.MakeVariant(v)
	}
	return m
}

func blockState(label string) udisks.InterfaceSet {
	return udisks.InterfaceSet{
		udisks.InterfaceBlock: props(map[string]any{
			"Device":  []byte("/dev/sdb1\x00"),
			"IdUsage": "filesystem",
			"IdLabel": label,
		}),
		udisks.InterfaceFilesystem: props(map[string]any{}),
	}
}

func unlockJobState(targets ...udisks.Identity) udisks.InterfaceSet {
	paths := make([]dbus.ObjectPath, len(targets))
	for i, t := range targets {
		paths[i] = dbus.ObjectPath(t)
	}
	return udisks.InterfaceSet{
		udisks.InterfaceJob: props(map[string]any{
			"Operation": "encrypted-unlock",
			"Objects":   paths,
			"Progress":  0.25,
		}),
	}
}

// fakeTransport feeds canned notifications after a canned snapshot.
type fakeTransport struct {
	notifications chan Notification
	snapshot      map[udisks.Identity]udisks.InterfaceSet
}

func newFakeTransport(snapshot map[udisks.Identity]udisks.InterfaceSet) *fakeTransport {
	return &fakeTransport{
		notifications: make(chan Notification, 32),
		snapshot:      snapshot,
	}
}

func (f *fakeTransport) Subscribe(_ context.Context) (<-chan Notification, error) {
	return f.notifications, nil
}

func (f *fakeTransport) Enumerate(_ context.Context) (map[udisks.Identity]udisks.InterfaceSet, error) {
	return f.snapshot, nil
}

func (*fakeTransport) Close() error { return nil }

func recordEvents(t *testing.T, d *udisks.Dispatcher) *[]udisks.Event {
	t.Helper()
	events := &[]udisks.Event{}
	for _, name := range udisks.EventNames() {
		d.Connect(name, func(ev udisks.Event) {
			*events = append(*events, ev)
		})
	}
	return events
}

func names(events []udisks.Event) []udisks.EventName {
	out := make([]udisks.EventName, len(events))
	for i, ev := range events {
		out[i] = ev.Name
	}
	return out
}

func TestDaemonSeedsWithoutEvents(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(map[udisks.Identity]udisks.InterfaceSet{
		blockSDB1: blockState("STICK"),
	})
	close(transport.notifications)
	daemon := NewDaemon(transport, nil, nil)
	events := recordEvents(t, daemon.Events())

	require.NoError(t, daemon.Run(context.Background()))

	assert.Empty(t, *events, "initial enumeration must not synthesize events")
	view, ok := daemon.Registry().View(blockSDB1)
	require.True(t, ok)
	assert.Equal(t, "STICK", view.IDLabel())
}

// A notification queued during the subscribe/enumerate gap that duplicates
// the snapshot folds idempotently: no duplicate device_added.
func TestDaemonStartupGapDuplicateIsNotReAnnounced(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(map[udisks.Identity]udisks.InterfaceSet{
		blockSDB1: blockState("STICK"),
	})
	transport.notifications <- Notification{
		Kind:       InterfacesAdded,
		Object:     blockSDB1,
		Interfaces: blockState("STICK"),
	}
	// A genuinely new identity queued in the same gap is announced.
	transport.notifications <- Notification{
		Kind:       InterfacesAdded,
		Object:     blockSDB2,
		Interfaces: blockState("OTHER"),
	}
	close(transport.notifications)

	daemon := NewDaemon(transport, nil, nil)
	events := recordEvents(t, daemon.Events())

	require.NoError(t, daemon.Run(context.Background()))

	require.Equal(t, []udisks.EventName{udisks.EventDeviceAdded}, names(*events))
	assert.Equal(t, blockSDB2, (*events)[0].Device.Identity())
}

func TestDaemonDeviceRemovedFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	daemon.Registry().Upsert(blockSDB1, blockState("STICK"))
	events := recordEvents(t, daemon.Events())

	// Interfaces leave one at a time before the object disappears.
	daemon.apply(Notification{
		Kind:    InterfacesRemoved,
		Object:  blockSDB1,
		Removed: []string{udisks.InterfaceFilesystem},
	})
	daemon.apply(Notification{
		Kind:    InterfacesRemoved,
		Object:  blockSDB1,
		Removed: []string{udisks.InterfaceBlock},
	})
	// Straggler for the already-gone object is a logged no-op.
	daemon.apply(Notification{
		Kind:    InterfacesRemoved,
		Object:  blockSDB1,
		Removed: []string{udisks.InterfaceBlock},
	})

	assert.Equal(t, []udisks.EventName{udisks.EventDeviceRemoved}, names(*events))
}

func TestDaemonMediaToggleRoundTrip(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	daemon.Registry().Upsert(driveSDB, udisks.InterfaceSet{
		udisks.InterfaceDrive: props(map[string]any{"MediaAvailable": false}),
	})
	events := recordEvents(t, daemon.Events())

	insert := Notification{
		Kind:      PropertiesChanged,
		Object:    driveSDB,
		Interface: udisks.InterfaceDrive,
		Changed:   props(map[string]any{"MediaAvailable": true}),
	}
	eject := Notification{
		Kind:      PropertiesChanged,
		Object:    driveSDB,
		Interface: udisks.InterfaceDrive,
		Changed:   props(map[string]any{"MediaAvailable": false}),
	}
	same := Notification{
		Kind:      PropertiesChanged,
		Object:    driveSDB,
		Interface: udisks.InterfaceDrive,
		Changed:   props(map[string]any{"MediaAvailable": false}),
	}

	daemon.apply(insert)
	daemon.apply(eject)
	daemon.apply(same)

	assert.Equal(t, []udisks.EventName{
		udisks.EventDeviceChanged, udisks.EventMediaAdded,
		udisks.EventDeviceChanged, udisks.EventMediaRemoved,
		udisks.EventDeviceChanged,
	}, names(*events))
}

func TestDaemonMountToggleFromPropertiesChanged(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	daemon.Registry().Upsert(blockSDB1, blockState("STICK"))
	events := recordEvents(t, daemon.Events())

	daemon.apply(Notification{
		Kind:      PropertiesChanged,
		Object:    blockSDB1,
		Interface: udisks.InterfaceFilesystem,
		Changed:   props(map[string]any{"MountPoints": []string{"/media/stick"}}),
	})

	assert.Equal(t, []udisks.EventName{
		udisks.EventDeviceChanged, udisks.EventDeviceMounted,
	}, names(*events))
}

func TestDaemonUnknownIdentityChangeIsNoOp(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	events := recordEvents(t, daemon.Events())

	daemon.apply(Notification{
		Kind:      PropertiesChanged,
		Object:    blockSDB1,
		Interface: udisks.InterfaceDrive,
		Changed:   props(map[string]any{"MediaAvailable": true}),
	})

	assert.Empty(t, *events)
	_, ok := daemon.Registry().View(blockSDB1)
	assert.False(t, ok, "no-op must not create the identity")
}

func TestDaemonJobStartEmitsProgressEvent(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	daemon.Registry().Upsert(blockSDB2, blockState("CRYPT"))
	events := recordEvents(t, daemon.Events())

	daemon.apply(Notification{
		Kind:       InterfacesAdded,
		Object:     unlockJob,
		Interfaces: unlockJobState(blockSDB2),
	})

	require.Equal(t, []udisks.EventName{udisks.EventDeviceUnlocking}, names(*events))
	ev := (*events)[0]
	assert.Equal(t, blockSDB2, ev.Device.Identity())
	assert.InDelta(t, 0.25, ev.Percent, 1e-9)
	assert.Equal(t, "encrypted-unlock", ev.Operation)
}

// A completion whose start was never observed (daemon started mid-job)
// still announces against the correct target, through the job object in
// the enumeration snapshot.
func TestDaemonJobCompletionWithoutObservedStart(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(map[udisks.Identity]udisks.InterfaceSet{
		blockSDB2: blockState("CRYPT"),
		unlockJob: unlockJobState(blockSDB2),
	})
	transport.notifications <- Notification{
		Kind:    JobCompleted,
		Object:  unlockJob,
		Success: true,
	}
	close(transport.notifications)

	daemon := NewDaemon(transport, nil, nil)
	events := recordEvents(t, daemon.Events())

	require.NoError(t, daemon.Run(context.Background()))

	require.Equal(t, []udisks.EventName{udisks.EventDeviceUnlocked}, names(*events))
	assert.Equal(t, blockSDB2, (*events)[0].Device.Identity())
}

func TestDaemonJobFailureEmitsJobFailed(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	daemon.Registry().Upsert(blockSDB2, blockState("CRYPT"))
	daemon.Registry().Upsert(unlockJob, unlockJobState(blockSDB2))
	events := recordEvents(t, daemon.Events())

	daemon.apply(Notification{
		Kind:    JobCompleted,
		Object:  unlockJob,
		Success: false,
		Message: "wrong passphrase",
	})

	require.Equal(t, []udisks.EventName{udisks.EventJobFailed}, names(*events))
	ev := (*events)[0]
	assert.Equal(t, "encrypted-unlock", ev.Operation)
	assert.Equal(t, "wrong passphrase", ev.Message)
	assert.Equal(t, blockSDB2, ev.Device.Identity())
}

// Completion for a target removed mid-job is dropped, never retried.
func TestDaemonJobCompletionForRemovedTargetIsDropped(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	daemon.Registry().Upsert(blockSDB2, blockState("CRYPT"))
	daemon.Registry().Upsert(unlockJob, unlockJobState(blockSDB2))
	events := recordEvents(t, daemon.Events())

	daemon.apply(Notification{
		Kind:    InterfacesRemoved,
		Object:  blockSDB2,
		Removed: []string{udisks.InterfaceBlock, udisks.InterfaceFilesystem},
	})
	daemon.apply(Notification{
		Kind:    JobCompleted,
		Object:  unlockJob,
		Success: true,
	})

	assert.Equal(t, []udisks.EventName{udisks.EventDeviceRemoved}, names(*events))
}

func TestDaemonFilesystemInterfaceRemovalChecksMountToggle(t *testing.T) {
	t.Parallel()

	daemon := NewDaemon(newFakeTransport(nil), nil, nil)
	state := blockState("STICK")
	state[udisks.InterfaceFilesystem] = props(map[string]any{
		"MountPoints": []string{"/media/stick"},
	})
	daemon.Registry().Upsert(blockSDB1, state)
	events := recordEvents(t, daemon.Events())

	daemon.apply(Notification{
		Kind:    InterfacesRemoved,
		Object:  blockSDB1,
		Removed: []string{udisks.InterfaceFilesystem},
	})

	assert.Equal(t, []udisks.EventName{udisks.EventDeviceUnmounted}, names(*events))
}
