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
	"fmt"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/godbus/dbus/v5"
)

// Actions performs device operations over the legacy protocol. All methods
// live on the device object itself; drives are devices here, so eject and
// power-off take the same identity as the block operations.
type Actions struct {
	conn *dbus.Conn
}

// NewActions wraps the bus connection for method calls.
func NewActions(bus *Bus) *Actions {
	return &Actions{conn: bus.conn}
}

func (a *Actions) object(id udisks.Identity) dbus.BusObject {
	return a.conn.Object(BusName, dbus.ObjectPath(id))
}

// Mount mounts the device's filesystem and returns the mount path chosen by
// the service. The legacy call requires an explicit filesystem type.
func (a *Actions) Mount(ctx context.Context, id udisks.Identity, fstype string, mountOptions []string) (string, error) {
	if mountOptions == nil {
		mountOptions = []string{}
	}
	var mountPath string
	err := a.object(id).
		CallWithContext(ctx, DeviceInterface+".FilesystemMount", 0, fstype, mountOptions).
		Store(&mountPath)
	if err != nil {
		return "", fmt.Errorf("failed to mount %s: %w", id, err)
	}
	return mountPath, nil
}

// Unmount unmounts the device's filesystem.
func (a *Actions) Unmount(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, DeviceInterface+".FilesystemUnmount", 0, []string{}).
		Err
	if err != nil {
		return fmt.Errorf("failed to unmount %s: %w", id, err)
	}
	return nil
}

// Unlock opens the encrypted container and returns the identity of the
// cleartext device.
func (a *Actions) Unlock(ctx context.Context, id udisks.Identity, password string) (udisks.Identity, error) {
	var cleartext dbus.ObjectPath
	err := a.object(id).
		CallWithContext(ctx, DeviceInterface+".LuksUnlock", 0, password, []string{}).
		Store(&cleartext)
	if err != nil {
		return "", fmt.Errorf("failed to unlock %s: %w", id, err)
	}
	return udisks.Identity(cleartext), nil
}

// Lock closes the encrypted container.
func (a *Actions) Lock(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, DeviceInterface+".LuksLock", 0, []string{}).
		Err
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", id, err)
	}
	return nil
}

// Eject ejects the device's media.
func (a *Actions) Eject(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, DeviceInterface+".DriveEject", 0, []string{}).
		Err
	if err != nil {
		return fmt.Errorf("failed to eject %s: %w", id, err)
	}
	return nil
}

// PowerOff detaches the device, powering down its physical port.
func (a *Actions) PowerOff(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, DeviceInterface+".DriveDetach", 0, []string{}).
		Err
	if err != nil {
		return fmt.Errorf("failed to detach %s: %w", id, err)
	}
	return nil
}
