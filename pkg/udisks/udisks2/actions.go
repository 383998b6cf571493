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
	"fmt"
	"strings"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/godbus/dbus/v5"
)

// Actions performs device operations over the modern protocol. State changes
// caused by these calls arrive back through the notification stream; the
// return values only confirm the call itself.
type Actions struct {
	conn *dbus.Conn
	// NoUserInteraction suppresses polkit authentication prompts, so calls
	// fail instead of blocking on a password dialog.
	NoUserInteraction bool
}

// NewActions wraps the bus connection for method calls.
func NewActions(bus *Bus) *Actions {
	return &Actions{conn: bus.conn}
}

func (a *Actions) options(extra map[string]dbus.Variant) map[string]dbus.Variant {
	opts := make(map[string]dbus.Variant, len(extra)+1)
	if a.NoUserInteraction {
		opts["auth.no_user_interaction"] = dbus.MakeVariant(true)
	}
	for k, v := range extra {
		opts[k] = v
	}
	return opts
}

func (a *Actions) object(id udisks.Identity) dbus.BusObject {
	return a.conn.Object(udisks.BusName, dbus.ObjectPath(id))
}

// Mount mounts the device's filesystem and returns the mount path chosen by
// the service.
func (a *Actions) Mount(ctx context.Context, id udisks.Identity, fstype string, mountOptions []string) (string, error) {
	extra := map[string]dbus.Variant{}
	if fstype != "" {
		extra["fstype"] = dbus.MakeVariant(fstype)
	}
	if len(mountOptions) > 0 {
		extra["options"] = dbus.MakeVariant(strings.Join(mountOptions, ","))
	}
	var mountPath string
	err := a.object(id).
		CallWithContext(ctx, udisks.InterfaceFilesystem+".Mount", 0, a.options(extra)).
		Store(&mountPath)
	if err != nil {
		return "", fmt.Errorf("failed to mount %s: %w", id, err)
	}
	return mountPath, nil
}

// Unmount unmounts the device's filesystem.
func (a *Actions) Unmount(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, udisks.InterfaceFilesystem+".Unmount", 0, a.options(nil)).
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
		CallWithContext(ctx, udisks.InterfaceEncrypted+".Unlock", 0, password, a.options(nil)).
		Store(&cleartext)
	if err != nil {
		return "", fmt.Errorf("failed to unlock %s: %w", id, err)
	}
	return udisks.Identity(cleartext), nil
}

// Lock closes the encrypted container.
func (a *Actions) Lock(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, udisks.InterfaceEncrypted+".Lock", 0, a.options(nil)).
		Err
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", id, err)
	}
	return nil
}

// Eject ejects the drive's media. The identity must name a drive object.
func (a *Actions) Eject(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, udisks.InterfaceDrive+".Eject", 0, a.options(nil)).
		Err
	if err != nil {
		return fmt.Errorf("failed to eject %s: %w", id, err)
	}
	return nil
}

// PowerOff powers the drive down so it can be unplugged safely.
func (a *Actions) PowerOff(ctx context.Context, id udisks.Identity) error {
	err := a.object(id).
		CallWithContext(ctx, udisks.InterfaceDrive+".PowerOff", 0, a.options(nil)).
		Err
	if err != nil {
		return fmt.Errorf("failed to power off %s: %w", id, err)
	}
	return nil
}
