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
	"sync"
	"time"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	deviceAddedSignal      = ManagerInterface + ".DeviceAdded"
	deviceRemovedSignal    = ManagerInterface + ".DeviceRemoved"
	deviceChangedSignal    = ManagerInterface + ".DeviceChanged"
	deviceJobChangedSignal = ManagerInterface + ".DeviceJobChanged"

	signalBuffer = 32
)

// Available quickly checks whether the system bus is reachable and the
// legacy service owns its well-known name.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		conn, err := dbus.SystemBusPrivate()
		if err != nil {
			done <- false
			return
		}
		defer func() { _ = conn.Close() }()

		if err := conn.Auth(nil); err != nil {
			done <- false
			return
		}
		if err := conn.Hello(); err != nil {
			done <- false
			return
		}

		obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
		var owned bool
		err = obj.CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, BusName).Store(&owned)
		done <- err == nil && owned
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}

// Bus is the Transport over the system D-Bus. Because legacy signals carry
// only the device path, the pump reads the device's full property bag at
// notification time; the bag travels with the notification so the daemon
// never blocks on the bus itself.
type Bus struct {
	conn      *dbus.Conn
	closeOnce sync.Once
}

// Connect opens the shared system bus connection.
func Connect() (*Bus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Subscribe adds match rules for the four legacy signals and starts the
// pump. The returned channel is closed when the context is cancelled or the
// connection drops.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Notification, error) {
	for _, member := range []string{"DeviceAdded", "DeviceRemoved", "DeviceChanged", "DeviceJobChanged"} {
		if err := b.conn.AddMatchSignal(
			dbus.WithMatchInterface(ManagerInterface),
			dbus.WithMatchMember(member),
		); err != nil {
			return nil, fmt.Errorf("failed to add signal match: %w", err)
		}
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	b.conn.Signal(signals)

	notifications := make(chan Notification, signalBuffer)
	go b.pump(ctx, signals, notifications)
	return notifications, nil
}

func (b *Bus) pump(ctx context.Context, signals chan *dbus.Signal, notifications chan<- Notification) {
	defer close(notifications)
	defer b.conn.RemoveSignal(signals)
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-signals:
			if !ok || signal == nil {
				return
			}
			notification, ok := b.translateSignal(ctx, signal)
			if !ok {
				continue
			}
			select {
			case notifications <- notification:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bus) translateSignal(ctx context.Context, signal *dbus.Signal) (Notification, bool) {
	switch signal.Name {
	case deviceAddedSignal, deviceChangedSignal:
		object, ok := signalDevice(signal)
		if !ok {
			break
		}
		props, err := b.readProps(ctx, object)
		if err != nil {
			// The device may already be gone again; the pending removal
			// signal will reconcile.
			log.Debug().Err(err).Str("device", string(object)).Msg("device vanished before read")
			return Notification{}, false
		}
		kind := DeviceAdded
		if signal.Name == deviceChangedSignal {
			kind = DeviceChanged
		}
		return Notification{Kind: kind, Object: object, Props: props}, true

	case deviceRemovedSignal:
		object, ok := signalDevice(signal)
		if !ok {
			break
		}
		return Notification{Kind: DeviceRemoved, Object: object}, true

	case deviceJobChangedSignal:
		if len(signal.Body) < 6 {
			break
		}
		object, okPath := signal.Body[0].(dbus.ObjectPath)
		inProgress, okProgress := signal.Body[1].(bool)
		jobID, okID := signal.Body[2].(string)
		percent, okPercent := signal.Body[5].(float64)
		if !okPath || !okProgress || !okID || !okPercent {
			break
		}
		return Notification{
			Kind:       JobChanged,
			Object:     udisks.Identity(object),
			InProgress: inProgress,
			JobID:      jobID,
			Percent:    percent,
		}, true

	default:
		return Notification{}, false
	}
	log.Warn().Str("signal", signal.Name).Msg("signal with unexpected body shape")
	return Notification{}, false
}

func signalDevice(signal *dbus.Signal) (udisks.Identity, bool) {
	if len(signal.Body) < 1 {
		return "", false
	}
	object, ok := signal.Body[0].(dbus.ObjectPath)
	return udisks.Identity(object), ok
}

// Enumerate lists all devices and reads each one's property bag.
func (b *Bus) Enumerate(ctx context.Context) (map[udisks.Identity]FlatProps, error) {
	manager := b.conn.Object(BusName, dbus.ObjectPath(ObjectRoot))
	var paths []dbus.ObjectPath
	err := manager.CallWithContext(ctx, ManagerInterface+".EnumerateDevices", 0).Store(&paths)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	devices := make(map[udisks.Identity]FlatProps, len(paths))
	for _, path := range paths {
		props, err := b.readProps(ctx, udisks.Identity(path))
		if err != nil {
			// Gone between listing and reading.
			log.Debug().Err(err).Str("device", string(path)).Msg("device vanished during enumeration")
			continue
		}
		devices[udisks.Identity(path)] = props
	}
	return devices, nil
}

func (b *Bus) readProps(ctx context.Context, id udisks.Identity) (FlatProps, error) {
	obj := b.conn.Object(BusName, dbus.ObjectPath(id))
	var props map[string]dbus.Variant
	err := obj.CallWithContext(ctx, udisks.InterfaceProperties+".GetAll", 0, DeviceInterface).Store(&props)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w", id, err)
	}
	return FlatProps(props), nil
}

// Close shuts the connection down. Safe to call more than once.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.conn.Close()
	})
	return err
}
