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
	"sync"
	"time"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	interfacesAddedSignal   = udisks.InterfaceObjectManager + ".InterfacesAdded"
	interfacesRemovedSignal = udisks.InterfaceObjectManager + ".InterfacesRemoved"
	propertiesChangedSignal = udisks.InterfaceProperties + ".PropertiesChanged"
	jobCompletedSignal      = udisks.InterfaceJob + ".Completed"

	signalBuffer = 32
)

// Available quickly checks whether the system bus is reachable and the
// modern service owns its well-known name.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		// A private connection can be closed without affecting the shared
		// connection used by Connect.
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
		err = obj.CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, udisks.BusName).Store(&owned)
		done <- err == nil && owned
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}

// Bus is the Transport over the system D-Bus.
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

// Subscribe adds the match rules for the four raw signal kinds and starts a
// pump translating bus signals into notifications. The returned channel is
// closed when the context is cancelled or the connection drops.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Notification, error) {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(udisks.ObjectRoot),
			dbus.WithMatchInterface(udisks.InterfaceObjectManager),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchObjectPath(udisks.ObjectRoot),
			dbus.WithMatchInterface(udisks.InterfaceObjectManager),
			dbus.WithMatchMember("InterfacesRemoved"),
		},
		{
			dbus.WithMatchPathNamespace(udisks.ObjectRoot),
			dbus.WithMatchInterface(udisks.InterfaceProperties),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchPathNamespace(udisks.ObjectRoot),
			dbus.WithMatchInterface(udisks.InterfaceJob),
			dbus.WithMatchMember("Completed"),
		},
	}
	for _, match := range matches {
		if err := b.conn.AddMatchSignal(match...); err != nil {
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
			notification, ok := translateSignal(signal)
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

// translateSignal decodes one bus signal into a notification. Signals with
// unexpected body shapes are dropped with a warning rather than crashing the
// pump.
func translateSignal(signal *dbus.Signal) (Notification, bool) {
	switch signal.Name {
	case interfacesAddedSignal:
		if len(signal.Body) < 2 {
			break
		}
		object, okPath := signal.Body[0].(dbus.ObjectPath)
		raw, okIfaces := signal.Body[1].(map[string]map[string]dbus.Variant)
		if !okPath || !okIfaces {
			break
		}
		return Notification{
			Kind:       InterfacesAdded,
			Object:     udisks.Identity(object),
			Interfaces: toInterfaceSet(raw),
		}, true

	case interfacesRemovedSignal:
		if len(signal.Body) < 2 {
			break
		}
		object, okPath := signal.Body[0].(dbus.ObjectPath)
		removed, okIfaces := signal.Body[1].([]string)
		if !okPath || !okIfaces {
			break
		}
		return Notification{
			Kind:    InterfacesRemoved,
			Object:  udisks.Identity(object),
			Removed: removed,
		}, true

	case propertiesChangedSignal:
		if len(signal.Body) < 3 {
			break
		}
		iface, okIface := signal.Body[0].(string)
		changed, okChanged := signal.Body[1].(map[string]dbus.Variant)
		invalidated, okInvalid := signal.Body[2].([]string)
		if !okIface || !okChanged || !okInvalid {
			break
		}
		return Notification{
			Kind:        PropertiesChanged,
			Object:      udisks.Identity(signal.Path),
			Interface:   iface,
			Changed:     udisks.PropMap(changed),
			Invalidated: invalidated,
		}, true

	case jobCompletedSignal:
		if len(signal.Body) < 2 {
			break
		}
		success, okSuccess := signal.Body[0].(bool)
		message, okMessage := signal.Body[1].(string)
		if !okSuccess || !okMessage {
			break
		}
		return Notification{
			Kind:    JobCompleted,
			Object:  udisks.Identity(signal.Path),
			Success: success,
			Message: message,
		}, true

	default:
		return Notification{}, false
	}
	log.Warn().Str("signal", signal.Name).Msg("signal with unexpected body shape")
	return Notification{}, false
}

// Enumerate fetches the full object tree via GetManagedObjects.
func (b *Bus) Enumerate(ctx context.Context) (map[udisks.Identity]udisks.InterfaceSet, error) {
	obj := b.conn.Object(udisks.BusName, dbus.ObjectPath(udisks.ObjectRoot))
	var raw map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := obj.CallWithContext(ctx, udisks.InterfaceObjectManager+".GetManagedObjects", 0).Store(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate managed objects: %w", err)
	}
	objects := make(map[udisks.Identity]udisks.InterfaceSet, len(raw))
	for path, ifaces := range raw {
		objects[udisks.Identity(path)] = toInterfaceSet(ifaces)
	}
	return objects, nil
}

// Close shuts the connection down. Safe to call more than once.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.conn.Close()
	})
	return err
}

func toInterfaceSet(raw map[string]map[string]dbus.Variant) udisks.InterfaceSet {
	set := make(udisks.InterfaceSet, len(raw))
	for iface, props := range raw {
		set[iface] = udisks.PropMap(props)
	}
	return set
}
