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
	"fmt"

	"github.com/DiskmountProject/diskmount-core/pkg/helpers/syncutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventName names one channel of the dispatcher. The channel set is fixed
// at construction time; triggering an unknown name is a programming error.
type EventName string

const (
	EventDeviceAdded      EventName = "device_added"
	EventDeviceRemoved    EventName = "device_removed"
	EventDeviceChanged    EventName = "device_changed"
	EventDeviceMounted    EventName = "device_mounted"
	EventDeviceUnmounted  EventName = "device_unmounted"
	EventDeviceMounting   EventName = "device_mounting"
	EventDeviceUnmounting EventName = "device_unmounting"
	EventDeviceUnlocked   EventName = "device_unlocked"
	EventDeviceLocked     EventName = "device_locked"
	EventDeviceUnlocking  EventName = "device_unlocking"
	EventDeviceLocking    EventName = "device_locking"
	EventMediaAdded       EventName = "media_added"
	EventMediaRemoved     EventName = "media_removed"
	EventJobFailed        EventName = "job_failed"
)

// EventNames returns the full channel set in a stable order.
func EventNames() []EventName {
	return []EventName{
		EventDeviceAdded,
		EventDeviceRemoved,
		EventDeviceChanged,
		EventDeviceMounted,
		EventDeviceUnmounted,
		EventDeviceMounting,
		EventDeviceUnmounting,
		EventDeviceUnlocked,
		EventDeviceLocked,
		EventDeviceUnlocking,
		EventDeviceLocking,
		EventMediaAdded,
		EventMediaRemoved,
		EventJobFailed,
	}
}

// Event is the tagged payload passed to handlers. Device is the subject on
// every channel. Old is set only on device_changed; Percent only on the
// in-progress (*ing) channels; Operation and Message only on job_failed.
type Event struct {
	Name      EventName
	Operation string
	Message   string
	Device    DeviceView
	Old       DeviceView
	Percent   float64
	ID        uuid.UUID
}

// Handler observes events on one channel. Handlers run synchronously on the
// notification loop and must not block on bus round-trips; spawn a goroutine
// for anything that does.
type Handler func(Event)

// HandlerID identifies one connected handler for later disconnection.
type HandlerID int

type registration struct {
	fn Handler
	id HandlerID
}

// Dispatcher is a synchronous publish/subscribe registry over the fixed
// event channel set. Handlers on a channel are invoked in registration
// order on the caller's goroutine. A panicking handler is logged and does
// not prevent later handlers from running.
type Dispatcher struct {
	channels map[EventName][]registration
	nextID   HandlerID
	mu       syncutil.Mutex
}

// NewDispatcher creates a dispatcher with every known event channel
// registered and empty.
func NewDispatcher() *Dispatcher {
	channels := make(map[EventName][]registration, len(EventNames()))
	for _, name := range EventNames() {
		channels[name] = nil
	}
	return &Dispatcher{channels: channels}
}

// Connect appends a handler to the named channel and returns its id.
// Connecting to an unknown channel panics.
func (d *Dispatcher) Connect(name EventName, fn Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	handlers, ok := d.channels[name]
	if !ok {
		panic(fmt.Sprintf("udisks: connect to unknown event %q", name))
	}
	d.nextID++
	id := d.nextID
	d.channels[name] = append(handlers, registration{id: id, fn: fn})
	return id
}

// Disconnect removes a handler from the named channel. Removing an id that
// is not connected is a no-op.
func (d *Dispatcher) Disconnect(name EventName, id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handlers, ok := d.channels[name]
	if !ok {
		return
	}
	for i, reg := range handlers {
		if reg.id == id {
			d.channels[name] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Trigger invokes every handler on the event's channel in registration
// order. Triggering an unknown event name panics.
func (d *Dispatcher) Trigger(ev Event) {
	d.mu.Lock()
	handlers, ok := d.channels[ev.Name]
	if !ok {
		d.mu.Unlock()
		panic(fmt.Sprintf("udisks: trigger of unknown event %q", ev.Name))
	}
	snapshot := make([]registration, len(handlers))
	copy(snapshot, handlers)
	d.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("event", string(ev.Name)).
		Str("device", ev.Device.String()).
		Msg("event triggered")

	for _, reg := range snapshot {
		d.invoke(reg, ev)
	}
}

// invoke isolates handler faults: a panic is logged exactly once and the
// remaining handlers still run.
func (*Dispatcher) invoke(reg registration, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("event", string(ev.Name)).
				Str("device", ev.Device.String()).
				Int("handler_id", int(reg.id)).
				Interface("panic", rec).
				Msg("event handler panicked")
		}
	}()
	reg.fn(ev)
}
