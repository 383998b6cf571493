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
	"github.com/rs/zerolog/log"
)

// legacyJob describes one tracked legacy job operation. Completion signals
// do not report success, so success is decided by checking the device's
// state after the job against the expected post-condition. succeeded must
// tolerate the zero view: unmount and lock succeed on a vanished device.
type legacyJob struct {
	ing       udisks.EventName
	ed        udisks.EventName
	succeeded func(udisks.DeviceView) bool
}

// legacyJobs maps the legacy job identifiers onto event channels. Unlike
// the modern protocol, completion events for all four operations come from
// job tracking here: the coarse change signal carries no per-interface
// granularity to derive them from.
var legacyJobs = map[string]legacyJob{
	"FilesystemMount": {
		ing:       udisks.EventDeviceMounting,
		ed:        udisks.EventDeviceMounted,
		succeeded: func(v udisks.DeviceView) bool { return !v.IsZero() && v.IsMounted() },
	},
	"FilesystemUnmount": {
		ing:       udisks.EventDeviceUnmounting,
		ed:        udisks.EventDeviceUnmounted,
		succeeded: func(v udisks.DeviceView) bool { return v.IsZero() || !v.IsMounted() },
	},
	"LuksUnlock": {
		ing:       udisks.EventDeviceUnlocking,
		ed:        udisks.EventDeviceUnlocked,
		succeeded: func(v udisks.DeviceView) bool { return !v.IsZero() && v.IsUnlocked() },
	},
	"LuksLock": {
		ing:       udisks.EventDeviceLocking,
		ed:        udisks.EventDeviceLocked,
		succeeded: func(v udisks.DeviceView) bool { return v.IsZero() || !v.IsUnlocked() },
	},
}

// Daemon is the change reconciler for the legacy protocol. Jobs are keyed
// by their target device path: the legacy service has no job objects, its
// job signal names the device directly.
type Daemon struct {
	transport Transport
	registry  *udisks.Registry
	events    *udisks.Dispatcher
	jobs      map[udisks.Identity]string
}

// NewDaemon creates a legacy reconciler over the given transport. A nil
// registry or dispatcher is created fresh.
func NewDaemon(transport Transport, registry *udisks.Registry, events *udisks.Dispatcher) *Daemon {
	if registry == nil {
		registry = udisks.NewRegistry(nil)
	}
	if events == nil {
		events = udisks.NewDispatcher()
	}
	return &Daemon{
		transport: transport,
		registry:  registry,
		events:    events,
		jobs:      make(map[udisks.Identity]string),
	}
}

// Registry returns the authoritative device map.
func (d *Daemon) Registry() *udisks.Registry { return d.registry }

// Events returns the dispatcher semantic events are published on.
func (d *Daemon) Events() *udisks.Dispatcher { return d.events }

// Run subscribes, seeds the registry from a full enumeration, then folds
// notifications until the context is cancelled. Subscription strictly
// precedes enumeration so nothing is lost in the gap.
func (d *Daemon) Run(ctx context.Context) error {
	notifications, err := d.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}

	snapshot, err := d.transport.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for id, props := range snapshot {
		d.registry.Upsert(id, Adapt(props))
	}
	log.Info().Int("devices", len(snapshot)).Msg("initial state synchronized")

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification, ok := <-notifications:
			if !ok {
				return nil
			}
			d.apply(notification)
		}
	}
}

func (d *Daemon) apply(n Notification) {
	switch n.Kind {
	case DeviceAdded:
		d.deviceAdded(n)
	case DeviceRemoved:
		d.deviceRemoved(n)
	case DeviceChanged:
		d.deviceChanged(n)
	case JobChanged:
		d.jobChanged(n)
	default:
		log.Warn().Int("kind", int(n.Kind)).Msg("unknown notification kind")
	}
}

func (d *Daemon) deviceAdded(n Notification) {
	// A queued add that duplicates the enumeration snapshot folds as a
	// change so device_added fires at most once per appearance.
	if _, known := d.registry.View(n.Object); known {
		d.deviceChanged(n)
		return
	}
	view := d.registry.Upsert(n.Object, Adapt(n.Props))
	d.events.Trigger(udisks.Event{Name: udisks.EventDeviceAdded, Device: view})
}

func (d *Daemon) deviceRemoved(n Notification) {
	delete(d.jobs, n.Object)
	old, known := d.registry.Remove(n.Object)
	if !known {
		log.Warn().Str("device", string(n.Object)).Msg("removal of unknown device")
		return
	}
	d.events.Trigger(udisks.Event{Name: udisks.EventDeviceRemoved, Device: old})
}

func (d *Daemon) deviceChanged(n Notification) {
	old, known := d.registry.View(n.Object)
	updated := d.registry.Upsert(n.Object, Adapt(n.Props))
	if !known {
		// Appeared during the subscribe/enumerate gap.
		d.events.Trigger(udisks.Event{Name: udisks.EventDeviceAdded, Device: updated})
		return
	}
	d.events.Trigger(udisks.Event{Name: udisks.EventDeviceChanged, Device: updated, Old: old})
	// Mount, unmount, lock and unlock completion are owned by job tracking
	// on this protocol; the change signal only decides media presence.
	for _, ev := range udisks.DiffToggles(old, updated, "has_media") {
		d.events.Trigger(ev)
	}
}

func (d *Daemon) jobChanged(n Notification) {
	jobID := n.JobID
	if !n.InProgress {
		// The completion signal often carries an empty identifier; the
		// remembered one wins.
		if remembered, ok := d.jobs[n.Object]; ok {
			jobID = remembered
		}
	}
	spec, ok := legacyJobs[jobID]
	if !ok {
		return
	}

	view, _ := d.registry.View(n.Object)

	if n.InProgress {
		d.jobs[n.Object] = jobID
		d.events.Trigger(udisks.Event{
			Name:      spec.ing,
			Device:    view,
			Percent:   n.Percent,
			Operation: jobID,
		})
		return
	}

	delete(d.jobs, n.Object)
	if spec.succeeded(view) {
		if view.IsZero() {
			view, _ = d.registry.Deleted(n.Object)
		}
		d.events.Trigger(udisks.Event{Name: spec.ed, Device: view, Operation: jobID})
		return
	}
	d.events.Trigger(udisks.Event{
		Name:      udisks.EventJobFailed,
		Device:    view,
		Operation: jobID,
		Message:   fmt.Sprintf("%s failed for %s", jobID, n.Object),
	})
}
