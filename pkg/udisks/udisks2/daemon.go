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

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/rs/zerolog/log"
)

// jobRecord remembers a started job so its completion can be announced
// against the same targets even after the job object left the registry.
type jobRecord struct {
	operation string
	targets   []udisks.Identity
}

// Daemon is the change reconciler for the modern protocol. It is the single
// writer of its registry: every raw notification becomes exactly one
// registry mutation plus the events synthesized from the before/after view
// pair. All processing happens on the Run goroutine.
type Daemon struct {
	transport Transport
	registry  *udisks.Registry
	events    *udisks.Dispatcher
	jobs      map[udisks.Identity]jobRecord
}

// NewDaemon creates a reconciler over the given transport. A nil registry
// or dispatcher is created fresh.
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
		jobs:      make(map[udisks.Identity]jobRecord),
	}
}

// Registry returns the authoritative device map.
func (d *Daemon) Registry() *udisks.Registry { return d.registry }

// Events returns the dispatcher semantic events are published on.
func (d *Daemon) Events() *udisks.Dispatcher { return d.events }

// Run subscribes to notifications, seeds the registry from a full
// enumeration, then folds notifications until the context is cancelled.
// Subscription strictly precedes enumeration so nothing is lost in the gap;
// queued notifications that duplicate the snapshot fold idempotently.
func (d *Daemon) Run(ctx context.Context) error {
	notifications, err := d.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}

	snapshot, err := d.transport.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate objects: %w", err)
	}
	for id, props := range snapshot {
		d.registry.Upsert(id, props)
	}
	log.Info().Int("objects", len(snapshot)).Msg("initial state synchronized")

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

// apply folds one raw notification into the registry and triggers the
// events derived from the state delta.
func (d *Daemon) apply(n Notification) {
	switch n.Kind {
	case InterfacesAdded:
		d.interfacesAdded(n)
	case InterfacesRemoved:
		d.interfacesRemoved(n)
	case PropertiesChanged:
		d.propertiesChanged(n)
	case JobCompleted:
		d.jobCompleted(n)
	default:
		log.Warn().Int("kind", int(n.Kind)).Msg("unknown notification kind")
	}
}

func (d *Daemon) interfacesAdded(n Notification) {
	old, updated, existed := d.registry.MergeInterfaces(n.Object, n.Interfaces)
	if !existed {
		switch n.Object.Kind() {
		case udisks.KindDevice, udisks.KindDrive:
			d.events.Trigger(udisks.Event{Name: udisks.EventDeviceAdded, Device: updated})
		case udisks.KindJob:
			d.jobStarted(n.Object)
		default:
		}
		return
	}
	// Interface growth on a known object announces no default event, but
	// may complete a media or mount toggle. Lock and unlock completion is
	// owned by job tracking so it fires exactly once.
	d.triggerToggles(old, updated)
}

func (d *Daemon) triggerToggles(old, updated udisks.DeviceView) {
	for _, attr := range []string{"has_media", "is_mounted"} {
		for _, ev := range udisks.DiffToggles(old, updated, attr) {
			d.events.Trigger(ev)
		}
	}
}

func (d *Daemon) interfacesRemoved(n Notification) {
	old, updated, removedAll, known := d.registry.DropInterfaces(n.Object, n.Removed)
	if !known {
		// Reordering or partial observation; stay available.
		log.Warn().
			Str("object", string(n.Object)).
			Strs("interfaces", n.Removed).
			Msg("interfaces removed for unknown object")
		return
	}
	if removedAll {
		delete(d.jobs, n.Object)
		if n.Object.IsDeviceOrDrive() {
			d.events.Trigger(udisks.Event{Name: udisks.EventDeviceRemoved, Device: old})
		}
		return
	}
	for _, iface := range n.Removed {
		switch iface {
		case udisks.InterfaceDrive:
			for _, ev := range udisks.DiffToggles(old, updated, "has_media") {
				d.events.Trigger(ev)
			}
		case udisks.InterfaceFilesystem:
			for _, ev := range udisks.DiffToggles(old, updated, "is_mounted") {
				d.events.Trigger(ev)
			}
		}
	}
}

func (d *Daemon) propertiesChanged(n Notification) {
	old, updated, known := d.registry.ApplyProperties(n.Object, n.Interface, n.Changed, n.Invalidated)
	if !known {
		log.Warn().
			Str("object", string(n.Object)).
			Str("interface", n.Interface).
			Msg("properties changed for unknown object")
		return
	}
	if !n.Object.IsDeviceOrDrive() {
		return
	}
	d.events.Trigger(udisks.Event{Name: udisks.EventDeviceChanged, Device: updated, Old: old})
	d.triggerToggles(old, updated)
}

// jobStarted reads the freshly added job object and announces the
// in-progress event against each known target.
func (d *Daemon) jobStarted(jobID udisks.Identity) {
	record, progress, ok := d.jobRecord(jobID)
	if !ok || !udisks.KnownJobOperation(record.operation) {
		return
	}
	d.jobs[jobID] = record
	name, ok := udisks.JobProgressEvent(record.operation)
	if !ok {
		return
	}
	for _, target := range record.targets {
		view, ok := d.registry.View(target)
		if !ok {
			continue
		}
		d.events.Trigger(udisks.Event{
			Name:      name,
			Device:    view,
			Percent:   progress,
			Operation: record.operation,
		})
	}
}

// jobCompleted announces the completion of a job. The remembered record is
// preferred; falling back to the registry's copy of the job object covers
// jobs already running when the daemon started, so completion never
// requires that the start was observed.
func (d *Daemon) jobCompleted(n Notification) {
	record, knownRecord := d.jobs[n.Object]
	if !knownRecord {
		record, _, knownRecord = d.jobRecord(n.Object)
	}
	delete(d.jobs, n.Object)
	if !knownRecord {
		log.Warn().Str("job", string(n.Object)).Msg("completion for unknown job")
		return
	}
	if !udisks.KnownJobOperation(record.operation) {
		return
	}

	if !n.Success {
		for _, target := range record.targets {
			view, ok := d.registry.View(target)
			if !ok {
				view, _ = d.registry.Deleted(target)
			}
			d.events.Trigger(udisks.Event{
				Name:      udisks.EventJobFailed,
				Device:    view,
				Operation: record.operation,
				Message:   n.Message,
			})
		}
		return
	}

	name, ok := udisks.JobCompletionEvent(record.operation)
	if !ok {
		return
	}
	for _, target := range record.targets {
		view, ok := d.registry.View(target)
		if !ok {
			// Target vanished mid-job; drop, do not retry.
			log.Warn().
				Str("job", string(n.Object)).
				Str("target", string(target)).
				Str("operation", record.operation).
				Msg("job completed for removed target")
			continue
		}
		d.events.Trigger(udisks.Event{Name: name, Device: view, Operation: record.operation})
	}
}

// jobRecord extracts operation, targets and progress from the registry's
// raw state of a job object.
func (d *Daemon) jobRecord(jobID udisks.Identity) (jobRecord, float64, bool) {
	raw, ok := d.registry.Raw(jobID)
	if !ok {
		return jobRecord{}, 0, false
	}
	operation, ok := raw.String(udisks.InterfaceJob, "Operation")
	if !ok {
		return jobRecord{}, 0, false
	}
	targets, _ := raw.Paths(udisks.InterfaceJob, "Objects")
	progress, _ := raw.Float64(udisks.InterfaceJob, "Progress")
	return jobRecord{operation: operation, targets: targets}, progress, true
}
