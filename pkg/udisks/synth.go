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

// toggleRule pairs a monitored boolean attribute with the events emitted
// when it flips between two consecutive views of the same identity.
type toggleRule struct {
	attr string
	read func(DeviceView) bool
	on   EventName
	off  EventName
}

// toggleRules fixes the evaluation (and therefore emission) order when one
// notification flips several attributes at once: media first, then mount
// state, then lock state. Rules are evaluated independently, not mutually
// exclusively.
var toggleRules = []toggleRule{
	{attr: "has_media", read: DeviceView.HasMedia, on: EventMediaAdded, off: EventMediaRemoved},
	{attr: "is_mounted", read: DeviceView.IsMounted, on: EventDeviceMounted, off: EventDeviceUnmounted},
	{attr: "is_unlocked", read: DeviceView.IsUnlocked, on: EventDeviceUnlocked, off: EventDeviceLocked},
}

// Diff derives semantic events from a before/after view pair of one
// identity. It is a pure function: zero old means the object appeared, zero
// new means it disappeared, and for a present pair each monitored attribute
// contributes at most one toggle event. Identical states yield no events.
func Diff(old, updated DeviceView) []Event {
	switch {
	case old.IsZero() && updated.IsZero():
		return nil
	case old.IsZero():
		return []Event{{Name: EventDeviceAdded, Device: updated}}
	case updated.IsZero():
		return []Event{{Name: EventDeviceRemoved, Device: old}}
	}
	var events []Event
	for _, rule := range toggleRules {
		before := rule.read(old)
		after := rule.read(updated)
		switch {
		case after && !before:
			events = append(events, Event{Name: rule.on, Device: updated})
		case before && !after:
			events = append(events, Event{Name: rule.off, Device: updated})
		}
	}
	return events
}

// DiffToggles is Diff restricted to a single monitored attribute, used when
// a notification kind only justifies one comparison (e.g. removal of the
// drive interface checks media presence only).
func DiffToggles(old, updated DeviceView, attr string) []Event {
	if old.IsZero() || updated.IsZero() {
		return Diff(old, updated)
	}
	var events []Event
	for _, rule := range toggleRules {
		if rule.attr != attr {
			continue
		}
		before := rule.read(old)
		after := rule.read(updated)
		switch {
		case after && !before:
			events = append(events, Event{Name: rule.on, Device: updated})
		case before && !after:
			events = append(events, Event{Name: rule.off, Device: updated})
		}
	}
	return events
}

// jobSpec maps a job's declared operation name onto event channels. A zero
// field means that direction is not announced from job tracking: mount and
// unmount completion are owned by the is_mounted toggle so they fire exactly
// once, while lock and unlock completion are only observable through jobs.
type jobSpec struct {
	ing EventName
	ed  EventName
}

// jobOps is the fixed operation table. Unrecognized operations are ignored.
var jobOps = map[string]jobSpec{
	"filesystem-mount":   {ing: EventDeviceMounting},
	"filesystem-unmount": {ing: EventDeviceUnmounting},
	"encrypted-unlock":   {ing: EventDeviceUnlocking, ed: EventDeviceUnlocked},
	"encrypted-lock":     {ing: EventDeviceLocking, ed: EventDeviceLocked},
}

// JobProgressEvent returns the in-progress event channel for an operation
// name, if the operation is recognized.
func JobProgressEvent(operation string) (EventName, bool) {
	spec, ok := jobOps[operation]
	if !ok || spec.ing == "" {
		return "", false
	}
	return spec.ing, true
}

// JobCompletionEvent returns the completion event channel for an operation
// name, if the operation is recognized and announces completion.
func JobCompletionEvent(operation string) (EventName, bool) {
	spec, ok := jobOps[operation]
	if !ok || spec.ed == "" {
		return "", false
	}
	return spec.ed, true
}

// KnownJobOperation reports whether the operation participates in job
// tracking at all.
func KnownJobOperation(operation string) bool {
	_, ok := jobOps[operation]
	return ok
}
