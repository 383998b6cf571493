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

package mounter

import (
	"context"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/rs/zerolog/log"
)

// AutoMounter adds devices as they appear. Handlers run on the notification
// loop, so the actual bus calls are spawned onto their own goroutine; the
// loop never blocks on a mount round-trip.
type AutoMounter struct {
	mounter *Mounter
	enabled func() bool
}

// NewAutoMounter creates an automounter. enabled is consulted per event so
// the setting can be flipped at runtime; nil means always on.
func NewAutoMounter(mounter *Mounter, enabled func() bool) *AutoMounter {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &AutoMounter{mounter: mounter, enabled: enabled}
}

// Attach connects the automounter to the event channels that can make a
// device newly available: appearance, media insertion, and any property
// change that turns an unhandleable device handleable.
func (a *AutoMounter) Attach(ctx context.Context, events *udisks.Dispatcher) {
	added := func(ev udisks.Event) {
		a.autoAdd(ctx, ev.Device)
	}
	events.Connect(udisks.EventDeviceAdded, added)
	events.Connect(udisks.EventMediaAdded, added)
	events.Connect(udisks.EventDeviceChanged, func(ev udisks.Event) {
		if !a.mounter.IsHandleable(ev.Old) && a.mounter.IsHandleable(ev.Device) {
			a.autoAdd(ctx, ev.Device)
		}
	})
}

func (a *AutoMounter) autoAdd(ctx context.Context, view udisks.DeviceView) {
	if !a.enabled() || !a.mounter.IsHandleable(view) {
		return
	}
	go func() {
		if _, err := a.mounter.AutoAdd(ctx, view); err != nil {
			log.Error().Err(err).Str("device", view.String()).Msg("automount failed")
		}
	}()
}
