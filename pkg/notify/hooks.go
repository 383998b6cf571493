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

// Package notify runs user-configured shell commands in response to device
// events, with device attributes substituted into the command line.
package notify

import (
	"context"
	"strconv"
	"strings"

	"github.com/DiskmountProject/diskmount-core/pkg/helpers"
	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/rs/zerolog/log"
)

// HookSource resolves an event name to its configured command.
type HookSource interface {
	HookFor(event string) (string, bool)
}

// CommandHooks connects one handler per event channel that expands
// placeholders in the configured command and runs it fire-and-forget, so a
// slow hook never stalls event processing.
type CommandHooks struct {
	source HookSource
	exec   helpers.CommandExecutor
}

// NewCommandHooks creates the hook runner. A nil executor selects the real
// one.
func NewCommandHooks(source HookSource, exec helpers.CommandExecutor) *CommandHooks {
	if exec == nil {
		exec = &helpers.RealCommandExecutor{}
	}
	return &CommandHooks{source: source, exec: exec}
}

// Attach connects a hook handler to every event channel. Events without a
// configured command are ignored at trigger time, so configuration can
// change without reattaching.
func (h *CommandHooks) Attach(ctx context.Context, events *udisks.Dispatcher) {
	for _, name := range udisks.EventNames() {
		events.Connect(name, func(ev udisks.Event) {
			h.fire(ctx, ev)
		})
	}
}

func (h *CommandHooks) fire(ctx context.Context, ev udisks.Event) {
	command, ok := h.source.HookFor(string(ev.Name))
	if !ok {
		return
	}
	expanded := Expand(command, ev)
	log.Debug().
		Str("event", string(ev.Name)).
		Str("command", expanded).
		Msg("running event hook")
	if err := h.exec.Start(ctx, "sh", "-c", expanded); err != nil {
		log.Error().Err(err).Str("event", string(ev.Name)).Msg("event hook failed to start")
	}
}

// Expand substitutes the event's device attributes into a command template.
func Expand(command string, ev udisks.Event) string {
	device := ev.Device
	mountPath := ""
	if paths := device.MountPaths(); len(paths) > 0 {
		mountPath = paths[0]
	}
	replacer := strings.NewReplacer(
		"{event}", string(ev.Name),
		"{device_file}", device.DeviceFile(),
		"{device_presentation}", device.DevicePresentation(),
		"{device_size}", strconv.FormatUint(device.SizeBytes(), 10),
		"{id_label}", device.IDLabel(),
		"{id_uuid}", device.IDUUID(),
		"{id_type}", device.IDType(),
		"{id_usage}", device.IDUsage(),
		"{mount_path}", mountPath,
		"{ui_label}", device.UILabel(),
	)
	return replacer.Replace(command)
}
