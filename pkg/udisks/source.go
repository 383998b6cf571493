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

import "context"

// Source is a device-state provider. Both protocol generations implement
// it, producing the same DeviceView and event contract so consumers never
// see which wire protocol is in use.
type Source interface {
	// Registry is the authoritative device map maintained by the source.
	Registry() *Registry
	// Events is the dispatcher the source publishes semantic events on.
	Events() *Dispatcher
	// Run subscribes, synchronizes initial state and processes
	// notifications until the context is cancelled.
	Run(ctx context.Context) error
}
