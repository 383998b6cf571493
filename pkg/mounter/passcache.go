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
	"time"

	"github.com/DiskmountProject/diskmount-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
)

type cachedPassword struct {
	storedAt time.Time
	password string
}

// PasswordCache holds unlock passphrases keyed by container UUID for a
// bounded time, so re-plugging a device within the window skips the prompt.
// A zero TTL disables caching entirely.
type PasswordCache struct {
	clock   clockwork.Clock
	entries map[string]cachedPassword
	ttl     time.Duration
	mu      syncutil.Mutex
}

// NewPasswordCache creates a cache with the given TTL. A nil clock selects
// the real clock.
func NewPasswordCache(ttl time.Duration, clock clockwork.Clock) *PasswordCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PasswordCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cachedPassword),
	}
}

// Get returns the cached passphrase for a container UUID, refreshing its
// expiry on hit.
func (c *PasswordCache) Get(uuid string) (string, bool) {
	if c.ttl <= 0 || uuid == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	entry, ok := c.entries[uuid]
	if !ok {
		return "", false
	}
	entry.storedAt = c.clock.Now()
	c.entries[uuid] = entry
	return entry.password, true
}

// Put stores a passphrase for a container UUID.
func (c *PasswordCache) Put(uuid, password string) {
	if c.ttl <= 0 || uuid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.entries[uuid] = cachedPassword{storedAt: c.clock.Now(), password: password}
}

// Forget drops the passphrase for a container UUID, used after a failed
// unlock so a wrong password is not retried forever.
func (c *PasswordCache) Forget(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uuid)
}

func (c *PasswordCache) pruneLocked() {
	now := c.clock.Now()
	for uuid, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, uuid)
		}
	}
}
