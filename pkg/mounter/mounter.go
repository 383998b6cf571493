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

// Package mounter decides which devices are handleable and drives
// mount/unlock operations against a device actor, recursing over
// partition and encrypted-container relationships.
package mounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/rs/zerolog/log"
)

// Actor performs the actual device operations. Both protocol generations
// provide an implementation over their bus connection.
type Actor interface {
	Mount(ctx context.Context, id udisks.Identity, fstype string, options []string) (string, error)
	Unmount(ctx context.Context, id udisks.Identity) error
	Unlock(ctx context.Context, id udisks.Identity, password string) (udisks.Identity, error)
	Lock(ctx context.Context, id udisks.Identity) error
	Eject(ctx context.Context, id udisks.Identity) error
	PowerOff(ctx context.Context, id udisks.Identity) error
}

// PasswordFunc obtains a passphrase for an encrypted container, e.g. by
// running a configured command. It is only consulted on cache miss.
type PasswordFunc func(ctx context.Context, view udisks.DeviceView) (string, error)

// ErrNoPassword is returned when a container needs a passphrase and no
// source can provide one.
var ErrNoPassword = errors.New("no password available")

// Mounter drives device operations. Methods return (false, nil) when the
// device is not eligible for the operation, reserving errors for attempts
// that actually failed.
type Mounter struct {
	registry  *udisks.Registry
	actor     Actor
	rules     *RuleSet
	passwords *PasswordCache
	prompt    PasswordFunc
}

// New creates a mounter. prompt may be nil when no password source is
// configured; unlock then only succeeds on cache hits.
func New(registry *udisks.Registry, actor Actor, rules *RuleSet, passwords *PasswordCache, prompt PasswordFunc) *Mounter {
	if rules == nil {
		rules = NewRuleSet(nil)
	}
	if passwords == nil {
		passwords = NewPasswordCache(0, nil)
	}
	return &Mounter{
		registry:  registry,
		actor:     actor,
		rules:     rules,
		passwords: passwords,
		prompt:    prompt,
	}
}

// IsHandleable reports whether the device is one this service manages:
// a block device on external media that no rule ignores.
func (m *Mounter) IsHandleable(view udisks.DeviceView) bool {
	if view.IsZero() || !view.IsBlock() {
		return false
	}
	if !view.IsExternal() {
		return false
	}
	return !m.rules.Evaluate(view).Ignore
}

// Mount mounts the device's filesystem with the rule-filtered options.
func (m *Mounter) Mount(ctx context.Context, view udisks.DeviceView) (bool, error) {
	if !m.IsHandleable(view) || !view.IsFilesystem() || view.IsMounted() {
		return false, nil
	}
	options := m.rules.Evaluate(view).Options
	mountPath, err := m.actor.Mount(ctx, view.Identity(), view.IDType(), options)
	if err != nil {
		return false, fmt.Errorf("failed to mount %s: %w", view, err)
	}
	log.Info().
		Str("device", view.UILabel()).
		Str("mount_path", mountPath).
		Msg("mounted device")
	return true, nil
}

// Unmount unmounts the device's filesystem.
func (m *Mounter) Unmount(ctx context.Context, view udisks.DeviceView) (bool, error) {
	if !m.IsHandleable(view) || !view.IsFilesystem() || !view.IsMounted() {
		return false, nil
	}
	if err := m.actor.Unmount(ctx, view.Identity()); err != nil {
		return false, fmt.Errorf("failed to unmount %s: %w", view, err)
	}
	log.Info().Str("device", view.UILabel()).Msg("unmounted device")
	return true, nil
}

// Unlock opens the encrypted container, trying the password cache before
// the configured password source.
func (m *Mounter) Unlock(ctx context.Context, view udisks.DeviceView) (bool, error) {
	if !m.IsHandleable(view) || !view.IsLUKS() || view.IsUnlocked() {
		return false, nil
	}
	uuid := view.IDUUID()
	password, cached := m.passwords.Get(uuid)
	if !cached {
		if m.prompt == nil {
			return false, ErrNoPassword
		}
		var err error
		password, err = m.prompt(ctx, view)
		if err != nil {
			return false, fmt.Errorf("failed to obtain password for %s: %w", view, err)
		}
	}
	if _, err := m.actor.Unlock(ctx, view.Identity(), password); err != nil {
		if cached {
			m.passwords.Forget(uuid)
		}
		return false, fmt.Errorf("failed to unlock %s: %w", view, err)
	}
	m.passwords.Put(uuid, password)
	log.Info().Str("device", view.UILabel()).Msg("unlocked device")
	return true, nil
}

// Lock closes the encrypted container.
func (m *Mounter) Lock(ctx context.Context, view udisks.DeviceView) (bool, error) {
	if !m.IsHandleable(view) || !view.IsLUKS() || !view.IsUnlocked() {
		return false, nil
	}
	if err := m.actor.Lock(ctx, view.Identity()); err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", view, err)
	}
	log.Info().Str("device", view.UILabel()).Msg("locked device")
	return true, nil
}

// Add makes the device fully available: filesystems are mounted, encrypted
// containers are unlocked and their cleartext device added, partition
// tables recurse over their partitions.
func (m *Mounter) Add(ctx context.Context, view udisks.DeviceView) (bool, error) {
	return m.add(ctx, view, map[udisks.Identity]bool{})
}

func (m *Mounter) add(ctx context.Context, view udisks.DeviceView, seen map[udisks.Identity]bool) (bool, error) {
	if view.IsZero() || seen[view.Identity()] {
		return false, nil
	}
	seen[view.Identity()] = true

	switch {
	case view.IsFilesystem():
		return m.Mount(ctx, view)
	case view.IsLUKS():
		unlocked, err := m.Unlock(ctx, view)
		if err != nil || !unlocked {
			return unlocked, err
		}
		// The cleartext device may take a notification round-trip to
		// appear; when it is already known, add it immediately.
		if holder := m.currentView(view).LUKSCleartextHolder(); !holder.IsZero() {
			if _, err := m.add(ctx, holder, seen); err != nil {
				return true, err
			}
		}
		return true, nil
	case view.IsPartitionTable():
		return m.addChildren(ctx, view, seen)
	default:
		return false, nil
	}
}

func (m *Mounter) addChildren(ctx context.Context, table udisks.DeviceView, seen map[udisks.Identity]bool) (bool, error) {
	var any bool
	var errs []error
	for _, child := range m.registry.Views() {
		if child.PartitionSlave().Identity() != table.Identity() {
			continue
		}
		added, err := m.add(ctx, child, seen)
		if err != nil {
			errs = append(errs, err)
		}
		any = any || added
	}
	return any, errors.Join(errs...)
}

// AutoAdd is Add gated on the device's automount rule decision, used by the
// automounter so explicit user requests are never blocked by it.
func (m *Mounter) AutoAdd(ctx context.Context, view udisks.DeviceView) (bool, error) {
	if !m.rules.Evaluate(view).Automount {
		return false, nil
	}
	return m.Add(ctx, view)
}

// Remove makes the device safely removable: mounted filesystems are
// unmounted, unlocked containers have their cleartext device removed and
// are locked, partition tables recurse over their partitions.
func (m *Mounter) Remove(ctx context.Context, view udisks.DeviceView) (bool, error) {
	return m.remove(ctx, view, map[udisks.Identity]bool{})
}

func (m *Mounter) remove(ctx context.Context, view udisks.DeviceView, seen map[udisks.Identity]bool) (bool, error) {
	if view.IsZero() || seen[view.Identity()] {
		return false, nil
	}
	seen[view.Identity()] = true

	switch {
	case view.IsFilesystem():
		return m.Unmount(ctx, view)
	case view.IsLUKS():
		if holder := view.LUKSCleartextHolder(); !holder.IsZero() {
			if _, err := m.remove(ctx, holder, seen); err != nil {
				return false, err
			}
		}
		return m.Lock(ctx, m.currentView(view))
	case view.IsPartitionTable():
		var any bool
		var errs []error
		for _, child := range m.registry.Views() {
			if child.PartitionSlave().Identity() != view.Identity() {
				continue
			}
			removed, err := m.remove(ctx, child, seen)
			if err != nil {
				errs = append(errs, err)
			}
			any = any || removed
		}
		return any, errors.Join(errs...)
	default:
		return false, nil
	}
}

// Eject removes the device's tree and ejects the owning drive's media.
func (m *Mounter) Eject(ctx context.Context, view udisks.DeviceView) error {
	if !view.IsEjectable() {
		return fmt.Errorf("device is not ejectable: %s", view)
	}
	if _, err := m.Remove(ctx, view); err != nil {
		return err
	}
	drive := view.Drive()
	if drive.IsZero() {
		return fmt.Errorf("no drive found for device: %s", view)
	}
	if err := m.actor.Eject(ctx, drive.Identity()); err != nil {
		return fmt.Errorf("failed to eject %s: %w", view, err)
	}
	log.Info().Str("device", view.UILabel()).Msg("ejected device")
	return nil
}

// Detach removes the device's tree and powers the owning drive off.
func (m *Mounter) Detach(ctx context.Context, view udisks.DeviceView) error {
	if !view.IsDetachable() {
		return fmt.Errorf("device is not detachable: %s", view)
	}
	if _, err := m.Remove(ctx, view); err != nil {
		return err
	}
	drive := view.Drive()
	if drive.IsZero() {
		return fmt.Errorf("no drive found for device: %s", view)
	}
	if err := m.actor.PowerOff(ctx, drive.Identity()); err != nil {
		return fmt.Errorf("failed to power off %s: %w", view, err)
	}
	log.Info().Str("device", view.UILabel()).Msg("detached device")
	return nil
}

// AddAll adds every handleable top-level device currently known.
func (m *Mounter) AddAll(ctx context.Context) error {
	var errs []error
	for _, view := range m.registry.Views() {
		if !view.IsTopLevel() || !m.IsHandleable(view) {
			continue
		}
		if _, err := m.AutoAdd(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveAll removes every handleable top-level device currently known.
func (m *Mounter) RemoveAll(ctx context.Context) error {
	var errs []error
	for _, view := range m.registry.Views() {
		if !view.IsTopLevel() || !m.IsHandleable(view) {
			continue
		}
		if _, err := m.Remove(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// currentView re-reads the device from the registry so decisions made after
// an operation see its effect, falling back to the stale view.
func (m *Mounter) currentView(view udisks.DeviceView) udisks.DeviceView {
	if current, ok := m.registry.View(view.Identity()); ok {
		return current
	}
	return view
}
