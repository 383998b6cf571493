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
	"strings"

	"github.com/godbus/dbus/v5"
)

// PropMap holds the currently known properties of one interface.
type PropMap map[string]dbus.Variant

// InterfaceSet is everything currently known about one identity, keyed by
// interface name. Absence of an interface means that capability is
// unavailable for the object, not merely false.
type InterfaceSet map[string]PropMap

// Clone returns a deep copy. Stored sets are never mutated in place, so a
// clone taken before an update remains a valid pre-update snapshot.
func (s InterfaceSet) Clone() InterfaceSet {
	if s == nil {
		return nil
	}
	out := make(InterfaceSet, len(s))
	for iface, props := range s {
		p := make(PropMap, len(props))
		for k, v := range props {
			p[k] = v
		}
		out[iface] = p
	}
	return out
}

// Merge replaces whole interfaces with the entries of other, keeping
// interfaces not mentioned there. This is the InterfacesAdded semantic.
func (s InterfaceSet) Merge(other InterfaceSet) {
	for iface, props := range other {
		p := make(PropMap, len(props))
		for k, v := range props {
			p[k] = v
		}
		s[iface] = p
	}
}

// Drop deletes the named interfaces.
func (s InterfaceSet) Drop(interfaces []string) {
	for _, iface := range interfaces {
		delete(s, iface)
	}
}

// Apply applies a PropertiesChanged delta to one interface: changed keys are
// set, invalidated keys are deleted. Deltas for interfaces the object never
// reported create the interface, matching the bus's view of the object.
func (s InterfaceSet) Apply(iface string, changed PropMap, invalidated []string) {
	props, ok := s[iface]
	if !ok {
		props = make(PropMap, len(changed))
		s[iface] = props
	}
	for _, key := range invalidated {
		delete(props, key)
	}
	for key, value := range changed {
		props[key] = value
	}
}

// Has reports whether the interface is present.
func (s InterfaceSet) Has(iface string) bool {
	_, ok := s[iface]
	return ok
}

// The typed accessors below return (zero, false) when the interface or the
// property is absent, or when the value has an unexpected shape. Absence is
// an explicit sentinel here, never an error.

func (s InterfaceSet) value(iface, prop string) (any, bool) {
	props, ok := s[iface]
	if !ok {
		return nil, false
	}
	v, ok := props[prop]
	if !ok {
		return nil, false
	}
	return v.Value(), true
}

// Bool reads a boolean property.
func (s InterfaceSet) Bool(iface, prop string) (bool, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return false, false
	}
	b, ok := raw.(bool)
	return b, ok
}

// String reads a string property.
func (s InterfaceSet) String(iface, prop string) (string, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return "", false
	}
	str, ok := raw.(string)
	return str, ok
}

// Uint64 reads an unsigned integer property.
func (s InterfaceSet) Uint64(iface, prop string) (uint64, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	default:
		return 0, false
	}
}

// Float64 reads a double property.
func (s InterfaceSet) Float64(iface, prop string) (float64, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	return f, ok
}

// ByteString reads an "ay" property decoded as a NUL-terminated UTF-8 path.
// Plain string values are accepted for the legacy protocol.
func (s InterfaceSet) ByteString(iface, prop string) (string, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return "", false
	}
	return decodeBytes(raw)
}

// ByteStrings reads an "aay" property as a list of decoded paths. Plain
// string slices are accepted for the legacy protocol.
func (s InterfaceSet) ByteStrings(iface, prop string) ([]string, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return nil, false
	}
	switch items := raw.(type) {
	case [][]byte:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if str, ok := decodeBytes(item); ok {
				out = append(out, str)
			}
		}
		return out, true
	case []string:
		out := make([]string, len(items))
		copy(out, items)
		return out, true
	default:
		return nil, false
	}
}

// Path reads an "o" (object path) property as an Identity.
func (s InterfaceSet) Path(iface, prop string) (Identity, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return "", false
	}
	switch p := raw.(type) {
	case dbus.ObjectPath:
		return Identity(p), true
	case string:
		return Identity(p), true
	default:
		return "", false
	}
}

// Paths reads an "ao" property as a list of identities.
func (s InterfaceSet) Paths(iface, prop string) ([]Identity, bool) {
	raw, ok := s.value(iface, prop)
	if !ok {
		return nil, false
	}
	switch items := raw.(type) {
	case []dbus.ObjectPath:
		out := make([]Identity, len(items))
		for i, p := range items {
			out[i] = Identity(p)
		}
		return out, true
	case []string:
		out := make([]Identity, len(items))
		for i, p := range items {
			out[i] = Identity(p)
		}
		return out, true
	default:
		return nil, false
	}
}

// decodeBytes converts a byte-array property value to a string, trimming the
// trailing NUL that UDisks2 appends to path values.
func decodeBytes(raw any) (string, bool) {
	switch b := raw.(type) {
	case []byte:
		return strings.TrimRight(string(b), "\x00"), true
	case string:
		return strings.TrimRight(b, "\x00"), true
	default:
		return "", false
	}
}
