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
	"path/filepath"

	"github.com/DiskmountProject/diskmount-core/pkg/config"
	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
)

// Decision is the per-device outcome of rule evaluation.
type Decision struct {
	Options   []string
	Ignore    bool
	Automount bool
}

// ignoredSymlinkGlobs are device-mapper names that look like removable
// block devices but belong to container runtimes.
var ignoredSymlinkGlobs = []string{
	"/dev/mapper/docker-*",
	"/dev/disk/by-id/dm-name-docker-*",
}

// RuleSet evaluates configured device rules in file order, first match
// wins. String match values are shell globs; list attributes match when any
// element matches the glob.
type RuleSet struct {
	rules []config.Rule
}

func NewRuleSet(rules []config.Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Evaluate returns the decision for a device. Devices matched by no rule
// get the permissive default. Built-in ignores for presentation-hint and
// container-runtime devices apply before any configured rule.
func (r *RuleSet) Evaluate(view udisks.DeviceView) Decision {
	decision := Decision{Automount: true}
	if view.HintIgnore() || hasIgnoredSymlink(view) {
		decision.Ignore = true
		return decision
	}
	for i := range r.rules {
		rule := &r.rules[i]
		if !ruleMatches(rule, view) {
			continue
		}
		decision.Ignore = rule.Ignore
		decision.Options = rule.Options
		if rule.Automount != nil {
			decision.Automount = *rule.Automount
		}
		return decision
	}
	return decision
}

func hasIgnoredSymlink(view udisks.DeviceView) bool {
	for _, link := range view.Symlinks() {
		for _, glob := range ignoredSymlinkGlobs {
			if matched, err := filepath.Match(glob, link); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func ruleMatches(rule *config.Rule, view udisks.DeviceView) bool {
	for name, want := range rule.Match {
		attr, ok := view.Attr(name)
		if !ok {
			log.Warn().Str("attribute", name).Msg("unknown match attribute in rule")
			return false
		}
		if !attrMatches(attr, want) {
			return false
		}
	}
	return true
}

// attrMatches compares one device attribute against a configured match
// value. The configured value is weakly decoded to the attribute's type, so
// "true", 1 and true all match a boolean attribute.
func attrMatches(attr, want any) bool {
	switch actual := attr.(type) {
	case bool:
		var expected bool
		if err := mapstructure.WeakDecode(want, &expected); err != nil {
			return false
		}
		return actual == expected
	case uint64:
		var expected uint64
		if err := mapstructure.WeakDecode(want, &expected); err != nil {
			return false
		}
		return actual == expected
	case string:
		var expected string
		if err := mapstructure.WeakDecode(want, &expected); err != nil {
			return false
		}
		return globMatch(expected, actual)
	case []string:
		var expected string
		if err := mapstructure.WeakDecode(want, &expected); err != nil {
			return false
		}
		for _, element := range actual {
			if globMatch(expected, element) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func globMatch(pattern, value string) bool {
	matched, err := filepath.Match(pattern, value)
	if err != nil {
		log.Warn().Str("pattern", pattern).Msg("invalid glob in rule")
		return false
	}
	return matched
}
