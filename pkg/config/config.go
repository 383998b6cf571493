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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DiskmountProject/diskmount-core/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "DISKMOUNT_CFG"
	CfgFile       = "diskmount.toml"
)

type Values struct {
	Hooks        map[string]string `toml:"hooks,omitempty"`
	Rules        []Rule            `toml:"rules,omitempty"`
	Service      Service           `toml:"service,omitempty"`
	ConfigSchema int               `toml:"config_schema"`
	DebugLogging bool              `toml:"debug_logging"`
}

type Service struct {
	// PasswordCommand is a shell command printing a device's passphrase on
	// stdout, invoked with the device attributes in its environment.
	PasswordCommand string `toml:"password_command,omitempty"`
	// PasswordCacheTTL is how long unlock passphrases stay cached, in
	// seconds. Zero disables the cache.
	PasswordCacheTTL  int  `toml:"password_cache_ttl"`
	Automount         bool `toml:"automount"`
	LegacyProtocol    bool `toml:"legacy_protocol"`
	NoUserInteraction bool `toml:"no_user_interaction"`
}

// Rule is one device-matching entry. Match keys are device attribute names
// compared against the device's current view; a rule with no match keys
// matches every device. The first matching rule decides.
type Rule struct {
	Automount *bool          `toml:"automount,omitempty"`
	Match     map[string]any `toml:"match,omitempty"`
	Options   []string       `toml:"options,omitempty"`
	Ignore    bool           `toml:"ignore,omitempty"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Service: Service{
		Automount:        true,
		PasswordCacheTTL: 300,
	},
}

type Instance struct {
	fs       afero.Fs
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := cfg.fs.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := cfg.fs.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top so fields not
	// present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (c *Instance) Automount() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.Automount
}

func (c *Instance) SetAutomount(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Service.Automount = enabled
}

func (c *Instance) LegacyProtocol() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.LegacyProtocol
}

func (c *Instance) NoUserInteraction() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.NoUserInteraction
}

func (c *Instance) PasswordCommand() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.PasswordCommand
}

func (c *Instance) PasswordCacheTTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Service.PasswordCacheTTL) * time.Second
}

// Rules returns a copy of the configured device rules in file order.
func (c *Instance) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rules := make([]Rule, len(c.vals.Rules))
	copy(rules, c.vals.Rules)
	return rules
}

// HookFor returns the shell command configured for an event name, if any.
func (c *Instance) HookFor(event string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	command, ok := c.vals.Hooks[event]
	return command, ok && command != ""
}
