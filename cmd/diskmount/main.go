//go:build linux

/*
Diskmount Core
Copyright (c) 2026 The Diskmount Project Contributors.

This file is part of Diskmount Core.

Diskmount Core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Diskmount Core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Diskmount Core.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/DiskmountProject/diskmount-core/pkg/config"
	"github.com/DiskmountProject/diskmount-core/pkg/helpers"
	"github.com/DiskmountProject/diskmount-core/pkg/mounter"
	"github.com/DiskmountProject/diskmount-core/pkg/notify"
	"github.com/DiskmountProject/diskmount-core/pkg/udisks"
	"github.com/DiskmountProject/diskmount-core/pkg/udisks/udisks1"
	"github.com/DiskmountProject/diskmount-core/pkg/udisks/udisks2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// source bundles one protocol generation's daemon and actor.
type source struct {
	daemon udisks.Source
	actor  mounter.Actor
	close  func() error
}

func run() error {
	daemonMode := flag.Bool(
		"daemon",
		false,
		"log to stderr in addition to the log file",
	)
	debug := flag.Bool(
		"debug",
		false,
		"enable debug logging",
	)
	noAutomount := flag.Bool(
		"no-automount",
		false,
		"track devices without mounting them automatically",
	)
	legacy := flag.Bool(
		"legacy",
		false,
		"force the legacy protocol even when the modern service is available",
	)
	flag.Parse()

	configDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("failed to resolve config directory: %w", err)
	}
	configDir = filepath.Join(configDir, "diskmount")

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}
	if err := helpers.InitLogging(configDir, logWriters...); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *debug {
		cfg.SetDebugLogging(true)
	} else {
		cfg.SetDebugLogging(cfg.DebugLogging())
	}
	if *noAutomount {
		cfg.SetAutomount(false)
	}

	src, err := selectSource(cfg, *legacy)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.close(); err != nil {
			log.Warn().Err(err).Msg("error closing bus connection")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := src.daemon.Registry()
	events := src.daemon.Events()

	rules := mounter.NewRuleSet(cfg.Rules())
	passwords := mounter.NewPasswordCache(cfg.PasswordCacheTTL(), nil)
	mnt := mounter.New(registry, src.actor, rules, passwords, passwordPrompt(cfg))

	auto := mounter.NewAutoMounter(mnt, cfg.Automount)
	auto.Attach(ctx, events)

	hooks := notify.NewCommandHooks(cfg, nil)
	hooks.Attach(ctx, events)

	log.Info().Msg("diskmount started")
	if err := src.daemon.Run(ctx); err != nil {
		return fmt.Errorf("device source failed: %w", err)
	}
	return nil
}

// selectSource probes the modern service first and falls back to the legacy
// one, unless the legacy protocol is forced.
func selectSource(cfg *config.Instance, forceLegacy bool) (source, error) {
	useLegacy := forceLegacy || cfg.LegacyProtocol()
	if !useLegacy && udisks2.Available() {
		bus, err := udisks2.Connect()
		if err != nil {
			return source{}, fmt.Errorf("failed to connect: %w", err)
		}
		actions := udisks2.NewActions(bus)
		actions.NoUserInteraction = cfg.NoUserInteraction()
		log.Info().Msg("using the modern storage service")
		return source{
			daemon: udisks2.NewDaemon(bus, nil, nil),
			actor:  actions,
			close:  bus.Close,
		}, nil
	}
	if udisks1.Available() {
		bus, err := udisks1.Connect()
		if err != nil {
			return source{}, fmt.Errorf("failed to connect: %w", err)
		}
		log.Info().Msg("using the legacy storage service")
		return source{
			daemon: udisks1.NewDaemon(bus, nil, nil),
			actor:  udisks1.NewActions(bus),
			close:  bus.Close,
		}, nil
	}
	return source{}, errors.New("no storage service available on the system bus")
}

// passwordPrompt builds the passphrase source from the configured command,
// exposing the device attributes in the hook placeholder syntax.
func passwordPrompt(cfg *config.Instance) mounter.PasswordFunc {
	command := cfg.PasswordCommand()
	if command == "" {
		return nil
	}
	exec := &helpers.RealCommandExecutor{}
	return func(ctx context.Context, view udisks.DeviceView) (string, error) {
		expanded := notify.Expand(command, udisks.Event{Device: view})
		out, err := exec.Output(ctx, "sh", "-c", expanded)
		if err != nil {
			return "", fmt.Errorf("password command failed: %w", err)
		}
		return strings.TrimRight(string(out), "\n"), nil
	}
}
