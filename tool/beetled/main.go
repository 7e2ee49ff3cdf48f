/*
Copyright 2024 Obelisk Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command beetled runs the beetle fleet backend: the HTTP front door, the
// registrar worker, and the renderer worker, in any combination of roles.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/obelisklabs/beetle"
	"github.com/obelisklabs/beetle/lib/config"
	"github.com/obelisklabs/beetle/lib/service"
)

func main() {
	app := kingpin.New("beetled", "Beetle fleet backend server.")
	app.HelpFlag.Short('h')

	start := app.Command("start", "Start the server.")
	configPath := start.Flag("config", "Path to the configuration file.").
		Short('c').Default("beetle.toml").String()
	roles := start.Flag("roles", fmt.Sprintf("Comma-separated roles to run (%s); defaults to all.",
		strings.Join(service.AllRoles, ","))).String()
	debug := start.Flag("debug", "Enable debug logging.").Short('d').Bool()

	version := app.Command("version", "Print the version and exit.")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	switch command {
	case start.FullCommand():
		if err := runStart(*configPath, *roles, *debug); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case version.FullCommand():
		fmt.Println(beetle.Version)
	}
}

func runStart(configPath, roles string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	file, err := config.ReadFile(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "beetled starting", "version", beetle.Version, "config", configPath)
	return service.Run(ctx, service.Config{
		File:   file,
		Roles:  splitRoles(roles),
		Logger: logger,
	})
}

func splitRoles(roles string) []string {
	if roles == "" {
		return nil
	}
	var out []string
	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			out = append(out, role)
		}
	}
	return out
}
