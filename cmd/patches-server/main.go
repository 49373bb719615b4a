// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the patches feed server.
//
// The server hands out sessions to vulnerability scanners and serves each
// one its platform's feed in batches, fetching from upstream once per
// platform no matter how many scanners poll. Configuration comes from flags
// with PATCHES_* environment overrides; with a Redis address configured the
// registry and cache are snapshotted on shutdown and can be rehydrated on
// the next start.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"patches/internal/patchserver/api"
	"patches/internal/patchserver/core"
	"patches/internal/patchserver/persistence"
	"patches/internal/patchserver/source"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patches-server",
		Short: "Caching, session-oriented vulnerability feed server",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("listen-addr", ":9002", "HTTP listen address")
	f.String("clair-base-address", "http://127.0.0.1:6060", "base URL of the Clair v1 instance; empty disables the Clair source")
	f.Int("clair-fetch-limit", 128, "page size for Clair summary listings")
	f.Int("testing-vulns", 0, "if > 0, enable the testing stub source emitting this many records")
	f.Int("max-active-sessions", core.DefaultMaxActiveSessions, "maximum sessions served at once")
	f.Int("max-queued-sessions", core.DefaultMaxQueuedSessions, "maximum sessions waiting for activation")
	f.Int("session-timeout-seconds", 30, "seconds of silence after which a session expires")
	f.Int("max-vulns-to-serve", core.DefaultMaxVulnsToServe, "maximum records served to one scanner per request")
	f.String("redis-addr", "", "Redis address for state snapshots; empty disables persistence")
	f.String("redis-password", "", "Redis password")
	f.Bool("rebuild", false, "rehydrate registry and cache from Redis before serving")

	// Bind flags to viper so PATCHES_LISTEN_ADDR and friends override them.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("listen_addr", "listen-addr")
	bindFlag("clair_base_address", "clair-base-address")
	bindFlag("clair_fetch_limit", "clair-fetch-limit")
	bindFlag("testing_vulns", "testing-vulns")
	bindFlag("max_active_sessions", "max-active-sessions")
	bindFlag("max_queued_sessions", "max-queued-sessions")
	bindFlag("session_timeout_seconds", "session-timeout-seconds")
	bindFlag("max_vulns_to_serve", "max-vulns-to-serve")
	bindFlag("redis_addr", "redis-addr")
	bindFlag("redis_password", "redis-password")
	bindFlag("rebuild", "rebuild")

	viper.SetEnvPrefix("PATCHES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var sources source.Configs
	if base := viper.GetString("clair_base_address"); base != "" {
		sources.Clair = &source.ClairConfig{
			BaseAddress: base,
			FetchLimit:  viper.GetInt("clair_fetch_limit"),
		}
	}
	if n := viper.GetInt("testing_vulns"); n > 0 {
		sources.Testing = &source.StubConfig{Vulns: n}
	}

	state := core.NewServerState()
	if _, err := state.Configure(core.Config{
		Sources:           sources,
		MaxActiveSessions: viper.GetInt("max_active_sessions"),
		MaxQueuedSessions: viper.GetInt("max_queued_sessions"),
		SessionTimeout:    time.Duration(viper.GetInt("session_timeout_seconds")) * time.Second,
		MaxVulnsToServe:   viper.GetInt("max_vulns_to_serve"),
	}); err != nil {
		return err
	}

	// With a Redis configured, warm-start from the last snapshot when asked
	// and snapshot again on the way out. Both are best effort.
	var medium *persistence.RedisMedium
	if addr := viper.GetString("redis_addr"); addr != "" {
		medium = persistence.NewRedisMedium(addr, viper.GetString("redis_password"))
		if viper.GetBool("rebuild") {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			snap, err := persistence.Load(ctx, medium)
			cancel()
			if err != nil {
				slog.Warn("could not rehydrate state; starting cold", "error", err)
			} else {
				state.RestoreSnapshot(snap)
				slog.Info("rehydrated state from snapshot",
					"sessions", len(snap.Sessions), "buckets", len(snap.Buckets))
			}
		}
	}

	server := api.NewServer(state)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	listenAddr := viper.GetString("listen_addr")
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("patches feed server listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	if medium != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := persistence.Save(ctx, medium, state.Snapshot()); err != nil {
			slog.Error("could not persist state snapshot", "error", err)
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
