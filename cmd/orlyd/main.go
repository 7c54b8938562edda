// Command orlyd is the relay server: it loads configuration, opens the
// event store and blob store, and serves the combined websocket/Blossom/
// management listener until a termination signal, reloading configuration
// on SIGHUP.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/kardianos/osext"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/profile"

	"nexrelay.dev/blossom"
	"nexrelay.dev/chk"
	"nexrelay.dev/config"
	"nexrelay.dev/log"
	"nexrelay.dev/management"
	"nexrelay.dev/registry"
	"nexrelay.dev/store"
	"nexrelay.dev/transport"
)

func main() {
	cfg, err := config.New()
	if chk.T(err) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		}
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	if config.EnvRequested() {
		config.PrintEnv(cfg, os.Stdout)
		os.Exit(0)
	}
	if config.HelpRequested() {
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	log.SetLevel(log.FromString(cfg.LogLevel))

	exe, _ := osext.Executable()
	log.I.F("starting %s from %s (%s, %d)", cfg.AppName, exe, cpuid.CPU.BrandName, cpuid.CPU.X64Level())

	if cfg.Pprof {
		defer profile.Start(profile.MemProfile).Stop()
		go func() {
			chk.E(http.ListenAndServe("127.0.0.1:6060", nil))
		}()
	}

	st, err := store.Open(cfg.DataDir, cfg.BroadcastBuffer)
	if chk.E(err) {
		log.F.F("failed to open event store: %v", err)
		os.Exit(1)
	}
	defer func() { chk.E(st.Close()) }()

	blobs, err := blossom.Open(cfg.BlobDir)
	if chk.E(err) {
		log.F.F("failed to open blob store: %v", err)
		os.Exit(1)
	}

	reg := registry.New(cfg, st)
	manage := management.New(reg)
	srv := transport.New(reg, blobs, manage)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGHUP:
				reg.Reload()
			default:
				log.I.F("received %v, shutting down", s)
				reg.BeginShutdown()
				cancel()
				return
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.BindIP, cfg.Port)
	if err = srv.Serve(ctx, addr, cfg.UseTLS, cfg.CertPath, cfg.KeyPath); chk.E(err) {
		log.F.F("server terminated: %v", err)
		os.Exit(1)
	}
}
