// Package main is the CLI entry point for roxy — a MITM HTTP/1.1,
// HTTP/2, and HTTP/3 proxy with dynamic TLS leaf issuance and a
// pluggable JavaScript/Lua/Python scripting layer.
//
// Architecture overview:
//
//	Client --> roxy (TLS terminator + protocol engines) --> Upstream
//	            |
//	            +-- sniff (h2 preface / TLS / h1 / opaque)
//	            +-- script host (request/response dispatch)
//	            +-- CA store (per-SNI leaf issuance)
//
// roxy has a single subcommand-free entry point: `roxy` starts the
// proxy and blocks until SIGINT/SIGTERM. All state (the CA root and
// leaf cache) lives under --ca-dir.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roxyhq/roxy/internal/ca"
	"github.com/roxyhq/roxy/internal/notify"
	"github.com/roxyhq/roxy/internal/rerr"
	"github.com/roxyhq/roxy/internal/script"
	_ "github.com/roxyhq/roxy/internal/script/jsengine"
	_ "github.com/roxyhq/roxy/internal/script/luaengine"
	_ "github.com/roxyhq/roxy/internal/script/pyengine"
	"github.com/roxyhq/roxy/internal/supervisor"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-07-29"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Process exit codes.
const (
	exitOK           = 0
	exitBadArgs      = 2
	exitCAInitFailed = 3
	exitBindFailed   = 4
)

// defaultCADir returns $HOME/.roxy, where the CA root, leaf cache, and
// its SQLite warm-start mirror live.
func defaultCADir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roxy"
	}
	return filepath.Join(home, ".roxy")
}

// Flags bound on the root command — roxy has no subcommands, so every
// flag the CLI contract names lives here.
var (
	flagPort    uint16
	flagPortH3  uint16
	flagScripts []string
	flagCADir   string
)

var rootCmd = &cobra.Command{
	Use:   "roxy",
	Short: "roxy — a scriptable MITM HTTP/1, HTTP/2, and HTTP/3 proxy",
	Long: `roxy terminates TLS for intercepted connections using a locally
trusted root CA, minting a fresh leaf certificate per SNI on first
use, and runs every request/response through a pluggable
JavaScript/Lua/Python scripting layer before forwarding it upstream.

Run 'roxy' to start the proxy in the foreground. Press Ctrl+C to stop.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().Uint16Var(&flagPort, "port", 8080, "HTTP/1+2 listener port")
	rootCmd.Flags().Uint16Var(&flagPortH3, "port-h3", 0, "HTTP/3 (QUIC) listener port (0 disables it)")
	rootCmd.Flags().StringArrayVar(&flagScripts, "script", nil, "script file to load (repeatable)")
	rootCmd.Flags().StringVar(&flagCADir, "ca-dir", defaultCADir(), "CA root and leaf-cache directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := exitCodeFor(err); ok {
			os.Exit(code)
		}
		os.Exit(exitBadArgs)
	}
}

// exitCodeFor maps a pipeline error to the exit code for its
// failure phase: CA initialization failures exit 3, listener bind
// failures exit 4. Anything else (cobra argument-parsing errors, for
// instance) falls through to the generic bad-arguments code in main.
func exitCodeFor(err error) (int, bool) {
	re, ok := err.(*rerr.Error)
	if !ok {
		return 0, false
	}
	switch re.Kind {
	case rerr.KindCAInitFailed:
		return exitCAInitFailed, true
	case rerr.KindResourceExhausted:
		return exitBindFailed, true
	default:
		return 0, false
	}
}

// run wires every subsystem together and blocks until SIGINT/SIGTERM:
//
//  1. Open the CA store and ensure the root certificate exists,
//     persisting it (and its PEM/DER/PKCS12 siblings) under --ca-dir.
//  2. Build the notification sink scripts publish to via notify(...).
//  3. Build the script host and load every --script path.
//  4. Build and start the Connection Supervisor on --port (and
//     --port-h3 if given).
//  5. Block on a signal context; on shutdown, drain the supervisor and
//     stop every script extension in reverse load order.
func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// --- Step 1: CA store ---
	store, err := ca.NewStore(ca.Options{Dir: flagCADir})
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.EnsureRoot(); err != nil {
		return rerr.Wrap(rerr.KindCAInitFailed, err, "ensuring ca root in %s", flagCADir)
	}
	logger.Info("ca root ready", "dir", flagCADir)

	// --- Step 2: notification sink ---
	sink := notify.NewSink(256)

	// --- Step 3: script host ---
	host := script.New(sink, logger, flagScripts)
	if err := host.Load(context.Background()); err != nil {
		return rerr.Wrap(rerr.KindScriptLoadFailed, err, "loading scripts")
	}
	for _, ext := range host.Extensions() {
		logger.Info("loaded extension", "file", ext.Path, "language", ext.Language)
	}

	// --- Step 4: supervisor ---
	sup := supervisor.New(supervisor.Config{
		Addr:   fmt.Sprintf(":%d", flagPort),
		H3Addr: h3Addr(flagPortH3),
		CA:     store,
		Host:   host,
		Sink:   sink,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("roxy listening", "port", flagPort, "port_h3", flagPortH3)
		errCh <- sup.Serve(ctx)
	}()

	// --- Step 5: block until signalled or the supervisor exits ---
	select {
	case <-ctx.Done():
		logger.Info("shutting down (signal received)")
	case err := <-errCh:
		if err != nil {
			return rerr.Wrap(rerr.KindResourceExhausted, err, "starting listeners")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), supervisor.DefaultShutdownGrace)
	defer cancel()
	sup.Shutdown(shutdownCtx)

	logger.Info("roxy stopped")
	return nil
}

// h3Addr returns the empty string (disabling the HTTP/3 listener)
// when --port-h3 was left at its zero default.
func h3Addr(port uint16) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}
