package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cmdrunner/internal/platform"

	"github.com/fatih/color"
)

func main() {
	platform.InitMetrics()

	appCfg, err := platform.LoadAppConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cmdrunner:", err)
		os.Exit(1)
	}
	platform.InitLogger(appCfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Optional embedded NATS server for execution events ---
	var bus *platform.Bus
	if appCfg.Flags.Bus {
		nc, ns, natErrCh, err := platform.RunEmbeddedServer(ctx, *appCfg.NatsCfg)
		if err != nil {
			slog.Error("Failed to start embedded server", "err", err)
			os.Exit(1)
		}
		defer ns.Shutdown()
		defer nc.Close()

		bus, err = platform.SetupBus(ctx, nc)
		if err != nil {
			slog.Error("Failed to set up execution stream", "err", err)
			os.Exit(1)
		}

		go func() {
			if err := <-natErrCh; ctx.Err() == nil {
				slog.Error("Embedded server error", "err", err)
				cancel()
			}
		}()
	}

	exec := platform.NewExecutor(appCfg, bus)
	handlers := platform.NewHandlers(exec, bus.Store(), appCfg.HTTPSrvCfg.Port)
	httpErrCh := platform.RunHTTPServer(ctx, handlers, *appCfg.HTTPSrvCfg)

	printBanner(appCfg)

	if err := <-httpErrCh; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("HTTP server error", "err", err)
		os.Exit(1)
	}
	slog.Info("cmdrunner: shutdown complete")
}

// printBanner tells an operator where the runner is listening.
func printBanner(cfg *platform.AppConfig) {
	scheme := "http"
	if cfg.HTTPSrvCfg.EnableTLS {
		scheme = "https"
	}
	project := cfg.ExecCfg.DefaultDir
	if project == "" {
		project = "(none, requests must send a path)"
	}

	color.New(color.FgGreen, color.Bold).Fprintf(os.Stderr, "✅ cmdrunner listening on %s://%s\n", scheme, cfg.HTTPSrvCfg.Addr())
	color.New(color.FgCyan).Fprintf(os.Stderr, "📁 Default project: %s\n", project)
	if cfg.Flags.Bus {
		color.New(color.FgYellow).Fprintf(os.Stderr, "📡 Execution events on event.exec.> (stream EXEC)\n")
	}
}
