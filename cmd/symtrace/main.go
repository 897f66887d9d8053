// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// symtrace resolves instruction addresses captured during tracing to
// symbols, and names back to addresses for probe placement. Use pid -1 for
// kernel addresses.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platformbuilds/symtrace/internal/config"
	"github.com/platformbuilds/symtrace/internal/symbolize"
)

func main() {
	cfgPath := flag.String("config", "/etc/symtrace/config.yaml", "path to config yaml")
	pid := flag.Int("pid", symbolize.KernelPID, "target pid, -1 for the kernel")
	addr := flag.Uint64("addr", 0, "address to resolve")
	name := flag.String("name", "", "symbol name to resolve to an address")
	module := flag.String("module", "", "restrict -name lookup to one module")
	whichLib := flag.String("which-lib", "", "resolve a short library name to a path")
	lang := flag.Bool("lang", false, "detect the target's implementation language")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	reg := prometheus.NewRegistry()
	metrics, err := symbolize.NewMetrics(reg, cfg.SelfTelemetry.NS)
	if err != nil {
		log.Error("metrics registration failed", "error", err)
		os.Exit(1)
	}
	if cfg.SelfTelemetry.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.SelfTelemetry.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("self-telemetry server failed", "error", err)
			}
		}()
	}

	engine := symbolize.NewEngine(log, symbolize.Options{
		Demangle: symbolize.DemangleType(cfg.Symbols.Demangle),
	}, metrics)

	switch {
	case *whichLib != "":
		path := engine.WhichLibrary(*whichLib, max(*pid, 0))
		if path == "" {
			fmt.Printf("%s: not found\n", *whichLib)
			os.Exit(1)
		}
		fmt.Println(path)

	case *lang:
		detected := engine.DetectLanguage(*pid)
		if detected == "" {
			detected = "unknown"
		}
		fmt.Println(detected)

	case *name != "":
		resolved, ok := engine.ResolveName(*pid, *module, *name)
		if !ok {
			fmt.Printf("%s: not found\n", *name)
			os.Exit(1)
		}
		fmt.Printf("%#x\n", resolved)

	case *addr != 0:
		sym, ok := engine.Resolve(*pid, *addr)
		if !ok {
			if sym.Module != "" {
				fmt.Printf("%#x (%s+%#x)\n", *addr, sym.Module, sym.Offset)
			} else {
				fmt.Printf("%#x\n", *addr)
			}
			os.Exit(1)
		}
		fmt.Printf("%s+%#x [%s]\n", sym.Name, sym.Offset, sym.Module)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
