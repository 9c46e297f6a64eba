// Command roxy runs the intercepting proxy: it loads configuration from a
// YAML file and/or CLI flags, bootstraps the dynamic CA, attaches a script
// engine for the configured flavor, and serves the proxy and observation
// ports until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roxyproxy/roxy/proxy"
	"github.com/roxyproxy/roxy/script"
	"github.com/roxyproxy/roxy/script/js"
	"github.com/roxyproxy/roxy/script/lua"
	"github.com/roxyproxy/roxy/script/py"
	"github.com/roxyproxy/roxy/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := new(cliConfig)

	cmd := &cobra.Command{
		Use:   "roxy",
		Short: "Roxy is an interactive intercepting HTTP/HTTPS/WebSocket proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "path to a YAML config file")
	f.StringVar(&flags.addr, "addr", "", "proxy listen address (default \":9080\")")
	f.StringVar(&flags.h3Addr, "h3-addr", "", "QUIC/HTTP-3 listen address (empty disables H3)")
	f.StringVar(&flags.webAddr, "web-addr", "", "observation websocket listen address (default \":9081\")")
	f.StringVar(&flags.caPath, "ca-path", "", "directory the root CA is persisted in (default $HOME/.roxy)")
	f.StringVar(&flags.scriptPath, "script", "", "path to a Lua/JS/Python interception script")
	f.StringVar(&flags.upstream, "upstream", "", "upstream proxy URL (socks5://, http://, https://)")
	f.StringSliceVar(&flags.allowedHosts, "allow-host", nil, "CONNECT authority pattern to intercept (repeatable)")
	f.StringSliceVar(&flags.ignoredHosts, "ignore-host", nil, "CONNECT authority pattern to tunnel without intercepting (repeatable)")
	f.BoolVar(&flags.insecureSkipVerify, "insecure-skip-verify", false, "skip upstream TLS certificate verification")
	f.IntVar(&flags.debug, "debug", 0, "debug verbosity: 1 = debug log, 2 = debug log with source")

	return cmd
}

func run(cfg *rootConfig) error {
	level := slog.LevelInfo
	addSource := false
	if cfg.Debug > 0 {
		level = slog.LevelDebug
		addSource = cfg.Debug > 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level, AddSource: addSource}))
	slog.SetDefault(logger)

	proxyCfg := &proxy.Config{
		Addr:               cfg.Addr,
		H3Addr:             cfg.H3Addr,
		CAStorePath:        cfg.CAPath,
		ScriptPath:         cfg.ScriptPath,
		AllowedHosts:       cfg.AllowedHosts,
		IgnoredHosts:       cfg.IgnoredHosts,
		UpstreamProxy:      cfg.Upstream,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	p, err := proxy.New(proxyCfg, proxy.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("roxy: build proxy: %w", err)
	}

	var watcher *script.Watcher
	if cfg.ScriptPath != "" {
		rt, w, err := newScriptRuntime(cfg.ScriptPath)
		if err != nil {
			return fmt.Errorf("roxy: load script: %w", err)
		}
		p.Script = rt
		watcher = w
	}

	webServer := web.NewWebAddon(cfg.WebAddr, p.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 3)
	go func() { errc <- p.ListenAndServe() }()
	go func() { errc <- webServer.ListenAndServe() }()
	if cfg.H3Addr != "" {
		go func() { errc <- p.ListenAndServeH3(cfg.H3Addr) }()
	}

	slog.Info("roxy started", "addr", cfg.Addr, "h3_addr", cfg.H3Addr, "web_addr", cfg.WebAddr, "root_ca", fmt.Sprintf("%d bytes", len(p.CA.RootPEM())))

	select {
	case <-ctx.Done():
		slog.Info("roxy shutting down")
	case err := <-errc:
		if err != nil {
			slog.Error("roxy exited", "error", err)
		}
	}

	if watcher != nil {
		_ = watcher.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = webServer.Shutdown(shutdownCtx)
	return p.Shutdown(shutdownCtx)
}

// newScriptRuntime builds the Runtime for scriptPath's inferred flavor,
// loads its initial source, and starts a hot-reload Watcher (§4.7).
func newScriptRuntime(scriptPath string) (*script.Runtime, *script.Watcher, error) {
	flavor, err := script.FlavorForPath(scriptPath)
	if err != nil {
		return nil, nil, err
	}

	var rt *script.Runtime
	// Roxy.notify calls and hook errors go through the Runtime, which logs
	// them by level since no other consumer is set.
	emit := func(n script.Notification) { rt.Emit(n) }
	switch flavor {
	case script.FlavorLua:
		rt = script.NewRuntime(lua.New(emit), 0, nil)
	case script.FlavorJS:
		rt = script.NewRuntime(js.New(emit), 0, nil)
	case script.FlavorPython:
		engine, err := py.New(nil)
		if err != nil {
			return nil, nil, err
		}
		rt = script.NewRuntime(engine, 0, nil)
	default:
		return nil, nil, fmt.Errorf("roxy: unknown script flavor %q", flavor)
	}

	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, nil, fmt.Errorf("roxy: read script: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Load(ctx, source); err != nil {
		return nil, nil, fmt.Errorf("roxy: initial script load: %w", err)
	}

	w, err := script.NewWatcher(scriptPath, rt)
	if err != nil {
		return nil, nil, fmt.Errorf("roxy: start script watcher: %w", err)
	}
	return rt, w, nil
}
