package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/tabclaw/internal/browser"
	"github.com/roelfdiedericks/tabclaw/internal/config"
	"github.com/roelfdiedericks/tabclaw/internal/convo"
	"github.com/roelfdiedericks/tabclaw/internal/executor"
	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/orchestrator"
	"github.com/roelfdiedericks/tabclaw/internal/pager"
	"github.com/roelfdiedericks/tabclaw/internal/router"
	"github.com/roelfdiedericks/tabclaw/internal/server"
	"github.com/roelfdiedericks/tabclaw/internal/settings"
	"github.com/roelfdiedericks/tabclaw/internal/store"
	"github.com/roelfdiedericks/tabclaw/internal/tools"
)

const version = "0.1.0"

type cli struct {
	Config string `help:"Path to config file (JSON or TOML)." type:"path"`
	Debug  bool   `help:"Enable debug logging."`

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the coordinator daemon."`
	Version versionCmd `cmd:"" help:"Print version and exit."`
}

type versionCmd struct{}

func (versionCmd) Run(*cli) error {
	fmt.Printf("tabclaw %s\n", version)
	return nil
}

type serveCmd struct{}

func (serveCmd) Run(root *cli) error {
	path := root.Config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level := logLevel(cfg.Logging.Level)
	if root.Debug {
		level = LevelDebug
	}
	Init(&Options{Level: level, ShowCaller: cfg.Logging.ShowCaller})
	L_info("tabclaw %s starting", version)
	if path != "" {
		L_debug("config loaded", "path", path)
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{Path: cfg.StorePath})
	if err != nil {
		return err
	}
	defer st.Close()

	mgr := settings.NewManager(st)
	defer mgr.Close()
	if err := seedProvider(mgr, cfg.Provider); err != nil {
		return err
	}
	state := convo.NewState(mgr)

	pg := pager.New(pager.Config{
		ThresholdBytes: cfg.Pager.ThresholdBytes,
		PageSizeBytes:  cfg.Pager.PageSizeBytes,
		Retention:      cfg.Pager.Retention(),
	})
	if err := pg.StartJanitor(); err != nil {
		return err
	}
	defer pg.StopJanitor()

	r := router.New()
	srv := server.New(r)

	exec, cleanup, err := buildExecutor(cfg.Browser, srv)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := orchestrator.New(state, mgr, pg, exec, orchestrator.Config{
		MaxToolRounds: cfg.Orchestrator.MaxToolRounds,
		LLMTimeout:    cfg.Orchestrator.LLMTimeout(),
	})
	orch.RegisterHandlers(r)

	if err := srv.Start(cfg.Listen); err != nil {
		return err
	}

	// Echo persisted settings changes to connected clients so panels
	// re-render from storage state.
	go func() {
		for raw := range mgr.Subscribe() {
			srv.Broadcast(router.Envelope{Type: router.TypeSettingsResponse, Payload: raw})
		}
	}()

	// Live-reload the log level when the config file changes.
	if path != "" {
		watcher, werr := config.NewWatcher(path, func(next *config.Config) {
			SetLevel(logLevel(next.Logging.Level))
		})
		if werr != nil {
			L_warn("config watch disabled", "error", werr)
		} else {
			defer watcher.Stop()
		}
	}

	L_info("tabclaw ready", "listen", srv.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	L_info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildExecutor picks the tool backend: a local Chromium when a control URL
// is configured, otherwise the proxy that forwards to connected tabs.
func buildExecutor(cfg config.BrowserConfig, srv *server.Server) (tools.Executor, func(), error) {
	if cfg.ControlURL == "" {
		return executor.NewProxy(srv), func() {}, nil
	}
	b := browser.NewExecutor(browser.Config{
		ControlURL: cfg.ControlURL,
		Stealth:    cfg.Stealth,
		OpTimeout:  cfg.OpTimeout(),
	})
	if err := b.Connect(); err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}

// seedProvider fills the settings document from config on first run only.
// A provider already persisted by the panel wins over the config file.
func seedProvider(mgr *settings.Manager, p config.ProviderConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := mgr.Update(ctx, func(doc *settings.Settings) error {
		if doc.Provider.APIKey != "" || doc.Provider.Endpoint != "" {
			return nil
		}
		if p.Type != "" {
			doc.Provider.Type = p.Type
		}
		if p.Endpoint != "" {
			doc.Provider.Endpoint = p.Endpoint
		}
		if p.Model != "" {
			doc.Provider.Model = p.Model
		}
		if p.APIKey != "" {
			doc.Provider.APIKey = p.APIKey
		}
		return nil
	})
	return err
}

func logLevel(name string) int {
	switch name {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func main() {
	var root cli
	ctx := kong.Parse(&root,
		kong.Name("tabclaw"),
		kong.Description("Browser tab copilot coordinator."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&root); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
