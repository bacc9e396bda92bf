package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gatewright/gatewright/adapters/clitick"
	"github.com/gatewright/gatewright/adapters/httpgw"
	"github.com/gatewright/gatewright/adapters/schedtick"
	"github.com/gatewright/gatewright/adapters/wsgw"
	"github.com/gatewright/gatewright/internal/adapters"
	"github.com/gatewright/gatewright/internal/appconfig"
	"github.com/gatewright/gatewright/internal/core"
	"github.com/gatewright/gatewright/internal/gateconfig"
	"github.com/gatewright/gatewright/internal/memoryclient"
	"github.com/gatewright/gatewright/internal/metrics"
	"github.com/gatewright/gatewright/internal/orchestrator"
	"github.com/gatewright/gatewright/internal/orchestrator/refstrategy"
	"github.com/gatewright/gatewright/internal/secrets"
	"github.com/gatewright/gatewright/internal/storage"
)

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the gatewright core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Gateway host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Gateway port to listen on",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Agent strategy: echo | reference",
			},
			&cli.BoolFlag{
				Name:  "stdin",
				Usage: "Read user messages from stdin",
			},
		},
		Action: runCore,
	}
}

func runCore(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = appconfig.Default()
	}

	logLevel := resolveLogLevel(cfg.LogLevel)
	if cmd.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("strategy") {
		cfg.Agent.Strategy = cmd.String("strategy")
	}

	// Gate configuration: file-backed when present, defaults otherwise.
	gatePath := cfg.Gate.ConfigPath
	if gatePath == "" {
		gatePath = appconfig.GateConfigPath()
	}
	var reloader *gateconfig.Reloader
	if gateCfg, err := gateconfig.Load(gatePath); err == nil {
		reloader = gateconfig.NewReloader(gatePath, gateCfg)
		if cfg.Gate.Watch {
			if err := reloader.WatchFile(); err != nil {
				slog.Warn("gate config watch failed", "error", err)
			} else {
				defer reloader.StopWatch()
			}
		}
		slog.Info("gate config loaded", "path", gatePath)
	} else {
		slog.Warn("gate config not found, using defaults", "path", gatePath, "error", err)
		reloader = gateconfig.NewReloader("", gateconfig.Default())
	}

	// Agent orchestrator strategy.
	var orch orchestrator.Orchestrator = orchestrator.Echo{}
	if cfg.Agent.Strategy == "reference" {
		ref, err := refstrategy.New(ctx, refstrategy.Config{
			APIKey:     cfg.Agent.Model.APIKey,
			Model:      cfg.Agent.Model.Model,
			MaxTokens:  cfg.Agent.Model.MaxTokens,
			MCPCommand: cfg.Agent.MCP.Command,
			MCPArgs:    cfg.Agent.MCP.Args,
		})
		if err != nil {
			return fmt.Errorf("init reference strategy: %w", err)
		}
		defer ref.Close()
		orch = ref
	}

	// Memory service client (fail-open; nil when disabled).
	var memSvc memoryclient.Service
	if cfg.Memory.Enabled {
		var enc *secrets.Encryptor
		if cfg.Memory.EncryptEvidence {
			enc, err = secrets.NewEncryptor(cfg.Memory.AgeKeyPath)
			if err != nil {
				slog.Warn("evidence encryption disabled", "error", err)
			}
		}
		memSvc = memoryclient.NewFileStore(cfg.Memory.Dir, enc)
	}

	c := core.New(core.Options{
		Config:       cfg,
		GateReloader: reloader,
		Orchestrator: orch,
		Memory:       memSvc,
		Metrics:      metrics.New("gatewright"),
	})
	c.Start()

	// Observation audit log on the egress hub.
	logsDir := filepath.Join(appconfig.GatewrightPath(), "logs")
	obsLog := storage.NewObservationLogger(logsDir, c.Egress())
	defer obsLog.Close()

	// Adapters.
	runner := adapters.NewRunner(c.Bus(), c.Nociception())
	if cmd.Bool("stdin") {
		runner.Register(clitick.NewStdinAdapter("local"))
	}

	sched := schedtick.New(schedtick.NewStore(cfg.Schedules.Dir), staticEntries(cfg))
	runner.Register(sched)

	if cfg.Gateway.Enabled {
		gw := httpgw.NewServer(c.Bus(), c, c, cfg.Gateway.Host, cfg.Gateway.Port)
		hub := wsgw.NewHub(c.Bus(), c.Egress())
		defer hub.Close()
		gw.Mount("/api/ws", http.HandlerFunc(hub.ServeWS))
		runner.Register(gw)
	}

	runner.Start(ctx)

	<-ctx.Done()
	slog.Info("shutting down")

	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Shutdown(shutdownCtx)
	return nil
}

func staticEntries(cfg *appconfig.Config) []schedtick.Entry {
	out := make([]schedtick.Entry, 0, len(cfg.Schedules.Entries))
	for _, e := range cfg.Schedules.Entries {
		out = append(out, schedtick.Entry{ID: e.ID, Cron: e.Cron, Data: e.Data})
	}
	return out
}
