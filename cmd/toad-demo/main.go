package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"toadcore/internal/adapter"
	"toadcore/internal/agent"
	"toadcore/internal/config"
	"toadcore/internal/mcpclient"
	"toadcore/internal/observability"
	"toadcore/internal/session"
	"toadcore/internal/tools/cli"
	"toadcore/internal/tools/fs"
	"toadcore/internal/tools/web"
	"toadcore/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML session config (defaults to built-in defaults)")
	task := flag.String("task", "", "Task to run through the TOAD loop")
	workdir := flag.String("workdir", ".", "Working directory jail for file/cli tools")
	adapterURL := flag.String("adapter-url", "", "Base URL of an external action adapter (MCP-style); omitted disables it")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: toad-demo -task \"...\" [-config session.yaml] [-adapter-url http://host:port]")
		os.Exit(2)
	}

	observability.InitLogger("", *logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config_load_failed")
	}

	if err := run(cfg, *task, *workdir, *adapterURL); err != nil {
		log.Fatal().Err(err).Msg("toad_demo_failed")
	}
}

func run(cfg config.SessionConfig, task, workdir, adapterURL string) error {
	ctx := context.Background()

	registry := tools.NewRegistryWithLogging(cfg.Verbose)
	registry.Register(fs.NewReadTool(workdir))
	registry.Register(cli.NewTool(cli.NewExecutor(cli.ExecConfig{}, workdir)))
	registry.Register(web.NewFetchTool())

	var mcpMgr *mcpclient.Manager
	if len(cfg.MCP.Servers) > 0 {
		mcpMgr = mcpclient.NewManager()
		if err := mcpMgr.RegisterFromConfig(ctx, registry, cfg.MCP); err != nil {
			return fmt.Errorf("registering mcp tools: %w", err)
		}
		defer mcpMgr.Close()
	}

	var ad adapter.Adapter
	if adapterURL != "" {
		ad = adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{
			BaseURL:                 adapterURL,
			CanvasID:                cfg.Adapter.CanvasID,
			Timeout:                 cfg.Adapter.Timeout,
			Retry:                   adapter.RetryConfig{InitialDelay: cfg.Adapter.RetryInitialDelay, MaxDelay: cfg.Adapter.RetryMaxDelay, Multiplier: cfg.Adapter.RetryMultiplier, Jitter: cfg.Adapter.RetryJitter, MaxRetries: cfg.Adapter.MaxRetries},
			CircuitFailureThreshold: cfg.Adapter.CircuitFailureThreshold,
			CircuitResetTimeout:     cfg.Adapter.CircuitResetTimeout,
		})
	}

	sess, err := session.Connect(ctx, cfg, session.Options{Registry: registry, Adapter: ad})
	if err != nil {
		return fmt.Errorf("connecting session: %w", err)
	}
	defer func() {
		if err := sess.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("session_disconnect_failed")
		}
	}()

	events, _, err := sess.Run(ctx, task)
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	start := time.Now()
	for ev := range events {
		logEvent(ev)
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("toad_run_finished")
	return nil
}

func logEvent(ev agent.Event) {
	entry := log.Info().Str("event", string(ev.Type))
	switch ev.Type {
	case agent.EventIteration:
		entry.Int("iteration", ev.N).Msg("iteration")
	case agent.EventThinking:
		entry.Str("text", ev.Text).Msg("thinking")
	case agent.EventToolCall:
		entry.Str("tool", ev.Tool).Str("id", ev.ID).Msg("tool_call")
	case agent.EventToolResult:
		entry.Str("tool", ev.Tool).Bool("success", ev.Success).Int64("duration_ms", ev.DurationMs).Msg("tool_result")
	case agent.EventDecision:
		entry.Str("next", string(ev.NextState)).Str("reason", ev.Reason).Msg("decision")
	case agent.EventComplete:
		entry.Str("summary", ev.Summary).Int("turns", ev.Turns).Int("tool_calls", ev.ToolCalls).Msg("complete")
	case agent.EventFailed:
		entry.Str("reason", ev.Reason).Msg("failed")
	case agent.EventCancelled:
		entry.Str("reason", ev.Reason).Msg("cancelled")
	default:
		entry.Msg("event")
	}
}
