// Command sage runs the marketing analytics assistant.
//
// Usage:
//
//	sage serve --config sage.yaml
//	sage chat --config sage.yaml
//	sage validate --config sage.yaml
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/metricsmith/sage/pkg/agent"
	"github.com/metricsmith/sage/pkg/config"
	"github.com/metricsmith/sage/pkg/embedder"
	"github.com/metricsmith/sage/pkg/logger"
	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/model/gemini"
	"github.com/metricsmith/sage/pkg/model/openai"
	"github.com/metricsmith/sage/pkg/observability"
	"github.com/metricsmith/sage/pkg/retrieval"
	"github.com/metricsmith/sage/pkg/server"
	"github.com/metricsmith/sage/pkg/session"
	"github.com/metricsmith/sage/pkg/tools"
	"github.com/metricsmith/sage/pkg/tools/builtin"
	"github.com/metricsmith/sage/pkg/utils"
	"github.com/metricsmith/sage/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with the assistant in the terminal."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"sage.yaml"`
	LogLevel  string `help:"Log level override (debug, info, warn, error)."`
	LogFormat string `help:"Log format override (compact, text, json)."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("sage version %s\n", version)
	return nil
}

type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid (model=%s, vector=%s)\n", cli.Config, cfg.Model.Type, cfg.Vector.Type)
	return nil
}

type ServeCmd struct {
	Port int `help:"Port override."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	srv, err := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, rt.agent, rt.sessions, rt.metrics.Handler())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.GetLogger().Error("shutdown failed", "error", err)
		}
	}()

	fmt.Printf("sage serving on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Chat:     POST /v1/chat/stream\n")
	fmt.Printf("  Sessions: /v1/sessions\n")
	fmt.Printf("  Health:   /healthz\n")
	fmt.Printf("  Metrics:  /metrics\n")
	return srv.Start()
}

type ChatCmd struct {
	Session string `help:"Resume a stored session by id."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	var history []model.Message
	sessionID := c.Session
	if sessionID != "" {
		history, err = rt.sessions.Messages(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}
	} else {
		sess, err := rt.sessions.Create(ctx, "terminal chat")
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = sess.ID
	}
	fmt.Printf("session %s (Ctrl+D to exit)\n\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}

		var answer string
		for ev := range rt.agent.Chat(ctx, history, question) {
			switch ev.Type {
			case agent.EventTextDelta:
				answer += ev.Text
			case agent.EventToolCallStarted:
				fmt.Printf("  [running %s]\n", ev.ToolName)
			case agent.EventError:
				fmt.Fprintf(os.Stderr, "  error: %s\n", ev.Error)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Printf("\nsage> %s\n\n", answer)

		turn := []model.Message{
			{Role: model.RoleUser, Content: question},
			{Role: model.RoleAssistant, Content: answer},
		}
		history = append(history, turn...)
		if err := rt.sessions.AppendMessages(ctx, sessionID, turn); err != nil {
			logger.GetLogger().Warn("failed to persist turn", "error", err)
		}
	}
}

// runtime holds the wired components shared by serve and chat.
type runtime struct {
	agent    *agent.Agent
	sessions *session.Store
	metrics  *observability.Metrics
	provider model.Provider
	store    vector.Store
}

func (r *runtime) Close() {
	if r.provider != nil {
		_ = r.provider.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.sessions != nil {
		_ = r.sessions.Close()
	}
}

func buildRuntime(ctx context.Context, cli *CLI) (*config.Config, *runtime, error) {
	_ = config.LoadDotEnv()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	format := cfg.Logging.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logger.Init(logger.ParseLevel(level), os.Stderr, format)
	log := logger.GetLogger()

	provider, err := buildProvider(cfg.Model)
	if err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewOpenAIEmbedder(cfg.Embedder.APIKey, cfg.Embedder.Model, cfg.Embedder.BaseURL)
	if err != nil {
		return nil, nil, err
	}

	store, err := buildVectorStore(ctx, cfg.Vector)
	if err != nil {
		return nil, nil, err
	}

	counter, err := utils.NewTokenCounter(cfg.Model.Model)
	if err != nil {
		return nil, nil, err
	}

	engine, err := retrieval.NewEngine(emb, store, counter, cfg.Retrieval)
	if err != nil {
		return nil, nil, err
	}

	metrics := observability.NewMetrics()

	registry := tools.NewRegistry()
	if err := registerTools(ctx, registry, cfg, engine); err != nil {
		return nil, nil, err
	}
	log.Info("tools registered", "count", registry.Count())

	executor := tools.NewExecutor(registry, cfg.Executor, metrics)

	assembler, err := agent.NewAssembler(counter, agent.DefaultSystemInstruction(time.Now()), 0)
	if err != nil {
		return nil, nil, err
	}

	ag, err := agent.New(provider, registry, executor, engine, assembler, cfg.Agent, metrics)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := session.NewStore(cfg.Server.SessionPath)
	if err != nil {
		return nil, nil, err
	}

	return cfg, &runtime{
		agent:    ag,
		sessions: sessions,
		metrics:  metrics,
		provider: provider,
		store:    store,
	}, nil
}

func buildProvider(cfg config.ModelConfig) (model.Provider, error) {
	switch cfg.Type {
	case "gemini":
		return gemini.New(gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "openai":
		return openai.New(openai.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
}

func buildVectorStore(ctx context.Context, cfg config.VectorConfig) (vector.Store, error) {
	switch cfg.Type {
	case "chromem":
		return vector.NewChromemStore(cfg.Chromem)
	case "pgvector":
		return vector.NewPgvectorStore(ctx, cfg.Pgvector)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}

func registerTools(ctx context.Context, registry *tools.Registry, cfg *config.Config, engine *retrieval.Engine) error {
	if cfg.Tools.Ads != nil {
		if err := builtin.RegisterAdsTools(registry, *cfg.Tools.Ads); err != nil {
			return fmt.Errorf("ads tools: %w", err)
		}
	}
	if cfg.Tools.Analytics != nil {
		if err := builtin.RegisterAnalyticsTools(registry, *cfg.Tools.Analytics); err != nil {
			return fmt.Errorf("analytics tools: %w", err)
		}
	}
	if cfg.Tools.Warehouse != nil {
		if err := builtin.RegisterWarehouseTools(ctx, registry, *cfg.Tools.Warehouse); err != nil {
			return fmt.Errorf("warehouse tools: %w", err)
		}
	}
	if cfg.Tools.WebSearch != nil {
		tool, err := builtin.NewWebSearchTool(*cfg.Tools.WebSearch)
		if err != nil {
			return fmt.Errorf("web search tool: %w", err)
		}
		if err := registry.RegisterTool(tool); err != nil {
			return fmt.Errorf("web search tool: %w", err)
		}
	}
	if cfg.Tools.Benchmarks {
		if err := builtin.RegisterBenchmarkTools(registry); err != nil {
			return fmt.Errorf("benchmark tools: %w", err)
		}
	}
	if cfg.Tools.KnowledgeBase {
		tool, err := builtin.NewKBSearchTool(engine)
		if err != nil {
			return fmt.Errorf("kb search tool: %w", err)
		}
		if err := registry.RegisterTool(tool); err != nil {
			return fmt.Errorf("kb search tool: %w", err)
		}
	}
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("sage"),
		kong.Description("sage - conversational marketing analytics assistant"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
