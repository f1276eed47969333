// Package main is the entry point for the aienhance CLI, a demo front end
// over the cognitive pipeline: it runs queries through the four layers,
// streams the generated answer, and keeps memories and run traces in local
// SQLite stores.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aienhance/aienhance/internal/config"
	"github.com/aienhance/aienhance/internal/domain"
	"github.com/aienhance/aienhance/internal/flow"
	"github.com/aienhance/aienhance/internal/llm"
	"github.com/aienhance/aienhance/internal/logging"
	"github.com/aienhance/aienhance/internal/memory"
	"github.com/aienhance/aienhance/internal/pipeline"
	"github.com/aienhance/aienhance/internal/prompts"
	"github.com/aienhance/aienhance/internal/routing"
	"github.com/aienhance/aienhance/internal/units"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	userID  string
	cfg     *config.Config
	log     *logging.Logger
)

var (
	layerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func main() {
	// .env is optional; it carries provider API keys during development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "aienhance",
		Short: "aienhance - layered cognitive pipeline over local and cloud models",
		Long: `aienhance runs queries through a four-layer cognitive pipeline:
  • perception: domain inference and context analysis
  • cognition: memory activation over stored exchanges
  • behavior: the adapted, streamed answer
  • collaboration: a dialectical counterpoint

Ask a question:      aienhance ask "how do neural networks learn?"
Inspect a run:       aienhance flow <run-id>
Configuration:       aienhance config show`,
		PersistentPreRunE: initApp,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.aienhance/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "user ID scoping memories")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aienhance v%s\n", version)
		},
	})

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(rememberCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp loads configuration and wires the global logger.
func initApp(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logging.SetGlobal(logging.New(&logging.Config{
		Level:    level,
		FilePath: cfg.Logging.File,
		Colored:  termenv.ColorProfile() != termenv.Ascii,
		ShowTime: true,
	}))
	log = logging.Global().WithComponent("cli")
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// PIPELINE WIRING
// ═══════════════════════════════════════════════════════════════════════════════

// buildOrchestrator assembles the full pipeline from configuration. The
// returned cleanup closes the SQLite stores.
func buildOrchestrator() (*pipeline.Orchestrator, *memory.Store, *flow.Store, func(), error) {
	registry, err := prompts.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	gateway := llm.NewRegistry()
	for name, pc := range cfg.Providers {
		provCfg := &llm.ProviderConfig{
			Name:        name,
			Endpoint:    pc.Endpoint,
			APIKey:      pc.APIKey,
			Model:       pc.Model,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		}
		switch name {
		case "ollama":
			gateway.Register(llm.NewOllamaProvider(provCfg))
		case "openai":
			gateway.Register(llm.NewOpenAIProvider(provCfg))
		default:
			log.Warn("unknown provider %q in config, skipping", name)
		}
	}

	table := routing.NewTable(cfg.Routing.Default)
	for _, fc := range cfg.Routing.Functions {
		table.Register(fc.Function, fc)
	}

	runner := pipeline.NewRunner(registry, table, gateway)

	classifier := domain.NewClassifier(cfg.Pipeline.Domains, cfg.Pipeline.KeywordMinScore)
	layers := units.DefaultLayers(classifier, units.LayerOptions{
		RequireCollaboration: cfg.Pipeline.RequireCollaboration,
		SkipCollaboration:    cfg.Pipeline.SkipCollaboration,
	})

	memStore, err := memory.Open(cfg.Memory.Path)
	if err != nil {
		// A broken memory store degrades the pipeline, it does not stop it.
		log.Warn("memory store unavailable: %v", err)
		memStore = nil
	}
	flowStore, err := flow.Open(cfg.Memory.FlowPath)
	if err != nil {
		log.Warn("flow store unavailable: %v", err)
		flowStore = nil
	}

	opts := []pipeline.Option{pipeline.WithRecallLimit(cfg.Pipeline.RecallLimit)}
	if memStore != nil {
		opts = append(opts, pipeline.WithRecaller(memStore))
	}
	orch := pipeline.NewOrchestrator(runner, layers, opts...)

	cleanup := func() {
		if memStore != nil {
			memStore.Close()
		}
		if flowStore != nil {
			flowStore.Close()
		}
	}
	return orch, memStore, flowStore, cleanup, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var noStream bool
	var plain bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run a question through the pipeline",
		Long: `Run a question through all pipeline layers and stream the answer.

Examples:
  aienhance ask "how do I profile a Go program?"
  aienhance ask --no-stream "summarize the CAP theorem"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			orch, memStore, flowStore, cleanup, err := buildOrchestrator()
			if err != nil {
				return fmt.Errorf("initialize pipeline: %w", err)
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			pc := pipeline.NewContext(question, userID)

			var result *pipeline.RunResult
			var runErr error
			if noStream {
				result, runErr = orch.Run(ctx, pc)
			} else {
				result, runErr = consumeStream(ctx, orch, pc, plain)
			}

			if result != nil && flowStore != nil {
				if err := flowStore.SaveRun(context.Background(), result); err != nil {
					log.Warn("persist run trace: %v", err)
				}
			}
			if runErr != nil {
				state := pipeline.StateAborted
				if result != nil {
					state = result.State
				}
				return fmt.Errorf("run failed in state %s: %w", state, runErr)
			}
			if result == nil {
				return fmt.Errorf("run produced no result: %w", ctx.Err())
			}

			if noStream {
				renderAnswer(result.Output, plain)
			}
			fmt.Println()
			fmt.Println(subtleStyle.Render(fmt.Sprintf("run %s · %s · %v", result.RunID, result.State, result.Duration.Round(time.Millisecond))))

			if memStore != nil {
				exchange := fmt.Sprintf("Q: %s\nA: %s", question, result.Output)
				if _, err := memStore.Add(context.Background(), userID, exchange); err != nil {
					log.Warn("store exchange: %v", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full answer instead of streaming")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable markdown rendering and styling")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall run timeout")
	return cmd
}

// consumeStream drives the run's event stream, printing layer markers and
// text chunks as they arrive.
func consumeStream(ctx context.Context, orch *pipeline.Orchestrator, pc *pipeline.Context, plain bool) (*pipeline.RunResult, error) {
	for ev := range orch.RunStream(ctx, pc) {
		switch ev.Kind {
		case pipeline.EventLayerStarted:
			marker := fmt.Sprintf("── %s ──", ev.Layer)
			if plain {
				fmt.Println(marker)
			} else {
				fmt.Println(layerStyle.Render(marker))
			}
		case pipeline.EventChunk:
			fmt.Print(ev.Text)
		case pipeline.EventLayerCompleted:
			fmt.Println()
		case pipeline.EventRunCompleted:
			return ev.Result, ev.Err
		}
	}
	return nil, ctx.Err()
}

// renderAnswer prints the final answer, through glamour when the terminal
// can show styled markdown.
func renderAnswer(answer string, plain bool) {
	if plain || termenv.ColorProfile() == termenv.Ascii {
		fmt.Println(answer)
		return
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(answer)
		return
	}
	out, err := r.Render(answer)
	if err != nil {
		fmt.Println(answer)
		return
	}
	fmt.Print(out)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FLOW COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func flowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "flow [run-id]",
		Short: "Inspect persisted information-flow traces",
		Long: `Without arguments, list recent runs. With a run ID, print that
run's per-unit flow records in execution order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flow.Open(cfg.Memory.FlowPath)
			if err != nil {
				return fmt.Errorf("open flow store: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			if len(args) == 0 {
				runs, err := store.Runs(ctx, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("no persisted runs")
					return nil
				}
				for _, r := range runs {
					fmt.Printf("%s  %-10s  %-8v  %s\n",
						r.RunID, r.State, r.Duration.Round(time.Millisecond), truncate(r.Query, 60))
				}
				return nil
			}

			records, err := store.Records(ctx, args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no flow records for run %s", args[0])
			}
			for _, rec := range records {
				status := "ok"
				if !rec.Success {
					status = errorStyle.Render("failed")
				} else if rec.Degraded {
					status = "degraded"
				}
				fmt.Printf("%2d  %-13s  %-22s  %-8s  %v\n",
					rec.Seq, rec.Layer, rec.Unit, status, rec.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// MEMORY AND CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func rememberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remember [text]",
		Short: "Store a memory for future runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := memory.Open(cfg.Memory.Path)
			if err != nil {
				return fmt.Errorf("open memory store: %w", err)
			}
			defer store.Close()

			id, err := store.Add(context.Background(), userID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("stored memory %s\n", id)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			// Never print secrets.
			providers := make(map[string]config.ProviderConfig, len(shown.Providers))
			for name, pc := range shown.Providers {
				if pc.APIKey != "" {
					pc.APIKey = "****"
				}
				providers[name] = pc
			}
			shown.Providers = providers

			data, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway := llm.NewRegistry()
			for name, pc := range cfg.Providers {
				provCfg := &llm.ProviderConfig{
					Name:     name,
					Endpoint: pc.Endpoint,
					APIKey:   pc.APIKey,
					Model:    pc.Model,
				}
				switch name {
				case "ollama":
					gateway.Register(llm.NewOllamaProvider(provCfg))
				case "openai":
					gateway.Register(llm.NewOpenAIProvider(provCfg))
				}
			}
			for backend, ok := range gateway.HealthCheck() {
				status := "available"
				if !ok {
					status = errorStyle.Render("unavailable")
				}
				fmt.Printf("%-10s %s\n", backend, status)
			}
			return nil
		},
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
