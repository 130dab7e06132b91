package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pipeheal/pipeheal/pkg/api"
	"github.com/pipeheal/pipeheal/pkg/breaker"
	"github.com/pipeheal/pipeheal/pkg/classify"
	"github.com/pipeheal/pipeheal/pkg/config"
	"github.com/pipeheal/pipeheal/pkg/events"
	"github.com/pipeheal/pipeheal/pkg/executor"
	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/notify"
	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/platform/adf"
	"github.com/pipeheal/pipeheal/pkg/platform/databricks"
	"github.com/pipeheal/pipeheal/pkg/playbook"
	"github.com/pipeheal/pipeheal/pkg/ticket"
	"github.com/pipeheal/pipeheal/pkg/types"
	"github.com/pipeheal/pipeheal/pkg/verify"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipeheal",
	Short: "Pipeheal - auto-remediation engine for data-pipeline failures",
	Long: `Pipeheal ingests failure alerts from Databricks and Azure Data
Factory, classifies them, and drives recovery playbooks: job retries,
cluster restarts and scale-ups, library version fallbacks, and pipeline
reruns, all under retry budgets, health verification, and circuit
breakers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pipeheal version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(playbooksCmd)
	rootCmd.AddCommand(classifyCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the remediation server",
	Long: `Run the webhook ingress, the recovery orchestrator, and the
operator HTTP surface in one process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
			cfg.Server.ListenAddr = addr
		}
		if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
			cfg.DataDir = dataDir
		}
		if playbookFile, _ := cmd.Flags().GetString("playbook-file"); playbookFile != "" {
			cfg.PlaybookFile = playbookFile
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.LogLevel = level
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")

		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		adapters, err := buildAdapters(cfg)
		if err != nil {
			return err
		}

		tickets, err := ticket.NewStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open ticket store: %w", err)
		}

		broker := events.NewBroker()
		broker.Start()

		exec, err := executor.New(registry, adapters, breaker.NewFabric(), verify.New(), broker, cfg.Remediation)
		if err != nil {
			return fmt.Errorf("failed to build executor: %w", err)
		}

		var notifier *notify.SlackNotifier
		if cfg.Integrations.SlackWebhookURL != "" {
			notifier, err = notify.NewSlackNotifier(cfg.Integrations.SlackWebhookURL, broker)
			if err != nil {
				return err
			}
			notifier.Start()
			logger.Info().Msg("slack notifier started")
		}

		chain := buildClassifier(cfg, registry)
		server := api.NewServer(exec, chain, tickets, broker, cfg.Server)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.Server.ListenAddr)
		}()

		logger.Info().
			Str("addr", cfg.Server.ListenAddr).
			Bool("remediation_enabled", cfg.Remediation.Enabled).
			Int("playbooks", len(registry.List())).
			Msg("pipeheal running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				logger.Error().Err(err).Msg("http server error")
			}
		}

		server.Stop()
		if notifier != nil {
			notifier.Stop()
		}
		broker.Stop()
		if err := tickets.Close(); err != nil {
			return fmt.Errorf("failed to close ticket store: %w", err)
		}
		return nil
	},
}

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "List the registered recovery playbooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if playbookFile, _ := cmd.Flags().GetString("playbook-file"); playbookFile != "" {
			cfg.PlaybookFile = playbookFile
		}

		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		for _, view := range registry.PublicView() {
			fmt.Printf("%-40s %-12s %s\n", view.ErrorType, view.Platform, view.Action)
			if view.FallbackAction != "" {
				fmt.Printf("%-40s %-12s fallback: %s\n", "", "", view.FallbackAction)
			}
			if view.ChainedPlaybook != "" {
				fmt.Printf("%-40s %-12s chains to: %s\n", "", "", view.ChainedPlaybook)
			}
		}
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify MESSAGE",
	Short: "Classify an error message without remediating",
	Long: `Run a failure message through the classification chain and print
the verdict. Useful for checking what the engine would do with an alert.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		log.Init(log.Config{Level: log.ErrorLevel})

		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		source := types.PlatformDatabricks
		if src, _ := cmd.Flags().GetString("source"); strings.EqualFold(src, "adf") {
			source = types.PlatformADF
		}

		chain := buildClassifier(cfg, registry)
		verdict, err := chain.Classify(context.Background(), types.FailureEvent{
			Source:       source,
			ErrorMessage: args[0],
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	serverCmd.Flags().String("listen-addr", "", "Address for the HTTP server (default from LISTEN_ADDR)")
	serverCmd.Flags().String("data-dir", "", "Data directory for the ticket store (default from DATA_DIR)")
	serverCmd.Flags().String("playbook-file", "", "YAML playbook overlay file (default from PLAYBOOK_FILE)")
	serverCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")

	playbooksCmd.Flags().String("playbook-file", "", "YAML playbook overlay file")

	classifyCmd.Flags().String("source", "databricks", "Failure source: databricks or adf")
}

// buildRegistry loads the builtin playbooks plus the optional overlay
func buildRegistry(cfg *config.Config) (*playbook.Registry, error) {
	if cfg.PlaybookFile == "" {
		return playbook.Default(), nil
	}
	defaults := playbook.Config{
		Platform:                types.PlatformDatabricks,
		Action:                  types.ActionNoop,
		MaxRetries:              cfg.Remediation.MaxRetries,
		TimeoutSeconds:          int(cfg.Remediation.HealthCheckTimeout.Seconds()),
		HealthCheckTimeout:      int(cfg.Remediation.HealthCheckTimeout.Seconds()),
		CircuitBreakerThreshold: cfg.Remediation.BreakerThreshold,
		CircuitBreakerTimeout:   int(cfg.Remediation.BreakerTimeout.Seconds()),
	}
	registry, err := playbook.LoadFile(cfg.PlaybookFile, defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load playbook file: %w", err)
	}
	return registry, nil
}

// buildAdapters registers every platform with credentials configured
func buildAdapters(cfg *config.Config) (*platform.Registry, error) {
	var adapters []platform.Adapter

	if cfg.Integrations.DatabricksHost != "" && cfg.Integrations.DatabricksToken != "" {
		dbx, err := databricks.New(databricks.Config{
			Host:  cfg.Integrations.DatabricksHost,
			Token: cfg.Integrations.DatabricksToken,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, dbx)
	}

	if cfg.Integrations.ADFRerunWebhookURL != "" {
		adfAdapter, err := adf.New(adf.Config{
			RerunWebhookURL:  cfg.Integrations.ADFRerunWebhookURL,
			StatusWebhookURL: cfg.Integrations.ADFStatusWebhookURL,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adfAdapter)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no platform adapters configured: set DATABRICKS_HOST/DATABRICKS_TOKEN or ADF_RETRY_LOGIC_APP_WEBHOOK")
	}
	return platform.NewRegistry(adapters...), nil
}

// buildClassifier assembles the provider chain: AI first when
// configured, the rule classifier always last
func buildClassifier(cfg *config.Config, registry *playbook.Registry) *classify.Chain {
	var providers []classify.Provider

	if cfg.Integrations.OpenAIAPIKey != "" {
		ai, err := classify.NewOpenAIProvider(cfg.Integrations.OpenAIAPIKey, cfg.Integrations.OpenAIModel, registry.List())
		if err == nil {
			providers = append(providers, ai)
		}
	}
	providers = append(providers, classify.NewRuleClassifier())
	return classify.NewChain(providers...)
}
