package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"metatool/internal/features"
	"metatool/internal/gateway"
	"metatool/internal/loader"
	"metatool/internal/logging"
	"metatool/internal/provider"
	"metatool/internal/store"
)

// serveConfig is the optional YAML file passed via --config: external
// providers to connect at startup plus the pinned essential tools.
type serveConfig struct {
	Providers []providerConfig `yaml:"providers"`
	Essential []string         `yaml:"essential"`
}

type providerConfig struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

func newServeCommand() *cobra.Command {
	var (
		dbPath      string
		configPath  string
		callTimeout time.Duration
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = viper.GetString("db_path")
			}
			if dbPath == "" {
				dbPath = store.DefaultPath()
			}
			return runServe(cmd.Context(), dbPath, configPath, callTimeout, verbose)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Database file path (default $METATOOL_DB_PATH or ~/.awesome-plugin/data.db)")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML file listing providers to connect at startup")
	cmd.Flags().DurationVar(&callTimeout, "call-timeout", 60*time.Second, "Default per-call deadline")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	return cmd
}

func runServe(ctx context.Context, dbPath, configPath string, callTimeout time.Duration, verbose bool) error {
	logger := logging.NewComponentLogger("gateway")
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	var cfg serveConfig
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	st, err := store.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", errDatabase, dbPath, err)
	}

	coord, err := features.NewCoordinator(ctx, st, features.CoordinatorOptions{}, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("build feature coordinator: %w", err)
	}

	l := loader.New(logger)
	providers := provider.NewManager(st, l, nil, logger)
	server := gateway.NewServer(st, l, coord, providers, logger,
		gateway.WithCallTimeout(callTimeout))

	if err := server.Bootstrap(ctx, cfg.Essential...); err != nil {
		_ = coord.Close()
		_ = st.Close()
		return fmt.Errorf("bootstrap catalog: %w", err)
	}

	for _, pc := range cfg.Providers {
		tools, err := providers.Connect(ctx, store.Provider{
			ID:      pc.ID,
			Name:    pc.Name,
			Command: pc.Command,
			Args:    pc.Args,
			Env:     pc.Env,
		})
		if err != nil {
			logger.Warn("connect provider %s: %v", pc.ID, err)
			continue
		}
		logger.Info("provider %s published %d tools", pc.ID, len(tools))
	}

	serveCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.StartJanitor(serveCtx, time.Hour, 7*24*time.Hour)
	banner()

	serveErr := server.Serve(serveCtx, os.Stdin, os.Stdout)

	// Shutdown order: providers first, then managers, the store last.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.DisconnectAll(shutdownCtx); err != nil {
		logger.Warn("disconnect providers: %v", err)
	}
	if err := coord.Close(); err != nil {
		logger.Warn("close coordinator: %v", err)
	}
	if err := st.Close(); err != nil {
		logger.Warn("close store: %v", err)
	}
	return serveErr
}

// banner goes to stderr; stdout belongs to the RPC stream.
func banner() {
	bold := color.New(color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %s %s\n", bold(appName), appVersion, gray("listening on stdio"))
}
