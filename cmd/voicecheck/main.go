// Command voicecheck is the operator CLI for castvoice: it enforces voice
// contracts, previews archetype matches, edits the voice registry and plays
// rendered lines through the playback coordinator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/castvoice/internal/app"
	"github.com/MrWong99/castvoice/internal/archetype"
	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

var version = "dev"

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	catalog    string
	verbose    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voicecheck: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "voicecheck",
		Short:         "Operator tools for castvoice character voices",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if g.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to the castvoice configuration file")
	cmd.PersistentFlags().StringVar(&g.catalog, "catalog", "", "archetype catalog file (default: catalog.path from config, else embedded)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(
		newEnforceCommand(g),
		newMatchCommand(g),
		newRegistryCommand(g),
		newSayCommand(g),
	)
	return cmd
}

// loadConfig loads the configuration file. A missing file at the default
// path yields an empty config so config-free commands keep working.
func (g *globals) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("no config file, using defaults", "path", g.configPath)
		cfg = &config.Config{}
		if err := config.ApplyEnv(cfg, nil); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

// loadCatalog honours --catalog, then catalog.path, then the embedded catalog.
func (g *globals) loadCatalog(cfg *config.Config) (*archetype.Catalog, error) {
	path := g.catalog
	if path == "" && cfg != nil {
		path = cfg.Catalog.Path
	}
	if path == "" {
		return archetype.Embedded()
	}
	return archetype.Load(path)
}

// newApp builds the synthesis stack described by cfg.
func (g *globals) newApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	catalog, err := g.loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, providers, app.WithCatalog(catalog))
}

// provider builds the configured adapter called name.
func (g *globals) provider(cfg *config.Config, name string) (tts.Provider, error) {
	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("provider %q is not configured", name)
}

func buildProviders(cfg *config.Config) ([]tts.Provider, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	return app.BuildProviders(cfg, reg)
}
