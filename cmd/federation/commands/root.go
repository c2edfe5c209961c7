// Package commands implements the federation CLI.
package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-federation/pkg/config"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/userstore"
)

var (
	// Version is injected at build time.
	Version = "dev"

	cfgFile  string
	logLevel string

	cfg *config.FederationConfig
)

var rootCmd = &cobra.Command{
	Use:   "federation",
	Short: "SQL user federation provider",
	Long: `federation exposes users kept in an external SQL table as federated
identities: lookup, search, count, password validation and a phone attribute.

Configuration is read from FEDERATION_* environment variables, optionally
layered over a YAML file given with --config.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.LoadFederationConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	setupLogger(c.Log)
	cfg = c
	return nil
}

func setupLogger(lc config.LogConfig) {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     lc.SlogLevel(),
	}
	var handler slog.Handler
	if lc.Format == "json" || config.IsProduction() {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openProvider creates the configured provider. Callers close both the
// provider and the factory.
func openProvider(ctx context.Context, metrics *userstore.StoreMetrics) (*federation.ProviderFactory, *federation.Provider, error) {
	opts := []federation.FactoryOption{
		federation.WithTableMapping(cfg.Table),
		federation.WithAutoMigrate(cfg.AutoMigrate),
	}
	if metrics != nil {
		opts = append(opts, federation.WithStoreMetrics(metrics))
	}
	factory := federation.NewProviderFactory(cfg.ProviderDefaults(), opts...)
	provider, err := factory.Create(ctx, cfg.ComponentModel())
	if err != nil {
		return nil, nil, err
	}
	return factory, provider, nil
}
