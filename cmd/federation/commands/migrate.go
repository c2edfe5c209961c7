package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-federation/pkg/userstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the reference user tables",
	Long: `Create the reference federated_user tables in the configured database.

The postgres driver applies the versioned SQL migrations. The gorm drivers
create the table from the model. Other drivers have no schema.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	switch cfg.Driver {
	case userstore.DriverPostgres:
		return userstore.RunMigrations(userstore.WithCredentials(cfg.StoreURL(), cfg.Username, cfg.Password))
	case userstore.DriverGormPostgres, userstore.DriverGormSQLite:
		store, err := userstore.NewStore(cmd.Context(), cfg.Driver, userstore.RepositoryConfig{
			URL:         cfg.StoreURL(),
			Username:    cfg.Username,
			Password:    cfg.Password,
			AutoMigrate: true,
		})
		if err != nil {
			return err
		}
		slog.Info("Schema ready", "driver", cfg.Driver)
		return store.Close()
	default:
		return fmt.Errorf("driver %s has no schema to migrate", cfg.Driver)
	}
}
