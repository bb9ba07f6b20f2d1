// Command gateway serves the Synapse chat API and offers store maintenance
// subcommands.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/khuzaima-ocs/Synapse/internal/app"
	"github.com/khuzaima-ocs/Synapse/internal/config"
	"github.com/khuzaima-ocs/Synapse/internal/seed"
)

func main() {
	if path, loaded, err := loadEnvFile(); err != nil {
		log.Printf("load env file failed: path=%s err=%v", path, err)
	} else if loaded > 0 {
		log.Printf("loaded %d env values from %s", loaded, path)
	}

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Synapse conversation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.AddCommand(serveCmd(), migrateCmd(), seedCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema for the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			repository, err := app.OpenRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repository.Close()
			if err := app.MigrateRepository(cmd.Context(), repository); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store %s migrated\n", cfg.StoreDriver)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import agents, keys, tools and integrations from a YAML file",
		Example: `  gateway seed -f seed.yaml
  SYNAPSE_STORE_DRIVER=sqlite gateway seed -f seed.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			cfg := config.Load()
			repository, err := app.OpenRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repository.Close()
			if err := app.MigrateRepository(cmd.Context(), repository); err != nil {
				return err
			}
			summary, err := seed.ImportFile(cmd.Context(), file, repository)
			if err != nil {
				return err
			}
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"imported api_keys=%d tools=%d agents=%d custom_gpts=%d integrations=%d skipped=%d\n",
				summary.APIKeys, summary.Tools, summary.Agents, summary.CustomGPTs, summary.Integrations, summary.Skipped,
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file")
	return cmd
}
