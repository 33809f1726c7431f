package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eldarion/identeco/internal/store"
)

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int64, error)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		Long: `Apply any pending schema migrations. The server applies them on startup
as well; this command lets a deploy run them ahead of time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store already migrated it
			v, ok := c.store.(schemaVersioner)
			if !ok {
				fmt.Fprintf(c.out, "%s %s store keeps no schema\n", warnFmt("!"), c.driver)
				return nil
			}
			version, err := v.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			if c.outputFormat == "json" {
				return c.printJSON(map[string]interface{}{"driver": c.driver, "version": version})
			}
			fmt.Fprintf(c.out, "%s %s schema at version %d\n", okFmt("✓"), c.driver, version)
			return nil
		},
	}
}

func (c *cli) cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired associations and nonces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			assocs, nonces, err := store.NewSweeper(c.store, 0).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if c.outputFormat == "json" {
				return c.printJSON(map[string]int64{"associations": assocs, "nonces": nonces})
			}
			fmt.Fprintf(c.out, "%s removed %d expired associations and %d expired nonces\n", okFmt("✓"), assocs, nonces)
			return nil
		},
	}
}
