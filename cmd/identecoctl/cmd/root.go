// Package cmd implements the identecoctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eldarion/identeco/internal/store"
)

// Version is set at build time
var Version = "0.1.0"

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

// cli holds the state shared by every subcommand
type cli struct {
	driver       string
	dsn          string
	dataDir      string
	outputFormat string
	noColor      bool

	store store.Store
	out   io.Writer
}

// Execute runs the root command
func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errFmt("Error:"), err)
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "identecoctl",
		Short: "Administer the identeco OpenID provider",
		Long: `identecoctl manages the provider's database: schema migrations,
cleanup of expired associations and nonces, and remembered trust decisions.

Connection settings default to the same IDENTECO_* environment variables
the server reads.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			if c.noColor {
				color.NoColor = true
			}
			switch c.outputFormat {
			case "text", "json":
			default:
				return fmt.Errorf("unknown output format %q", c.outputFormat)
			}
			c.out = cmd.OutOrStdout()

			st, err := store.Open(cmd.Context(), store.Options{
				Driver:  c.driver,
				DSN:     c.dsn,
				DataDir: c.dataDir,
			})
			if err != nil {
				return fmt.Errorf("failed to open %s store: %w", c.driver, err)
			}
			c.store = st
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.store != nil {
				return c.store.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.driver, "driver", envOr("IDENTECO_STORE_DRIVER", store.DriverSQLite), "store driver: sqlite, sqlite3 or postgres")
	flags.StringVar(&c.dsn, "dsn", os.Getenv("IDENTECO_STORE_DSN"), "postgres DSN or sqlite file path")
	flags.StringVar(&c.dataDir, "data-dir", envOr("IDENTECO_DATA_DIR", "./data"), "directory holding the sqlite database")
	flags.StringVarP(&c.outputFormat, "output", "o", "text", "output format: text or json")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")

	root.AddCommand(c.migrateCmd(), c.cleanupCmd(), c.trustCmd())
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
