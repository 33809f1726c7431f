package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eldarion/identeco/internal/openid"
	"github.com/eldarion/identeco/pkg/models"
)

func (c *cli) trustCmd() *cobra.Command {
	trust := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and change remembered trust decisions",
		Long: `A remembered decision lets a relying party receive assertions for a user
without the user being asked again. Users are identified by account ID.`,
	}

	get := &cobra.Command{
		Use:   "get <user-id> <trust-root>",
		Short: "Show the remembered decision for a relying party",
		Example: `  identecoctl trust get user-alice https://rp.example/
  identecoctl trust get user-alice https://rp.example/ -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			always, found, err := c.store.GetTrust(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			decision := models.TrustDecision{UserID: args[0], TrustRoot: args[1], AlwaysTrust: always, Found: found}
			if c.outputFormat == "json" {
				return c.printJSON(decision)
			}
			switch {
			case !found:
				fmt.Fprintf(c.out, "%s no decision recorded for %s\n", dimFmt("-"), args[1])
			case always:
				fmt.Fprintf(c.out, "%s %s always trusts %s\n", okFmt("✓"), args[0], args[1])
			default:
				fmt.Fprintf(c.out, "%s %s asks before trusting %s\n", warnFmt("!"), args[0], args[1])
			}
			return nil
		},
	}

	var always bool
	set := &cobra.Command{
		Use:   "set <user-id> <trust-root>",
		Short: "Record a decision for a relying party",
		Example: `  identecoctl trust set user-alice https://rp.example/
  identecoctl trust set user-alice https://rp.example/ --always=false`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := openid.ParseTrustRoot(args[1]); err != nil {
				return fmt.Errorf("invalid trust root %q: %w", args[1], err)
			}
			if err := c.store.SetTrust(cmd.Context(), args[0], args[1], always); err != nil {
				return err
			}
			if c.outputFormat == "json" {
				return c.printJSON(models.TrustDecision{UserID: args[0], TrustRoot: args[1], AlwaysTrust: always, Found: true})
			}
			fmt.Fprintf(c.out, "%s recorded always_trust=%t for %s at %s\n", okFmt("✓"), always, args[0], args[1])
			return nil
		},
	}
	set.Flags().BoolVar(&always, "always", true, "trust without asking")

	trust.AddCommand(get, set)
	return trust
}
