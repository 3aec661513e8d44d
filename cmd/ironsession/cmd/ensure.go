package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/session"
)

var (
	ensurePolicy string
	ensurePrint  bool
)

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Make sure a valid credential is stored, acquiring one if needed",
	Long: `Reuse the stored credential if it is still inside its validity window,
otherwise log in to the issuer and store the new credential encrypted.
With --print the credential itself is written to stdout for use in scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		mgr, err := rt.manager(ensurePolicy)
		if err != nil {
			return err
		}
		cred, err := mgr.EnsureCredential(ctx)
		if err != nil {
			return err
		}

		if ensurePrint {
			fmt.Fprintln(cmd.OutOrStdout(), string(cred))
			return nil
		}
		st, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: credential %s valid for %s\n",
			ensurePolicy, session.Fingerprint(cred), st.Remaining.Round(time.Second))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ensureCmd)
	ensureCmd.Flags().StringVar(&ensurePolicy, "policy", session.PrimaryPolicy.Name, "validity policy: primary or service")
	ensureCmd.Flags().BoolVar(&ensurePrint, "print", false, "print the credential to stdout")
}
