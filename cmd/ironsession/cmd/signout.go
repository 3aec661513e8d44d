package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var signoutPolicy string

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Delete stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		names := policyNames()
		if signoutPolicy != "" {
			names = []string{signoutPolicy}
		}
		for _, name := range names {
			mgr, err := rt.manager(name)
			if err != nil {
				return err
			}
			if err := mgr.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: signed out\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signoutCmd)
	signoutCmd.Flags().StringVar(&signoutPolicy, "policy", "", "only sign out of this policy (default: all)")
}
