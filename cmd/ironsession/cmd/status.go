package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/session"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credential for each policy without decrypting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		var statuses []session.Status
		for _, name := range policyNames() {
			mgr, err := rt.manager(name)
			if err != nil {
				return err
			}
			st, err := mgr.Status(ctx)
			if err != nil {
				return err
			}
			statuses = append(statuses, st)
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(statuses)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POLICY\tMAX AGE\tSTATE\tISSUED\tREMAINING")
		for _, st := range statuses {
			state, issued, remaining := "absent", "-", "-"
			switch {
			case st.Present && st.IssuedAt.IsZero():
				state = "corrupt"
			case st.Valid:
				state = "valid"
				remaining = st.Remaining.Round(time.Second).String()
			case st.Present:
				state = "expired"
			}
			if !st.IssuedAt.IsZero() {
				issued = st.IssuedAt.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Policy.Name, st.Policy.MaxAge, state, issued, remaining)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		aliases, err := rt.keys.Aliases(ctx)
		if err != nil {
			return err
		}
		if len(aliases) == 0 {
			fmt.Fprintln(out, "\nKeys: none")
			return nil
		}
		fmt.Fprintf(out, "\nKeys: %s\n", strings.Join(aliases, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
}
