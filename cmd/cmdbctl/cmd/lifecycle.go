package cmd

import (
	"github.com/spf13/cobra"
)

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Lifecycle engine operations",
}

var lifecycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger an immediate lifecycle sweep",
	Long:  "Runs the staging/retirement-review/retired sweep through POST /lifecycle/run, and reports how many CIs transitioned and how many orphans were found.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Transitioned int `json:"transitioned"`
			OrphansFound int `json:"orphans_found"`
		}
		if err := callAPI(cmd.Context(), "POST", "/lifecycle/run", nil, &result); err != nil {
			return err
		}
		printJSON(result)
		return nil
	},
}

func init() {
	lifecycleCmd.AddCommand(lifecycleRunCmd)
}
