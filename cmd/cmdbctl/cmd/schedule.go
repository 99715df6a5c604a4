package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Background schedule operations",
}

// scheduleEndpoints maps a schedule name to the async-job endpoint that
// enqueues the same work the scheduler's own poll loop would, for an
// operator who doesn't want to wait for the next interval.
var scheduleEndpoints = map[string]string{
	"netbox-import":  "/integrations/netbox/import",
	"backstage-sync": "/integrations/backstage/sync",
}

var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger <name>",
	Short: "Enqueue a schedule's job immediately, out of band",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		endpoint, ok := scheduleEndpoints[name]
		if !ok {
			return fmt.Errorf("unknown schedule %q (known: netbox-import, backstage-sync)", name)
		}
		var result map[string]any
		if err := callAPI(cmd.Context(), "POST", endpoint+"?asyncJob=true", nil, &result); err != nil {
			return err
		}
		printJSON(result)
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleTriggerCmd)
}
