package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var collisionStatus string

var collisionCmd = &cobra.Command{
	Use:   "collision",
	Short: "Governance collision operations",
}

var collisionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List governance collisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var collisions []map[string]any
		path := fmt.Sprintf("/governance/collisions?status=%s", collisionStatus)
		if err := callAPI(cmd.Context(), "GET", path, nil, &collisions); err != nil {
			return err
		}
		printJSON(collisions)
		return nil
	},
}

func init() {
	collisionListCmd.Flags().StringVar(&collisionStatus, "status", "open", "open|resolved|all")
	collisionCmd.AddCommand(collisionListCmd)
}
