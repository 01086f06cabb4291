package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <dealership-id>",
	Short: "Fetch the competitive report for a dealership",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid dealership id: %w", err)
		}
		var out map[string]interface{}
		if err := newAPIClient(apiURL).get(cmd.Context(), "/api/v1/dealerships/"+args[0]+"/competitive-report", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
