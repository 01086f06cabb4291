package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	submitName        string
	submitType        string
	submitMarket      string
	submitGroup       string
	submitIDs         []string
	submitCompetitive bool
	submitForceFresh  bool
	submitMaxAge      int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a bulk analysis job",
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria := map[string]interface{}{}
		switch {
		case submitMarket != "":
			criteria["market_id"] = submitMarket
		case submitGroup != "":
			if _, err := uuid.Parse(submitGroup); err != nil {
				return fmt.Errorf("invalid --group: %w", err)
			}
			criteria["group_id"] = submitGroup
		case len(submitIDs) > 0:
			for _, id := range submitIDs {
				if _, err := uuid.Parse(id); err != nil {
					return fmt.Errorf("invalid dealership id %q: %w", id, err)
				}
			}
			criteria["dealership_ids"] = submitIDs
		default:
			return fmt.Errorf("one of --market, --group, or --ids is required")
		}

		body := map[string]interface{}{
			"name":     submitName,
			"job_type": submitType,
			"criteria": criteria,
			"params": map[string]interface{}{
				"include_competitive": submitCompetitive,
				"force_fresh_data":    submitForceFresh,
				"max_age_hours":       submitMaxAge,
			},
		}

		var out map[string]string
		if err := newAPIClient(apiURL).post(cmd.Context(), "/api/v1/jobs", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitName, "name", "", "job name")
	submitCmd.Flags().StringVar(&submitType, "type", "full_analysis", "job type: full_analysis|quick_refresh|competitive_scan|market_analysis")
	submitCmd.Flags().StringVar(&submitMarket, "market", "", "select every dealership in a market")
	submitCmd.Flags().StringVar(&submitGroup, "group", "", "select every rooftop in a dealer group (UUID)")
	submitCmd.Flags().StringSliceVar(&submitIDs, "ids", nil, "explicit dealership UUIDs")
	submitCmd.Flags().BoolVar(&submitCompetitive, "competitive", false, "include competitive reports")
	submitCmd.Flags().BoolVar(&submitForceFresh, "force-fresh", false, "bypass all cache tiers")
	submitCmd.Flags().IntVar(&submitMaxAge, "max-age-hours", 0, "max acceptable cache age in hours")
	rootCmd.AddCommand(submitCmd)
}
