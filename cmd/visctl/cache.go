package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the tiered analysis cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rates and tier counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]interface{}
		if err := newAPIClient(apiURL).get(cmd.Context(), "/api/v1/cache/stats", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	invalidateDealerships []string
	invalidateType        string
	invalidatePool        string
	invalidateAll         bool
)

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Invalidate cache entries by dealership, pool, or everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]interface{}{}
		switch {
		case invalidateAll:
			body["all"] = true
		case len(invalidateDealerships) > 0:
			for _, id := range invalidateDealerships {
				if _, err := uuid.Parse(id); err != nil {
					return fmt.Errorf("invalid --dealership %q: %w", id, err)
				}
			}
			body["dealership_ids"] = invalidateDealerships
			if invalidateType != "" {
				body["analysis_type"] = invalidateType
			}
		case invalidatePool != "":
			body["pool"] = invalidatePool
		default:
			return fmt.Errorf("one of --dealership, --pool, or --all is required")
		}

		var out map[string]int64
		if err := newAPIClient(apiURL).post(cmd.Context(), "/api/v1/cache/invalidate", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	cacheInvalidateCmd.Flags().StringSliceVar(&invalidateDealerships, "dealership", nil, "dealership UUID to invalidate (repeatable)")
	cacheInvalidateCmd.Flags().StringVar(&invalidateType, "type", "", "restrict invalidation to one analysis type")
	cacheInvalidateCmd.Flags().StringVar(&invalidatePool, "pool", "", "invalidate a whole geographic pool")
	cacheInvalidateCmd.Flags().BoolVar(&invalidateAll, "all", false, "invalidate every cache entry")
	cacheCmd.AddCommand(cacheStatsCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
