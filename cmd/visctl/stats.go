package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var statsWindow string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/jobs/statistics"
		if statsWindow != "" {
			path += "?window=" + url.QueryEscape(statsWindow)
		}
		var out map[string]interface{}
		if err := newAPIClient(apiURL).get(cmd.Context(), path, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsWindow, "window", "", "statistics window as a Go duration (default 24h)")
	rootCmd.AddCommand(statsCmd)
}
