package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	extractCmd := &cobra.Command{
		Use:   "extract USER_ID [PLATFORM]",
		Short: "Trigger extraction for one platform, or all connected platforms",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				return print(client().R().Post(fmt.Sprintf("/v1/users/%s/extract/%s", args[0], args[1])))
			}
			return print(client().R().Post(fmt.Sprintf("/v1/users/%s/extract", args[0])))
		},
	}
	rootCmd.AddCommand(extractCmd)

	jobsCmd := &cobra.Command{
		Use:   "jobs USER_ID",
		Short: "List recent extraction jobs for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(client().R().Get(fmt.Sprintf("/v1/users/%s/jobs", args[0])))
		},
	}
	rootCmd.AddCommand(jobsCmd)

	dataCmd := &cobra.Command{
		Use:   "soul-data USER_ID PLATFORM",
		Short: "Show the latest behavioral data points for a platform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(client().R().Get(fmt.Sprintf("/v1/users/%s/soul-data/%s", args[0], args[1])))
		},
	}
	rootCmd.AddCommand(dataCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(client().R().Get("/v1/health"))
		},
	}
	rootCmd.AddCommand(healthCmd)
}
