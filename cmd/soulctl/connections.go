package main

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func init() {
	connectionsCmd := &cobra.Command{Use: "connections", Short: "Connection operations"}

	listCmd := &cobra.Command{
		Use:   "list USER_ID",
		Short: "List a user's platform connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(client().R().Get(fmt.Sprintf("/v1/users/%s/connections", args[0])))
		},
	}
	connectionsCmd.AddCommand(listCmd)

	connectCmd := &cobra.Command{
		Use:   "connect USER_ID PLATFORM",
		Short: "Print the consent URL for connecting a platform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client().SetRedirectPolicy(resty.NoRedirectPolicy())
			resp, err := c.R().Get(fmt.Sprintf("/v1/users/%s/connect/%s", args[0], args[1]))
			location := ""
			if resp != nil {
				location = resp.Header().Get("Location")
			}
			if err != nil && location == "" {
				return err
			}
			if location == "" {
				return fmt.Errorf("no consent URL returned (status %d): %s", resp.StatusCode(), resp.Body())
			}
			fmt.Println(location)
			return nil
		},
	}
	connectionsCmd.AddCommand(connectCmd)

	disconnectCmd := &cobra.Command{
		Use:   "disconnect USER_ID PLATFORM",
		Short: "Disconnect a platform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(client().R().Delete(fmt.Sprintf("/v1/users/%s/connections/%s", args[0], args[1])))
		},
	}
	connectionsCmd.AddCommand(disconnectCmd)

	rootCmd.AddCommand(connectionsCmd)

	statusCmd := &cobra.Command{
		Use:   "status USER_ID",
		Short: "Show connections, latest jobs, and data volume for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return print(client().R().Get(fmt.Sprintf("/v1/users/%s/status", args[0])))
		},
	}
	rootCmd.AddCommand(statusCmd)
}
