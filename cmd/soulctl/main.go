// soulctl is a small operator CLI for the sync service REST API.
package main

import (
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	apiFlag string
	rootCmd = &cobra.Command{
		Use:   "soulctl",
		Short: "CLI client for the SoulPrint sync service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Sync service base URL")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *resty.Client {
	return resty.New().SetBaseURL(apiFlag)
}

// print dumps a response body and fails on HTTP errors.
func print(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, string(resp.Body()))
	if resp.IsError() {
		return fmt.Errorf("request failed with status %d", resp.StatusCode())
	}
	return nil
}
