package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Warm up the daemon and print its effective configuration",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		if _, err := cl.call("initialize", nil); err != nil {
			return err
		}
		result, err := cl.call("get_config", nil)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}
