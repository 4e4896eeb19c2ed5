package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var intrusionsCmd = &cobra.Command{
	Use:   "intrusions",
	Short: "List, confirm, or delete quarantined intrusion entries",
}

var intrusionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined embedding files",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		result, err := cl.call("get_intrusions", nil)
		if err != nil {
			return err
		}
		files, _ := result["files"].([]any)
		if len(files) == 0 {
			fmt.Println(styleOK.Render("no quarantined intrusions"))
			return nil
		}
		for _, f := range files {
			fmt.Printf("  %v\n", f)
		}
		return nil
	},
}

var intrusionsConfirmCmd = &cobra.Command{
	Use:   "confirm <filename>",
	Short: "Confirm a quarantine entry as a genuine intrusion",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return simpleIntrusionCall(c, "confirm_intrusion", args[0])
	},
}

var intrusionsDeleteCmd = &cobra.Command{
	Use:   "delete <filename>",
	Short: "Delete a quarantine entry judged to be a false positive",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return simpleIntrusionCall(c, "delete_intrusion", args[0])
	},
}

func simpleIntrusionCall(c *cobra.Command, method, filename string) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	cl, err := dial(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	result, err := cl.call(method, map[string]any{"filename": filename})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func init() {
	intrusionsCmd.AddCommand(intrusionsListCmd, intrusionsConfirmCmd, intrusionsDeleteCmd)
}
