package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	authUser    string
	authTimeout time.Duration
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run an interactive authentication session and stream ticks until it terminates",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(c.Context(), authTimeout)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		params := map[string]any{}
		if authUser != "" {
			params["user"] = authUser
		}
		if _, err := cl.call("start_authentication", params); err != nil {
			return err
		}
		defer cl.call("stop_authentication", nil)

		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("session timed out after %s", authTimeout)
			default:
			}
			result, err := cl.call("process_auth_frame", nil)
			if err != nil {
				return err
			}
			printResult(result)
			if state, _ := result["state"].(string); isTerminalState(state) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
		}
	},
}

var pamCmd = &cobra.Command{
	Use:   "pam",
	Short: "Run the blocking PAM-style authentication call and print its outcome",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(c.Context(), authTimeout)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		params := map[string]any{}
		if authUser != "" {
			params["user"] = authUser
		}
		result, err := cl.call("authenticate_pam", params)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

func isTerminalState(state string) bool {
	switch state {
	case "SUCCESS", "REQUIRE_2FA", "FAILURE":
		return true
	default:
		return false
	}
}

func init() {
	for _, c := range []*cobra.Command{authCmd, pamCmd} {
		c.Flags().StringVar(&authUser, "user", "", "target a specific enrolled user instead of matching against all galleries")
		c.Flags().DurationVar(&authTimeout, "timeout", 30*time.Second, "give up waiting for a terminal state after this long")
	}
	rootCmd.AddCommand(pamCmd)
}
