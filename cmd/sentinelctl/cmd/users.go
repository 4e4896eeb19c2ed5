package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List enrolled users with a valid, non-expired gallery",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		result, err := cl.call("get_enrolled_users", nil)
		if err != nil {
			return err
		}
		users, _ := result["users"].([]any)
		if len(users) == 0 {
			fmt.Println(styleWarn.Render("no enrolled users"))
			return nil
		}
		for _, u := range users {
			fmt.Printf("  %v\n", u)
		}
		return nil
	},
}
