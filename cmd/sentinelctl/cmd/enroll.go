package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	enrollUser  string
	enrollGlasses bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Walk an operator through capturing a new user's five-pose gallery",
	RunE: func(c *cobra.Command, args []string) error {
		if enrollUser == "" {
			return fmt.Errorf("--user is required")
		}

		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Minute)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		startParams := map[string]any{"user_name": enrollUser, "wears_glasses": enrollGlasses}
		if _, err := cl.call("start_enrollment", startParams); err != nil {
			return err
		}

		reader := bufio.NewReader(os.Stdin)
		for {
			select {
			case <-ctx.Done():
				cl.call("stop_enrollment", nil)
				return fmt.Errorf("enrollment timed out")
			default:
			}
			result, err := cl.call("process_enroll_frame", nil)
			if err != nil {
				cl.call("stop_enrollment", nil)
				return err
			}
			printResult(result)

			if status, _ := result["status"].(string); status == "ready" {
				fmt.Print("press enter to capture this pose (or type 'q' to abort): ")
				line, _ := reader.ReadString('\n')
				if strings.TrimSpace(line) == "q" {
					cl.call("stop_enrollment", nil)
					return fmt.Errorf("enrollment aborted by operator")
				}
				capture, err := cl.call("capture_enroll_pose", nil)
				if err != nil {
					cl.call("stop_enrollment", nil)
					return err
				}
				printResult(capture)
				if done, _ := capture["completed"].(bool); done {
					fmt.Println(styleOK.Render(fmt.Sprintf("enrollment complete for %s", enrollUser)))
					return nil
				}
				continue
			}
			time.Sleep(150 * time.Millisecond)
		}
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollUser, "user", "", "username to enroll (required)")
	enrollCmd.Flags().BoolVar(&enrollGlasses, "glasses", false, "the subject wears glasses during enrollment")
}
