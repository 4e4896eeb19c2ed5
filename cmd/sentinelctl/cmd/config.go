package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var setValues []string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or atomically patch the daemon's published configuration",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
		defer cancel()

		cl, err := dial(ctx)
		if err != nil {
			return err
		}
		defer cl.Close()

		if len(setValues) == 0 {
			result, err := cl.call("get_config", nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		}

		patch, err := parseSetValues(setValues)
		if err != nil {
			return err
		}
		result, err := cl.call("update_config", map[string]any{"config": patch})
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

// parseSetValues turns "dotted.key=value" flags into the nested-looking
// but flat map[string]any that update_config expects: keys stay dotted
// strings, values are coerced to bool/float64 where they parse as such
// and left as strings otherwise, since the daemon side already knows
// which type each published key holds.
func parseSetValues(pairs []string) (map[string]any, error) {
	patch := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", kv)
		}
		patch[k] = coerce(v)
	}
	return patch, nil
}

func coerce(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func init() {
	configCmd.Flags().StringArrayVar(&setValues, "set", nil, "patch a published dotted config key, e.g. --set security.golden_threshold=0.3 (repeatable)")
}
