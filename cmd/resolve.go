package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-engine/internal/engine"
)

var resolveForce bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <zip>",
	Short: "Resolve a single ZIP code to its service territory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Engine.Resolve(ctx, args[0], engine.ResolveOptions{ForceRefresh: resolveForce})
		if err != nil {
			f := engine.AsFailure(err)
			out := map[string]any{"success": false, "error": f.Code}
			if len(f.NearestServiceable) > 0 {
				out["nearest_serviceable"] = f.NearestServiceable
			}
			if encErr := json.NewEncoder(os.Stdout).Encode(out); encErr != nil {
				return eris.Wrap(encErr, "encode result")
			}
			return fmt.Errorf("resolution failed: %s", f.Code)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"success":            true,
			"resolution":         result.Resolution,
			"cached":             result.Cached,
			"processing_time_ms": result.ProcessingTimeMs,
		})
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveForce, "force", false, "bypass cache reads and re-query providers")
	rootCmd.AddCommand(resolveCmd)
}
