package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-engine/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load exported resolutions into the store",
	Long:  "Reads a JSON array of resolutions and upserts them in bulk, replacing existing rows for the same ZIP codes. Used to seed a fresh deployment.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		var resolutions []model.Resolution
		if err := json.Unmarshal(data, &resolutions); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close()

		n, err := st.ImportResolutions(ctx, resolutions)
		if err != nil {
			return eris.Wrap(err, "import resolutions")
		}

		zap.L().Info("resolutions imported",
			zap.Int64("rows", n),
			zap.String("file", args[0]),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
