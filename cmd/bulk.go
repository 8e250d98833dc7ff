package main

import (
	"bufio"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/territory-engine/internal/engine"
)

var (
	bulkFile  string
	bulkForce bool
)

var bulkCmd = &cobra.Command{
	Use:   "bulk [zip...]",
	Short: "Bulk resolve ZIP codes from args or a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		zips := args
		if bulkFile != "" {
			fileZips, err := readZipFile(bulkFile)
			if err != nil {
				return err
			}
			zips = append(zips, fileZips...)
		}
		if len(zips) == 0 {
			return eris.New("no zip codes given; pass args or --file")
		}

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Engine.ResolveBulk(ctx, zips, engine.ResolveOptions{ForceRefresh: bulkForce})
		if err != nil && result == nil {
			return eris.Wrap(err, "bulk resolve")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// readZipFile loads one ZIP code per line, skipping blanks and # comments.
func readZipFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var zips []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		zips = append(zips, line)
	}
	return zips, eris.Wrapf(scanner.Err(), "read %s", path)
}

func init() {
	bulkCmd.Flags().StringVar(&bulkFile, "file", "", "file with one zip code per line")
	bulkCmd.Flags().BoolVar(&bulkForce, "force", false, "bypass cache reads and re-query providers")
	rootCmd.AddCommand(bulkCmd)
}
