package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/catalog"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import <strategies|products|recommendations>",
	Short: "Bulk-load strategies, products and listings, or pending recommendations from CSV",
	Example: `  autoprice import strategies --csv strategies.csv
  autoprice import products --csv catalog.csv
  autoprice import recommendations --csv recs.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := catalog.ParseKind(args[0])
		if err != nil {
			return err
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "import: open csv")
		}
		defer f.Close() //nolint:errcheck

		return withEngine(cmd.Context(), func(env *engineEnv) error {
			sum, err := env.Importer.Import(cmd.Context(), kind, f)
			if sum != nil {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "%s: rows=%d imported=%d skipped=%d\n", sum.Kind, sum.Rows, sum.Imported, sum.Skipped)
				for _, e := range sum.Errors {
					_, _ = fmt.Fprintf(out, "  row %d: %s\n", e.Row, e.Reason)
				}
			}
			if err != nil {
				return eris.Wrap(err, "import")
			}
			zap.L().Info("import complete",
				zap.String("kind", string(kind)),
				zap.String("csv", importCSVPath),
				zap.Int("imported", sum.Imported),
			)
			return nil
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
