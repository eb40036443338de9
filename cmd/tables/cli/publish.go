package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grebion/tables/internal/connector"
)

func newPublishCmd() *cobra.Command {
	var (
		source     string
		target     string
		replace    bool
		batchSize  int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "publish <table>",
		Short: "Copy a table into an external database",
		Long: `Create a relational table in a publish source from the table's columns and
copy every row into it. The target is "name" or "schema.name"; an existing
target is only dropped with --replace.`,
		Example: `  tables publish 4 --source warehouse --target stock
  tables publish 4 --source warehouse --target reporting.stock --replace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tableID, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.publish.PublishTable(cmd.Context(), tableID, source, target,
				connector.PublishOptions{Replace: replace, BatchSize: batchSize})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, res)
			}
			fmt.Printf("Published %d row(s) to %s (%s) in %d batch(es), %dms\n",
				res.Rows, res.Target, res.Driver, res.Batches, res.TookMs)
			if res.Replaced {
				fmt.Println("  The previous target table was replaced.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Publish source name (required)")
	cmd.Flags().StringVar(&target, "target", "", "Target table, optionally schema-qualified (required)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Drop an existing target first")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per INSERT (default: dialect maximum)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")

	return cmd
}
