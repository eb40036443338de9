package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/grebion/tables/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate the OpenAPI 3 document of the REST API. Every stored schema adds a
typed row component, so clients see the columns of their tables.`,
		Example: `  tables openapi
  tables openapi -o openapi.json --base-url https://tables.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			schemas, err := a.tables.ListSchemas(cmd.Context())
			if err != nil {
				return err
			}
			doc := openapi.Generate(schemas, baseURL, versionString())

			var w io.Writer = os.Stdout
			if outputFile != "" {
				f, err := os.Create(outputFile)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := printJSON(w, doc); err != nil {
				return err
			}
			if outputFile != "" {
				fmt.Printf("Wrote OpenAPI document with %d schema(s) to %s\n", len(schemas), outputFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL written into the document")

	return cmd
}
