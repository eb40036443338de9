package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/schemadiff"
	"github.com/grebion/tables/internal/tabular"
)

// schemaFile is the document accepted by 'schema create' and 'schema diff'.
type schemaFile struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Columns     []model.SchemaColumn `json:"columns"`
}

// readSchemaFile decodes a JSON or YAML schema file. YAML goes through a
// generic value first so the json tags of the column model apply to both.
func readSchemaFile(path string) (*schemaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	var doc schemaFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schema",
		Aliases: []string{"schemas"},
		Short:   "Manage table schemas",
		Long:    "List, inspect, create, compare and delete the typed column sets tables are built on.",
	}

	cmd.AddCommand(newSchemaListCmd())
	cmd.AddCommand(newSchemaShowCmd())
	cmd.AddCommand(newSchemaCreateCmd())
	cmd.AddCommand(newSchemaDiffCmd())
	cmd.AddCommand(newSchemaDeleteCmd())

	return cmd
}

// ---------- schema list ----------

func newSchemaListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all schemas",
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
			if jsonOutput {
				return printJSON(os.Stdout, schemas)
			}
			if len(schemas) == 0 {
				fmt.Println("No schemas. Use 'tables schema create --file schema.yaml' to create one.")
				return nil
			}

			fmt.Printf("%-6s %-30s %-8s %-20s\n", "ID", "NAME", "COLUMNS", "UPDATED")
			fmt.Printf("%-6s %-30s %-8s %-20s\n", "--", "----", "-------", "-------")
			for _, s := range schemas {
				fmt.Printf("%-6d %-30s %-8d %-20s\n", s.ID, s.Name, len(s.Columns), s.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- schema show ----------

func newSchemaShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		history    bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the columns of a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "schema")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.tables.GetSchema(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, s)
			}

			fmt.Printf("Schema %d: %s\n", s.ID, s.Name)
			if s.Description != "" {
				fmt.Printf("  %s\n", s.Description)
			}
			fmt.Println()
			fmt.Printf("%-24s %-30s %-12s %-6s %-8s\n", "CODE", "TITLE", "TYPE", "SORT", "REQUIRED")
			fmt.Printf("%-24s %-30s %-12s %-6s %-8s\n", "----", "-----", "----", "----", "--------")
			for _, c := range s.Columns {
				fmt.Printf("%-24s %-30s %-12s %-6d %-8s\n", c.Code, c.Title, c.Type, c.Sort, yesNo(c.Required))
			}

			if history {
				revs, err := a.tables.ListSchemaRevisions(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Println()
				fmt.Printf("Revisions (%d):\n", len(revs))
				for _, r := range revs {
					fmt.Printf("  #%d %s, %d change(s)\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), len(r.Changes))
					for _, c := range r.Changes {
						fmt.Printf("      %s\n", c.Description)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&history, "history", false, "Also list the schema revisions")

	return cmd
}

// ---------- schema create ----------

func newSchemaCreateCmd() *cobra.Command {
	var (
		file string
		name string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schema from a JSON or YAML file",
		Example: `  tables schema create --file products.yaml
  tables schema create --file products.json --name "Products 2"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readSchemaFile(file)
			if err != nil {
				return err
			}
			if name != "" {
				doc.Name = name
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.tables.CreateSchema(cmd.Context(), doc.Name, doc.Description, doc.Columns)
			if err != nil {
				return describeError(err)
			}
			fmt.Printf("Created schema %q (id %d) with %d column(s)\n", s.Name, s.ID, len(s.Columns))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Schema file with name, description and columns (required)")
	cmd.Flags().StringVar(&name, "name", "", "Override the schema name of the file")
	cmd.MarkFlagRequired("file")

	return cmd
}

// ---------- schema diff ----------

func newSchemaDiffCmd() *cobra.Command {
	var (
		file       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "diff <id>",
		Short: "Compare a stored schema with a schema file",
		Long:  "Show which columns a schema file would add, remove or change, and which of those changes break existing rows.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "schema")
			if err != nil {
				return err
			}
			doc, err := readSchemaFile(file)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			current, err := a.tables.GetSchema(cmd.Context(), id)
			if err != nil {
				return err
			}
			res := schemadiff.Diff(current.Columns, tabular.NormalizeColumns(doc.Columns))
			if jsonOutput {
				return printJSON(os.Stdout, res)
			}
			if !res.HasChanges() {
				fmt.Println("No changes.")
				return nil
			}
			for _, c := range res.Changes {
				mark := " "
				if c.Breaking {
					mark = "!"
				}
				fmt.Printf("%s %-16s %s\n", mark, c.Category, c.Description)
			}
			fmt.Printf("\n%d change(s), %d breaking\n", len(res.Changes), res.BreakingCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Schema file to compare against (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("file")

	return cmd
}

// ---------- schema delete ----------

func newSchemaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schema that no table uses",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "schema")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tables.DeleteSchema(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Deleted schema %d\n", id)
			return nil
		},
	}
}
