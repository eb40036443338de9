package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/service"
)

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "table",
		Aliases: []string{"tables"},
		Short:   "Manage tables and their rows",
		Long:    "List, inspect, create, copy and delete tables, and query their rows with the filter language of the API.",
	}

	cmd.AddCommand(newTableListCmd())
	cmd.AddCommand(newTableShowCmd())
	cmd.AddCommand(newTableCreateCmd())
	cmd.AddCommand(newTableCopyCmd())
	cmd.AddCommand(newTableStatsCmd())
	cmd.AddCommand(newTableDeleteCmd())
	cmd.AddCommand(newTableRowsCmd())
	cmd.AddCommand(newTableOrphansCmd())

	return cmd
}

// ---------- table list ----------

func newTableListCmd() *cobra.Command {
	var (
		ownerType  string
		ownerID    int64
		schemaID   int64
		limit      int
		offset     int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			f := config.TableFilter{OwnerType: ownerType, Limit: limit, Offset: offset}
			if cmd.Flags().Changed("owner-id") {
				f.OwnerID = &ownerID
			}
			if cmd.Flags().Changed("schema") {
				f.SchemaID = &schemaID
			}
			tables, total, err := a.tables.ListTables(cmd.Context(), f)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, map[string]interface{}{"tables": tables, "total": total})
			}
			if len(tables) == 0 {
				fmt.Println("No tables found.")
				return nil
			}

			fmt.Printf("%-6s %-32s %-8s %-24s %-20s\n", "ID", "TITLE", "SCHEMA", "OWNER", "UPDATED")
			fmt.Printf("%-6s %-32s %-8s %-24s %-20s\n", "--", "-----", "------", "-----", "-------")
			for _, t := range tables {
				schema := "-"
				if t.SchemaID != nil {
					schema = fmt.Sprint(*t.SchemaID)
				}
				owner := fmt.Sprintf("%s:%d", t.OwnerType, t.OwnerID)
				fmt.Printf("%-6d %-32s %-8s %-24s %-20s\n", t.ID, t.Title, schema, owner, t.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Printf("\n%d of %d table(s)\n", len(tables), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerType, "owner-type", "", "Only tables of this owner type")
	cmd.Flags().Int64Var(&ownerID, "owner-id", 0, "Only tables of this owner id")
	cmd.Flags().Int64Var(&schemaID, "schema", 0, "Only tables built on this schema")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of tables")
	cmd.Flags().IntVar(&offset, "offset", 0, "Tables to skip")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- table show ----------

func newTableShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a table with its columns and statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			info, err := a.tables.GetTableInfo(ctx, id)
			if err != nil {
				return err
			}
			stats, err := a.tables.GetTableStats(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, map[string]interface{}{"info": info, "stats": stats})
			}

			t := info.Table
			fmt.Printf("Table %d: %s\n", t.ID, t.Title)
			fmt.Printf("  Owner:    %s:%d\n", t.OwnerType, t.OwnerID)
			if info.Schema != nil {
				fmt.Printf("  Schema:   %s (id %d)\n", info.Schema.Name, info.Schema.ID)
			} else {
				fmt.Println("  Schema:   none (table columns)")
			}
			fmt.Printf("  Rows:     %d\n", info.RowsCount)
			fmt.Printf("  Columns:  %d\n", info.ColumnsCount)
			if stats.LastModified != nil {
				fmt.Printf("  Modified: %s\n", stats.LastModified.Local().Format(time.RFC1123))
			}
			fmt.Println()
			fmt.Printf("%-24s %-30s %-12s\n", "CODE", "TITLE", "TYPE")
			fmt.Printf("%-24s %-30s %-12s\n", "----", "-----", "----")
			for _, c := range info.Columns {
				fmt.Printf("%-24s %-30s %-12s\n", c.Code, c.Title, c.Type)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- table create ----------

func newTableCreateCmd() *cobra.Command {
	var (
		title     string
		schemaID  int64
		ownerType string
		ownerID   int64
		file      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a table on a schema or with its own columns",
		Example: `  tables table create --title "Stock" --schema 1
  tables table create --title "Notes" --columns notes.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.TableInput{Title: title, OwnerType: ownerType, OwnerID: ownerID}
			if cmd.Flags().Changed("schema") {
				in.SchemaID = &schemaID
			}
			if file != "" {
				doc, err := readSchemaFile(file)
				if err != nil {
					return err
				}
				in.Columns = doc.Columns
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tables.CreateTable(cmd.Context(), in)
			if err != nil {
				return describeError(err)
			}
			fmt.Printf("Created table %q (id %d)\n", t.Title, t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Table title (required)")
	cmd.Flags().Int64Var(&schemaID, "schema", 0, "Schema the table is built on")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "Owner type (default from tables.default_owner_type)")
	cmd.Flags().Int64Var(&ownerID, "owner-id", 0, "Owner id")
	cmd.Flags().StringVar(&file, "columns", "", "JSON or YAML file with the columns of a table without schema")
	cmd.MarkFlagRequired("title")

	return cmd
}

// ---------- table copy ----------

func newTableCopyCmd() *cobra.Command {
	var (
		title    string
		withData bool
	)

	cmd := &cobra.Command{
		Use:   "copy <id>",
		Short: "Copy a table, optionally with its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tables.CopyTable(cmd.Context(), id, service.CopyOptions{Title: title, WithData: withData})
			if err != nil {
				return err
			}
			fmt.Printf("Copied table %d to %q (id %d)\n", id, t.Title, t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title of the copy (default: \"<title> (copy)\")")
	cmd.Flags().BoolVar(&withData, "with-data", false, "Copy the rows as well")

	return cmd
}

// ---------- table stats ----------

func newTableStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id>",
		Short: "Print row and column counts of a table as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.tables.GetTableStats(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, stats)
		},
	}
}

// ---------- table delete ----------

func newTableDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a table with all of its rows",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if !yes {
				t, err := a.tables.GetTable(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Printf("Delete table %d %q and all of its rows? [y/N] ", t.ID, t.Title)
				var answer string
				fmt.Scanln(&answer)
				if !strings.EqualFold(strings.TrimSpace(answer), "y") {
					fmt.Println("Aborted.")
					return nil
				}
			}
			if err := a.tables.DeleteTable(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Deleted table %d\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// ---------- table rows ----------

func newTableRowsCmd() *cobra.Command {
	var (
		q          service.RowQuery
		search     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "rows <id>",
		Short: "Query the rows of a table",
		Example: `  tables table rows 4 --filter "qty >= 10 AND name LIKE 'Pen%'" --order "qty DESC"
  tables table rows 4 --search ink --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var page *service.RowPage
			if search != "" {
				rows, err := a.tables.SearchTable(ctx, id, search)
				if err != nil {
					return err
				}
				page = &service.RowPage{Rows: rows, Total: len(rows), Limit: len(rows)}
			} else if page, err = a.tables.ListRows(ctx, id, q); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, page)
			}

			for _, r := range page.Rows {
				keys := make([]string, 0, len(r.Data))
				for k := range r.Data {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				parts := make([]string, len(keys))
				for i, k := range keys {
					v, _ := json.Marshal(r.Data[k])
					parts[i] = k + "=" + string(v)
				}
				fmt.Printf("%-6d %s\n", r.ID, strings.Join(parts, " "))
			}
			fmt.Printf("\n%d of %d row(s)\n", len(page.Rows), page.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Filter, "filter", "", "Filter expression, e.g. \"qty > 2 AND name = 'Pen'\"")
	cmd.Flags().StringVar(&q.Order, "order", "", "Order by, e.g. \"qty DESC, name\"")
	cmd.Flags().StringVar(&q.Fields, "fields", "", "Comma-separated column codes to return")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "Maximum number of rows (0 for all)")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "Rows to skip")
	cmd.Flags().StringVar(&search, "search", "", "Full-text search term instead of a filter")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- table orphans ----------

func newTableOrphansCmd() *cobra.Command {
	var age time.Duration

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List tables without an owner that the sweeper would remove",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tables, err := a.tables.ListOrphanTables(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				fmt.Println("No orphan tables.")
				return nil
			}
			for _, t := range tables {
				fmt.Printf("%-6d %-32s created %s\n", t.ID, t.Title, t.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&age, "age", 24*time.Hour, "Minimum age of an orphan table")

	return cmd
}
