package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grebion/tables/internal/transfer"
)

// formatOf picks the transfer format from an explicit flag or the file
// extension.
func formatOf(flag, path string) string {
	if flag != "" {
		return strings.ToLower(flag)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return transfer.FormatXLSX
	case ".json":
		return transfer.FormatJSON
	default:
		return transfer.FormatCSV
	}
}

// ---------- import ----------

func newImportCmd() *cobra.Command {
	var (
		format    string
		delimiter string
		encoding  string
		noHeader  bool
		keepEmpty bool
		sheet     int
		ownerType string
		ownerID   int64
	)

	cmd := &cobra.Command{
		Use:   "import <table|-> <file>",
		Short: "Import rows from a CSV, XLSX or JSON file",
		Long: `Append the lines of a CSV or XLSX file to a table. Header cells are matched
against column titles and codes; lines failing validation are reported and
skipped. A JSON table document creates a new table instead, so pass "-" as
the table.`,
		Example: `  tables import 4 stock.csv --delimiter ";" --encoding windows-1251
  tables import 4 stock.xlsx --sheet 1
  tables import - backup.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[1]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fmtName := formatOf(format, path)
			if fmtName == transfer.FormatJSON {
				var doc transfer.TableDocument
				if err := json.NewDecoder(f).Decode(&doc); err != nil {
					return fmt.Errorf("parse %s: %w", path, err)
				}
				var owner transfer.ImportOwner
				if cmd.Flags().Changed("owner-type") {
					owner.Type = &ownerType
				}
				if cmd.Flags().Changed("owner-id") {
					owner.ID = &ownerID
				}
				t, err := a.transfer.ImportTable(ctx, &doc, owner)
				if err != nil {
					return describeError(err)
				}
				fmt.Printf("Imported table %q (id %d) with %d row(s)\n", t.Title, t.ID, len(doc.Rows))
				return nil
			}

			tableID, err := parseID(args[0], "table")
			if err != nil {
				return err
			}

			var res *transfer.ImportResult
			switch fmtName {
			case transfer.FormatCSV:
				opts := transfer.DefaultCSVOptions()
				if a.cfg.Import.Delimiter != "" {
					opts.Delimiter = a.cfg.Import.Delimiter
				}
				if a.cfg.Import.Encoding != "" {
					opts.Encoding = a.cfg.Import.Encoding
				}
				if cmd.Flags().Changed("delimiter") {
					opts.Delimiter = delimiter
				}
				if cmd.Flags().Changed("encoding") {
					opts.Encoding = encoding
				}
				opts.HasHeader = !noHeader
				opts.SkipEmpty = !keepEmpty
				res, err = a.transfer.ImportCSV(ctx, tableID, f, opts)
			case transfer.FormatXLSX:
				opts := transfer.DefaultXLSXOptions()
				opts.SheetIndex = sheet
				opts.HasHeader = !noHeader
				opts.SkipEmpty = !keepEmpty
				res, err = a.transfer.ImportXLSX(ctx, tableID, f, opts)
			default:
				return fmt.Errorf("%w: %s", transfer.ErrUnsupportedFormat, fmtName)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Imported %d of %d line(s), %d skipped\n", res.ImportedRows, res.TotalLines, res.SkippedLines)
			for _, e := range res.Errors {
				fmt.Printf("  %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "csv, xlsx or json (default: from the file extension)")
	cmd.Flags().StringVar(&delimiter, "delimiter", ";", "CSV field delimiter")
	cmd.Flags().StringVar(&encoding, "encoding", "UTF-8", "CSV encoding: UTF-8, windows-1251, koi8-r or iso-8859-5")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "The first line holds data, not column titles")
	cmd.Flags().BoolVar(&keepEmpty, "keep-empty", false, "Import blank lines as empty rows")
	cmd.Flags().IntVar(&sheet, "sheet", 0, "XLSX sheet index (0-based)")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "Owner type of a table imported from JSON")
	cmd.Flags().Int64Var(&ownerID, "owner-id", 0, "Owner id of a table imported from JSON")

	return cmd
}

// ---------- export ----------

func newExportCmd() *cobra.Command {
	var (
		format    string
		output    string
		delimiter string
		encoding  string
		formatted bool
		noHeader  bool
	)

	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Export a table to CSV, XLSX or JSON",
		Example: `  tables export 4 -o stock.xlsx
  tables export 4 --format csv --formatted > stock.csv
  tables export 4 --format json -o backup.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tableID, err := parseID(args[0], "table")
			if err != nil {
				return err
			}
			fmtName := formatOf(format, output)
			if fmtName == transfer.FormatXLSX && output == "" {
				return fmt.Errorf("xlsx export needs --output")
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			var rows int
			switch fmtName {
			case transfer.FormatCSV:
				opts := transfer.DefaultCSVExportOptions()
				opts.Delimiter = delimiter
				opts.Encoding = encoding
				opts.IncludeHeader = !noHeader
				opts.Formatted = formatted
				res, err := a.transfer.ExportCSV(ctx, tableID, w, opts)
				if err != nil {
					return err
				}
				rows = res.ExportedRows
			case transfer.FormatXLSX:
				res, err := a.transfer.ExportXLSX(ctx, tableID, w, formatted)
				if err != nil {
					return err
				}
				rows = res.ExportedRows
			case transfer.FormatJSON:
				doc, err := a.transfer.ExportTable(ctx, tableID)
				if err != nil {
					return err
				}
				if err := printJSON(w, doc); err != nil {
					return err
				}
				rows = len(doc.Rows)
			default:
				return fmt.Errorf("%w: %s", transfer.ErrUnsupportedFormat, fmtName)
			}

			if output != "" {
				fmt.Printf("Exported %d row(s) to %s\n", rows, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "csv, xlsx or json (default: from --output, else csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&delimiter, "delimiter", ";", "CSV field delimiter")
	cmd.Flags().StringVar(&encoding, "encoding", "UTF-8", "CSV encoding")
	cmd.Flags().BoolVar(&formatted, "formatted", false, "Write display values (dates, option labels) instead of raw values")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "Omit the header line of a CSV export")

	return cmd
}
