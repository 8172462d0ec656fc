package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/klaxonhq/klaxon/internal/catalog"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
	CatalogDir     string
	CatalogVersion string
}

// CatalogEntrySummary is one catalog entry in the command's JSON output.
type CatalogEntrySummary struct {
	CatalogID  string   `json:"catalog_id"`
	DerivedID  string   `json:"derived_id"`
	Enabled    bool     `json:"enabled"`
	Table      string   `json:"table,omitempty"`
	Columns    []string `json:"columns"`
	KeyColumns []string `json:"key_columns,omitempty"`
	Params     []string `json:"params,omitempty"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog [catalog-id]",
		Short: "List or inspect datasource catalog entries",
		Long: `List the catalog entries a compile would bind against, or show
one entry in detail. Disabled entries are listed but marked; the
compiler refuses to bind them.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runCatalog(opts, id, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "catalog directory (default from config)")
	cmd.Flags().StringVar(&opts.CatalogVersion, "catalog-version", "v1", "catalog snapshot version label")

	return cmd
}

func runCatalog(opts *CatalogOptions, catalogID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	snap, err := loadSnapshot(opts.ConfigFile, opts.CatalogDir, opts.CatalogVersion)
	if err != nil {
		return commandError(formatter, "CatalogLoadFailed", err)
	}

	if catalogID != "" {
		entry, ok := snap.Resolve(catalogID)
		if !ok {
			_ = formatter.Error(&CLIError{Code: "UnknownCatalogId", Message: catalogID})
			return NewExitError(ExitFailure, fmt.Sprintf("unknown catalog id %s", catalogID))
		}
		summary := summarize(entry)
		if formatter.Format == "json" {
			return formatter.Success(summary)
		}
		fmt.Fprintf(formatter.Writer, "%s (%s)\n", summary.CatalogID, summary.DerivedID)
		fmt.Fprintf(formatter.Writer, "  table:       %s\n", summary.Table)
		fmt.Fprintf(formatter.Writer, "  columns:     %s\n", strings.Join(summary.Columns, ", "))
		if len(summary.KeyColumns) > 0 {
			fmt.Fprintf(formatter.Writer, "  key columns: %s\n", strings.Join(summary.KeyColumns, ", "))
		}
		if len(summary.Params) > 0 {
			fmt.Fprintf(formatter.Writer, "  params:      %s\n", strings.Join(summary.Params, ", "))
		}
		return nil
	}

	summaries := make([]CatalogEntrySummary, 0)
	for _, entry := range snap.List() {
		summaries = append(summaries, summarize(entry))
	}
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"registry_hash": snap.Registry().Hash,
			"entries":       summaries,
		})
	}
	fmt.Fprintf(formatter.Writer, "Catalog: %d entries, hash %s\n", len(summaries), snap.Registry().Hash)
	for _, s := range summaries {
		marker := " "
		if !s.Enabled {
			marker = "✗"
		}
		fmt.Fprintf(formatter.Writer, "  %s %s (%d columns)\n", marker, s.CatalogID, len(s.Columns))
	}
	return nil
}

func summarize(entry *catalog.Entry) CatalogEntrySummary {
	cols := make([]string, 0, len(entry.Schema.Columns))
	for _, c := range entry.Schema.Columns {
		cols = append(cols, c.Name)
	}
	params := make([]string, 0, len(entry.Params))
	for _, p := range entry.Params {
		params = append(params, p.Name)
	}
	return CatalogEntrySummary{
		CatalogID:  entry.CatalogID,
		DerivedID:  catalog.DerivedID(entry.CatalogID),
		Enabled:    entry.Enabled,
		Table:      entry.Query.Table,
		Columns:    cols,
		KeyColumns: entry.Schema.KeyColumns,
		Params:     params,
	}
}
