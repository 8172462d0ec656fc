package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/klaxonhq/klaxon/internal/config"
	"github.com/klaxonhq/klaxon/internal/preview"
	"github.com/klaxonhq/klaxon/internal/queryexec"
	"github.com/klaxonhq/klaxon/internal/template"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	CatalogDir     string
	CatalogVersion string
	Database       string
	TargetKeys     []string
	Variables      []string
	Network        string
	Subnet         string
	AsOf           string
	SampleCap      int
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview <executable.json>",
		Short: "Evaluate an executable against local data",
		Long: `Run an executable's datasource queries against a local SQLite
database and report how many of the supplied targets would have
triggered, with sample rows.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "catalog directory (default from config)")
	cmd.Flags().StringVar(&opts.CatalogVersion, "catalog-version", "v1", "catalog snapshot version label")
	cmd.Flags().StringVar(&opts.Database, "db", "", "sqlite database path (default from config)")
	cmd.Flags().StringSliceVarP(&opts.TargetKeys, "key", "k", nil, "target key (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Variables, "var", nil, "variable value as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.Network, "network", "", "partition network")
	cmd.Flags().StringVar(&opts.Subnet, "subnet", "", "partition subnet")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "evaluation time (RFC 3339, default now)")
	cmd.Flags().IntVar(&opts.SampleCap, "samples", 0, "max sample triggers (default from engine)")

	return cmd
}

func runPreview(opts *PreviewOptions, exePath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return commandError(formatter, "ConfigLoadFailed", err)
	}

	snap, err := loadSnapshot(opts.ConfigFile, opts.CatalogDir, opts.CatalogVersion)
	if err != nil {
		return commandError(formatter, "CatalogLoadFailed", err)
	}

	raw, err := os.ReadFile(exePath)
	if err != nil {
		return commandError(formatter, "ExecutableReadFailed", err)
	}
	var exe template.Executable
	if err := json.Unmarshal(raw, &exe); err != nil {
		return commandError(formatter, "ExecutableDecodeFailed", err)
	}

	req, err := buildPreviewRequest(opts)
	if err != nil {
		return commandError(formatter, "InvalidRequest", err)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.SQLitePath
	}
	db, err := queryexec.Open(dbPath)
	if err != nil {
		return commandError(formatter, "DatabaseOpenFailed", err)
	}
	defer db.Close()

	engineOpts := []preview.Option{
		preview.WithTimeout(time.Duration(cfg.Preview.TimeoutSecs) * time.Second),
	}
	sampleCap := opts.SampleCap
	if sampleCap == 0 {
		sampleCap = cfg.Preview.SampleCap
	}
	if sampleCap > 0 {
		engineOpts = append(engineOpts, preview.WithSampleCap(sampleCap))
	}
	engine := preview.NewEngine(db, snap, engineOpts...)

	result, err := engine.Preview(cmd.Context(), &exe, req)
	if err != nil {
		_ = formatter.Error(&CLIError{Code: "PreviewFailed", Message: err.Error()})
		return NewExitError(ExitFailure, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Evaluated %d target(s), %d would have triggered (%.1f%%)\n",
		result.TotalEvaluated, result.WouldTrigger, result.TriggerRate*100)
	for _, s := range result.Samples {
		fmt.Fprintf(formatter.Writer, "  %s\n", s.TargetKey)
	}
	return nil
}

// buildPreviewRequest assembles the engine request from flags.
func buildPreviewRequest(opts *PreviewOptions) (preview.Request, error) {
	req := preview.Request{
		TargetKeys: opts.TargetKeys,
		Partition: preview.Partition{
			Network: opts.Network,
			Subnet:  opts.Subnet,
		},
		AsOf: time.Now(),
	}
	if opts.AsOf != "" {
		t, err := time.Parse(time.RFC3339, opts.AsOf)
		if err != nil {
			return req, fmt.Errorf("parse --as-of: %w", err)
		}
		req.AsOf = t
	}
	if len(opts.Variables) > 0 {
		req.Variables = make(map[string]any, len(opts.Variables))
		for _, kv := range opts.Variables {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || name == "" {
				return req, fmt.Errorf("invalid --var %q: want name=value", kv)
			}
			req.Variables[name] = value
		}
	}
	return req, nil
}
