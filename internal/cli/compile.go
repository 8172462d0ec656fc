package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/compiler"
	"github.com/klaxonhq/klaxon/internal/config"
	"github.com/klaxonhq/klaxon/internal/template"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	CatalogDir     string
	CatalogVersion string
	Output         string
}

// CompileReport is the compile command's success payload.
type CompileReport struct {
	ExecutableID    string   `json:"executable_id"`
	Fingerprint     string   `json:"fingerprint"`
	RegistryHash    string   `json:"registry_hash"`
	DatasourceCount int      `json:"datasource_count"`
	Warnings        []string `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <draft.json>",
		Short: "Compile a draft template into an executable",
		Long: `Compile an alert template draft against a datasource catalog.

The draft is sanitized, its datasources are bound to catalog entries, the
condition AST is normalized and folded, and the result is emitted as a
content-addressed executable in canonical JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "catalog directory (default from config)")
	cmd.Flags().StringVar(&opts.CatalogVersion, "catalog-version", "v1", "catalog snapshot version label")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write executable JSON to file")

	return cmd
}

func runCompile(opts *CompileOptions, draftPath string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("Loaded catalog: %d entries, hash %s", len(snap.List()), snap.Registry().Hash)

	raw, err := os.ReadFile(draftPath)
	if err != nil {
		return commandError(formatter, "DraftReadFailed", err)
	}
	draft, err := template.ParseDraft(raw)
	if err != nil {
		return commandError(formatter, "DraftDecodeFailed", err)
	}

	result, err := compiler.Compile(draft, snap)
	if err != nil {
		return compileError(formatter, err)
	}
	exe := result.Executable

	canonical, err := compiler.CanonicalJSON(exe)
	if err != nil {
		return commandError(formatter, "SerializeFailed", err)
	}
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, canonical, 0o644); err != nil {
			return commandError(formatter, "WriteFailed", err)
		}
		formatter.VerboseLog("Wrote executable to %s", opts.Output)
	}

	report := CompileReport{
		ExecutableID:    exe.ExecutableID,
		Fingerprint:     exe.TemplateRef.Fingerprint,
		RegistryHash:    exe.RegistrySnapshot.Hash,
		DatasourceCount: len(exe.Datasources),
		Warnings:        result.Warnings,
	}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %s\n", exe.ExecutableID)
	fmt.Fprintf(formatter.Writer, "  fingerprint:  %s\n", report.Fingerprint)
	fmt.Fprintf(formatter.Writer, "  registry:     %s\n", report.RegistryHash)
	fmt.Fprintf(formatter.Writer, "  datasources:  %d\n", report.DatasourceCount)
	for _, w := range report.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning: %s\n", w)
	}
	if opts.Output == "" && formatter.Format == "text" {
		fmt.Fprintln(formatter.Writer)
		formatter.Writer.Write(canonical)
		fmt.Fprintln(formatter.Writer)
	}
	return nil
}

// loadSnapshot builds a catalog snapshot from the flag or config dir.
func loadSnapshot(cfgFile, dirFlag, version string) (*catalog.Snapshot, error) {
	dir := dirFlag
	if dir == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		dir = cfg.CatalogDir
	}
	entries, err := catalog.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return catalog.NewSnapshot(entries, version)
}

// compileError renders a structured compilation failure. Compiler errors
// carry their stable code and missing_info; anything else is generic.
func compileError(f *OutputFormatter, err error) error {
	cliErr := &CLIError{Code: "CompileFailed", Message: err.Error()}
	var ce *compiler.Error
	if errors.As(err, &ce) {
		cliErr.Code = string(ce.Code)
		if info := compiler.MissingInfo(err); len(info) > 0 {
			cliErr.MissingInfo = strings.Join(info, ",")
		}
	}
	_ = f.Error(cliErr)
	return NewExitError(ExitFailure, cliErr.Message)
}

// commandError renders an environment-level failure (exit code 2).
func commandError(f *OutputFormatter, code string, err error) error {
	_ = f.Error(&CLIError{Code: code, Message: err.Error()})
	return WrapExitError(ExitCommandError, code, err)
}
