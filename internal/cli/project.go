package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/klaxonhq/klaxon/internal/compiler"
	"github.com/klaxonhq/klaxon/internal/config"
	"github.com/klaxonhq/klaxon/internal/runtime"
	"github.com/klaxonhq/klaxon/internal/template"
)

// ProjectOptions holds flags for the project command group.
type ProjectOptions struct {
	*RootOptions
	CatalogDir     string
	CatalogVersion string
}

// NewProjectCommand creates the project command group.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project templates and instances into the runtime store",
	}

	cmd.PersistentFlags().StringVar(&opts.CatalogDir, "catalog", "", "catalog directory (default from config)")
	cmd.PersistentFlags().StringVar(&opts.CatalogVersion, "catalog-version", "v1", "catalog snapshot version label")

	cmd.AddCommand(newProjectTemplateCommand(opts))
	cmd.AddCommand(newProjectInstanceCommand(opts))

	return cmd
}

func newProjectTemplateCommand(opts *ProjectOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "template <draft.json>",
		Short: "Compile a draft and publish its template bundle",
		Long: `Compile a draft template against the catalog and publish the pinned
template plus its executable as one atomic batch.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectTemplate(opts, args[0], cmd)
		},
	}
}

func newProjectInstanceCommand(opts *ProjectOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "instance <instance.json>",
		Short: "Project an instance's desired state",
		Long: `Project one instance into the runtime store: its record, its target
index memberships and its schedule entry, written atomically. Disabled
instances are withdrawn.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectInstance(opts, args[0], cmd)
		},
	}
}

func runProjectTemplate(opts *ProjectOptions, draftPath string, cmd *cobra.Command) error {
	formatter := outputFor(opts.RootOptions, cmd)

	snap, err := loadSnapshot(opts.ConfigFile, opts.CatalogDir, opts.CatalogVersion)
	if err != nil {
		return commandError(formatter, "CatalogLoadFailed", err)
	}

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

	store, proj, err := openProjector(cmd, opts)
	if err != nil {
		return commandError(formatter, "StoreConnectFailed", err)
	}
	defer store.Close()

	if err := proj.ProjectTemplateBundle(cmd.Context(), draft, result.Executable); err != nil {
		return commandError(formatter, "ProjectionFailed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"template_id":      draft.TemplateID,
			"template_version": draft.TemplateVersion,
			"executable_id":    result.Executable.ExecutableID,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ Published %s v%d (%s)\n",
		draft.TemplateID, draft.TemplateVersion, result.Executable.ExecutableID)
	return nil
}

func runProjectInstance(opts *ProjectOptions, instPath string, cmd *cobra.Command) error {
	formatter := outputFor(opts.RootOptions, cmd)

	raw, err := os.ReadFile(instPath)
	if err != nil {
		return commandError(formatter, "InstanceReadFailed", err)
	}
	var inst template.Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return commandError(formatter, "InstanceDecodeFailed", err)
	}

	store, proj, err := openProjector(cmd, opts)
	if err != nil {
		return commandError(formatter, "StoreConnectFailed", err)
	}
	defer store.Close()

	if err := proj.ProjectInstance(cmd.Context(), &inst); err != nil {
		_ = formatter.Error(&CLIError{Code: "ProjectionFailed", Message: err.Error()})
		return NewExitError(ExitFailure, err.Error())
	}

	state := "projected"
	if !inst.Enabled {
		state = "withdrawn"
	}
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"instance_id": inst.InstanceID,
			"state":       state,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ Instance %s %s\n", inst.InstanceID, state)
	return nil
}

// openProjector connects to Redis per config and builds a projector whose
// on-demand compiler uses the command's catalog snapshot.
func openProjector(cmd *cobra.Command, opts *ProjectOptions) (runtime.Store, *runtime.Projector, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	store, err := runtime.DialRedis(cmd.Context(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
	}

	compile := func(d *template.Draft) (*template.Executable, error) {
		snap, err := loadSnapshot(opts.ConfigFile, opts.CatalogDir, opts.CatalogVersion)
		if err != nil {
			return nil, err
		}
		result, err := compiler.Compile(d, snap)
		if err != nil {
			return nil, err
		}
		return result.Executable, nil
	}
	return store, runtime.NewProjector(store, compile), nil
}

// outputFor builds the standard formatter for a command.
func outputFor(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
