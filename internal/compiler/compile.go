package compiler

import (
	"fmt"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/template"
)

// validTargetKinds is the closed set of entity kinds a template may
// evaluate against.
var validTargetKinds = map[string]struct{}{
	"wallet":    {},
	"address":   {},
	"contract":  {},
	"token":     {},
	"validator": {},
}

// Result bundles a successful compilation.
type Result struct {
	Executable *template.Executable
	// Warnings are the accumulated sanitization and normalization
	// substitutions, surfaced so a reviewer can see what was guessed.
	Warnings []string
}

// Compile turns a draft plus a pinned catalog snapshot into an immutable,
// content-addressed executable.
//
// The pipeline is Draft -> sanitize -> bind datasources -> fold conditions
// -> identify. Every stage is total: it produces a result or a structured
// error, never partial output. Failure is reported to the caller (see
// MissingInfo), which decides whether to run a repair pass; Compile itself
// never retries.
func Compile(d *template.Draft, snap *catalog.Snapshot) (*Result, error) {
	if d == nil {
		return nil, fmt.Errorf("nil draft")
	}
	if snap == nil {
		return nil, fmt.Errorf("nil catalog snapshot")
	}
	if _, ok := validTargetKinds[d.TargetKind]; !ok {
		return nil, newError(CodeInvalidTargetKind, d.TargetKind)
	}

	sanitized, warnings := sanitize(d)

	bindings, err := bindDatasources(sanitized, snap)
	if err != nil {
		return nil, err
	}

	enrichments, conditions, err := foldConditions(sanitized, bindings, snap)
	if err != nil {
		return nil, err
	}

	fingerprint, err := fingerprintOf(sanitized)
	if err != nil {
		return nil, fmt.Errorf("fingerprint template: %w", err)
	}

	registry := snap.Registry()
	exe := &template.Executable{
		ExecutableID: template.ExecutableID(sanitized.TemplateID, sanitized.TemplateVersion, registry.Hash),
		TemplateRef: template.TemplateRef{
			TemplateID:  sanitized.TemplateID,
			Fingerprint: fingerprint,
			Version:     sanitized.TemplateVersion,
		},
		RegistrySnapshot: registry,
		TargetKind:       sanitized.TargetKind,
		Variables:        sanitized.Variables,
		TriggerPruning:   sanitized.Trigger.PruningHints,
		Datasources:      bindings,
		Enrichments:      enrichments,
		Conditions:       conditions,
		Notification:     sanitized.Notification,
		Action:           actionOf(sanitized),
	}
	return &Result{Executable: exe, Warnings: warnings}, nil
}

// fingerprintOf hashes the semantic content of the draft. The raw decoded
// tree is preferred (it is exactly what the producer sent); drafts built
// programmatically in tests fall back to the struct form.
func fingerprintOf(d *template.Draft) (string, error) {
	if d.Raw != nil {
		return template.Fingerprint(d.Raw)
	}
	return template.Fingerprint(d)
}

// actionOf derives the executable's action block from the draft trigger.
func actionOf(d *template.Draft) template.Action {
	action := template.Action{
		NotificationPolicy: "notify",
	}
	if d.Trigger.Dedupe != nil {
		action.CooldownSecs = d.Trigger.Dedupe.WindowSecs
		action.DedupeKeyTemplate = d.Trigger.Dedupe.KeyTemplate
		if action.DedupeKeyTemplate == "" {
			action.DedupeKeyTemplate = "{{instance_id}}:{{target_key}}"
		}
		action.CooldownKeyTemplate = action.DedupeKeyTemplate
	}
	return action
}

// CanonicalJSON renders an executable in the canonical serialization used
// for identity checks. Two compiles of the same (template, version,
// registry) triple produce byte-identical output.
func CanonicalJSON(exe *template.Executable) ([]byte, error) {
	tree, err := template.ToTree(exe)
	if err != nil {
		return nil, err
	}
	return template.MarshalCanonical(tree)
}
