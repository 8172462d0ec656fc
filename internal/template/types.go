package template

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Draft is an unvalidated, LLM-produced alert template (v2 shape). It is
// created from untrusted JSON by ParseDraft, mutated only by the compiler's
// sanitization passes, and never persisted directly - only its hashed,
// identified descendant (Executable) is.
type Draft struct {
	TemplateID      string `json:"template_id,omitempty" mapstructure:"template_id"`
	TemplateVersion int    `json:"template_version,omitempty" mapstructure:"template_version"`

	// Presentation fields. Excluded from the semantic fingerprint.
	Name        string   `json:"name,omitempty" mapstructure:"name"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	SourceText  string   `json:"source_text,omitempty" mapstructure:"source_text"`
	Assumptions []string `json:"assumptions,omitempty" mapstructure:"assumptions"`
	Warnings    []string `json:"warnings,omitempty" mapstructure:"warnings"`

	TargetKind   string       `json:"target_kind" mapstructure:"target_kind"`
	Scope        Scope        `json:"scope" mapstructure:"scope"`
	Signals      Signals      `json:"signals" mapstructure:"signals"`
	Variables    []Variable   `json:"variables,omitempty" mapstructure:"variables"`
	Derivations  []Derivation `json:"derivations,omitempty" mapstructure:"derivations"`
	Trigger      Trigger      `json:"trigger" mapstructure:"trigger"`
	Notification Notification `json:"notification" mapstructure:"notification"`

	// Forbidden targeting fields. Targets are supplied at instance-creation
	// time, never by the template; sanitize strips these when an LLM leaks
	// them into a draft.
	TargetKeys []string `json:"target_keys,omitempty" mapstructure:"target_keys"`
	GroupID    string   `json:"group_id,omitempty" mapstructure:"group_id"`

	// Raw is the untouched decoded draft, kept for spec-hash and
	// fingerprint computation. Numbers are json.Number.
	Raw map[string]any `json:"-" mapstructure:"-"`
}

// Scope narrows where a template may evaluate.
type Scope struct {
	Networks              []string `json:"networks,omitempty" mapstructure:"networks"`
	InstrumentConstraints []string `json:"instrument_constraints,omitempty" mapstructure:"instrument_constraints"`
}

// Signals declares the named quantities a template reads.
type Signals struct {
	Principals []Signal `json:"principals,omitempty" mapstructure:"principals"`
	Factors    []Signal `json:"factors,omitempty" mapstructure:"factors"`
}

// Signal is one named quantity and where it is refreshed from.
type Signal struct {
	Name          string         `json:"name" mapstructure:"name"`
	UpdateSources []UpdateSource `json:"update_sources,omitempty" mapstructure:"update_sources"`
}

// UpdateSource points a signal at a catalog entry by id.
type UpdateSource struct {
	Ref string `json:"ref" mapstructure:"ref"`
}

// Variable is a user-suppliable parameter of a template.
type Variable struct {
	ID         string `json:"id" mapstructure:"id"`
	Type       string `json:"type,omitempty" mapstructure:"type"`
	Label      string `json:"label,omitempty" mapstructure:"label"`
	Required   bool   `json:"required,omitempty" mapstructure:"required"`
	Default    any    `json:"default,omitempty" mapstructure:"default"`
	Validation string `json:"validation,omitempty" mapstructure:"validation"`
}

// Derivation computes a named intermediate value, referenceable from later
// derivations and the trigger condition via $.enrichment.<name>.
type Derivation struct {
	Name    string `json:"name" mapstructure:"name"`
	ExprAST any    `json:"expr_ast" mapstructure:"expr_ast"`
}

// Trigger describes when a template fires.
type Trigger struct {
	EvaluationMode  string         `json:"evaluation_mode,omitempty" mapstructure:"evaluation_mode"`
	ConditionAST    any            `json:"condition_ast,omitempty" mapstructure:"condition_ast"`
	CronCadenceSecs int            `json:"cron_cadence_seconds,omitempty" mapstructure:"cron_cadence_seconds"`
	Dedupe          *Dedupe        `json:"dedupe,omitempty" mapstructure:"dedupe"`
	PruningHints    map[string]any `json:"pruning_hints,omitempty" mapstructure:"pruning_hints"`
}

// Dedupe suppresses repeated firings of the same logical alert.
type Dedupe struct {
	WindowSecs  int    `json:"window_seconds,omitempty" mapstructure:"window_seconds"`
	KeyTemplate string `json:"key_template,omitempty" mapstructure:"key_template"`
}

// Notification holds the user-facing message templates.
type Notification struct {
	TitleTemplate string `json:"title_template,omitempty" mapstructure:"title_template"`
	BodyTemplate  string `json:"body_template,omitempty" mapstructure:"body_template"`
}

// Executable is the compiled, immutable, content-addressed artifact. Its
// identity is fully determined by (template fingerprint, template version,
// registry snapshot hash): recompiling the same triple yields the same
// ExecutableID.
type Executable struct {
	ExecutableID     string              `json:"executable_id"`
	TemplateRef      TemplateRef         `json:"template_ref"`
	RegistrySnapshot RegistrySnapshot    `json:"registry_snapshot"`
	TargetKind       string              `json:"target_kind"`
	Variables        []Variable          `json:"variables,omitempty"`
	TriggerPruning   map[string]any      `json:"trigger_pruning,omitempty"`
	Datasources      []DatasourceBinding `json:"datasources"`
	Enrichments      []Enrichment        `json:"enrichments,omitempty"`
	Conditions       Conditions          `json:"conditions"`
	Notification     Notification        `json:"notification_template"`
	Action           Action              `json:"action"`
}

// TemplateRef pins the template a compilation came from.
type TemplateRef struct {
	TemplateID  string `json:"template_id"`
	Fingerprint string `json:"fingerprint"`
	Version     int    `json:"version"`
}

// RegistrySnapshot pins the catalog state an executable was compiled
// against. Catalog changes therefore never silently alter the meaning of an
// already-compiled executable.
type RegistrySnapshot struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Hash    string `json:"hash"`
}

// DatasourceBinding wires one catalog entry into an executable.
type DatasourceBinding struct {
	ID           string            `json:"id"`
	CatalogID    string            `json:"catalog_id"`
	Bindings     map[string]string `json:"bindings"`
	CacheTTLSecs int               `json:"cache_ttl_secs,omitempty"`
	TimeoutMS    int               `json:"timeout_ms,omitempty"`
}

// Enrichment is a compiled derivation: a folded expression plus the output
// slot it populates under $.enrichment.
type Enrichment struct {
	ID     string `json:"id"`
	Expr   any    `json:"expr"`
	Output string `json:"output"`
}

// Conditions is the compiled trigger condition, grouped the way the
// runtime evaluator consumes it: all must hold, at least one of any must
// hold, none of not may hold. Each element is a canonical expression in
// its JSON form.
type Conditions struct {
	All []any `json:"all,omitempty"`
	Any []any `json:"any,omitempty"`
	Not []any `json:"not,omitempty"`
}

// Action describes what happens on a firing.
type Action struct {
	NotificationPolicy  string `json:"notification_policy,omitempty"`
	CooldownSecs        int    `json:"cooldown_secs,omitempty"`
	CooldownKeyTemplate string `json:"cooldown_key_template,omitempty"`
	DedupeKeyTemplate   string `json:"dedupe_key_template,omitempty"`
}

// TargetSelector determines which entities an instance evaluates against:
// an explicit key list or a group reference.
type TargetSelector struct {
	Mode    string   `json:"mode"` // "keys" | "group"
	Keys    []string `json:"keys,omitempty"`
	GroupID string   `json:"group_id,omitempty"`
}

// Instance is a user's configured copy of a template.
type Instance struct {
	InstanceID      string         `json:"instance_id"`
	Enabled         bool           `json:"enabled"`
	Priority        int            `json:"priority,omitempty"`
	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	TargetSelector  TargetSelector `json:"target_selector"`
	VariableValues  map[string]any `json:"variable_values,omitempty"`
	FireAt          int64          `json:"fire_at,omitempty"` // one-time triggers, epoch seconds
}

// ParseDraft decodes untrusted draft JSON. Any malformed input is rejected
// with an error, never a panic. Numbers are preserved as json.Number so the
// canonical serialization used for hashing is byte-stable.
func ParseDraft(data []byte) (*Draft, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}

	var d Draft
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &d,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build draft decoder: %w", err)
	}
	if err := md.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode draft fields: %w", err)
	}

	d.Raw = raw
	return &d, nil
}

// Clone returns a deep-enough copy of the draft for the compiler's rewrite
// passes: slices and maps reachable from sanitization are copied, the Raw
// tree is shared (passes never touch it).
func (d *Draft) Clone() *Draft {
	out := *d
	out.Assumptions = append([]string(nil), d.Assumptions...)
	out.Warnings = append([]string(nil), d.Warnings...)
	out.Variables = append([]Variable(nil), d.Variables...)
	out.Derivations = append([]Derivation(nil), d.Derivations...)
	out.TargetKeys = append([]string(nil), d.TargetKeys...)
	out.Scope.Networks = append([]string(nil), d.Scope.Networks...)
	out.Scope.InstrumentConstraints = append([]string(nil), d.Scope.InstrumentConstraints...)
	out.Signals.Principals = append([]Signal(nil), d.Signals.Principals...)
	out.Signals.Factors = append([]Signal(nil), d.Signals.Factors...)
	if d.Trigger.PruningHints != nil {
		hints := make(map[string]any, len(d.Trigger.PruningHints))
		for k, v := range d.Trigger.PruningHints {
			hints[k] = v
		}
		out.Trigger.PruningHints = hints
	}
	return &out
}
