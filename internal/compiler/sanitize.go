package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/klaxonhq/klaxon/internal/template"
)

// Pass is one pure Draft -> Draft rewrite step. Passes run in a fixed
// order, each independently unit-testable, and report what they changed as
// human-readable warnings.
type Pass struct {
	Name  string
	Apply func(d *template.Draft) []string
}

// SanitizePasses returns the ordered sanitization pipeline.
func SanitizePasses() []Pass {
	return []Pass{
		{Name: "fill_presentation", Apply: fillPresentation},
		{Name: "infer_variable_types", Apply: inferVariableTypes},
		{Name: "strip_targeting", Apply: stripTargeting},
		{Name: "default_trigger_pruning", Apply: defaultTriggerPruning},
	}
}

// sanitize clones the draft and runs every pass over the copy.
func sanitize(d *template.Draft) (*template.Draft, []string) {
	out := d.Clone()
	var warnings []string
	for _, pass := range SanitizePasses() {
		warnings = append(warnings, pass.Apply(out)...)
	}
	return out, warnings
}

// fillPresentation derives missing name/description from the source text
// the draft was extracted from.
func fillPresentation(d *template.Draft) []string {
	var warnings []string
	if d.Name == "" {
		d.Name = titleFromSource(d.SourceText)
		warnings = append(warnings, fmt.Sprintf("filled missing name from source text: %q", d.Name))
	}
	if d.Description == "" && d.SourceText != "" {
		d.Description = strings.TrimSpace(d.SourceText)
		warnings = append(warnings, "filled missing description from source text")
	}
	return warnings
}

func titleFromSource(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return "Untitled alert"
	}
	words := strings.Fields(src)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

var (
	addressLikeRe = regexp.MustCompile(`(?i)(address|wallet|account|recipient|sender|contract)`)
	amountLikeRe  = regexp.MustCompile(`(?i)(amount|threshold|value|price|balance|volume|ratio|rate)`)
	countLikeRe   = regexp.MustCompile(`(?i)(count|limit|num|times|occurrences)`)
)

// inferVariableTypes fills missing variable types with a best-effort shape
// inference over the variable id and label.
func inferVariableTypes(d *template.Draft) []string {
	var warnings []string
	for i := range d.Variables {
		v := &d.Variables[i]
		if v.Type != "" {
			continue
		}
		hint := v.ID + " " + v.Label
		switch {
		case addressLikeRe.MatchString(hint):
			v.Type = "string"
		case countLikeRe.MatchString(hint):
			v.Type = "integer"
		case amountLikeRe.MatchString(hint):
			v.Type = "decimal"
		default:
			v.Type = "string"
		}
		warnings = append(warnings, fmt.Sprintf("inferred type %q for variable %q", v.Type, v.ID))
	}
	return warnings
}

// stripTargeting removes target keys and group ids from the draft. Targets
// are supplied only at instance-creation time; a template that named them
// would fire for the LLM's guessed entities instead of the user's.
func stripTargeting(d *template.Draft) []string {
	var warnings []string
	if len(d.TargetKeys) > 0 {
		warnings = append(warnings, fmt.Sprintf("stripped %d forbidden target key(s) from draft", len(d.TargetKeys)))
		d.TargetKeys = nil
	}
	if d.GroupID != "" {
		warnings = append(warnings, fmt.Sprintf("stripped forbidden group id %q from draft", d.GroupID))
		d.GroupID = ""
	}
	return warnings
}

// defaultTriggerPruning defaults absent pruning hints to match-nothing so
// an executable without explicit pruning never broad-matches by accident.
func defaultTriggerPruning(d *template.Draft) []string {
	if d.Trigger.PruningHints != nil {
		return nil
	}
	d.Trigger.PruningHints = map[string]any{"match": "none"}
	return []string{"defaulted trigger pruning to match-nothing"}
}
