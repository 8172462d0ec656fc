package runtime

import (
	"encoding/json"

	"github.com/klaxonhq/klaxon/internal/template"
)

// RuntimeInstance is the projected record the evaluator reads for one
// instance. It is a flattened join of the instance and the parts of its
// executable the evaluator needs to decide whether and how to run.
type RuntimeInstance struct {
	InstanceID      string `json:"instance_id"`
	Enabled         bool   `json:"enabled"`
	Priority        int    `json:"priority,omitempty"`
	TemplateID      string `json:"template_id"`
	TemplateVersion int    `json:"template_version"`
	ExecutableID    string `json:"executable_id"`

	// TriggerType is "periodic" or "one_time" for scheduled evaluation,
	// "event" for event-driven evaluation through the secondary indexes.
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config,omitempty"`

	TargetSelector template.TargetSelector `json:"target_selector"`
	VariableValues map[string]any          `json:"variable_values,omitempty"`
	Notification   template.Notification   `json:"notification_template"`
	Action         template.Action         `json:"action"`
}

func (r *RuntimeInstance) marshal() ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalRuntimeInstance(data []byte) (*RuntimeInstance, error) {
	var r RuntimeInstance
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// indexMemberships lists the secondary index sets an instance belongs to,
// derived from its target selector.
func indexMemberships(sel template.TargetSelector) []string {
	switch sel.Mode {
	case "group":
		if sel.GroupID == "" {
			return nil
		}
		return []string{GroupIndexKey(sel.GroupID)}
	default:
		keys := make([]string, 0, len(sel.Keys))
		for _, k := range sel.Keys {
			if k != "" {
				keys = append(keys, TargetIndexKey(k))
			}
		}
		return keys
	}
}
