package preview

import (
	"fmt"
	"strings"
	"time"
)

// Partition scopes a preview run to one network slice.
type Partition struct {
	Network string `json:"network"`
	Subnet  string `json:"subnet,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
}

// EvalContext is the fixed-shape record a datasource binding's JSONPath
// expressions resolve against when building query parameters. Its layout
// mirrors the ref roots the compiler emits: $.run, $.instance,
// $.partition, $.schedule, $.targets, $.variables.
type EvalContext struct {
	Run        RunInfo
	InstanceID string
	Partition  Partition
	AsOf       time.Time
	TargetKeys []string
	Variables  map[string]any
}

// RunInfo identifies one evaluation run.
type RunInfo struct {
	RunID string
	Limit int
}

// Lookup resolves a binding path like "$.targets.keys" against the
// context. The path set is closed; anything else is an error, since an
// executable with an unknown binding path should never have compiled.
func (c *EvalContext) Lookup(path string) (any, error) {
	body, ok := strings.CutPrefix(path, "$.")
	if !ok {
		return nil, fmt.Errorf("binding path %q is not a JSONPath", path)
	}
	switch body {
	case "run.run_id":
		return c.Run.RunID, nil
	case "run.limit":
		return int64(c.Run.Limit), nil
	case "instance.id":
		return c.InstanceID, nil
	case "partition.network":
		return c.Partition.Network, nil
	case "partition.subnet":
		return c.Partition.Subnet, nil
	case "partition.chain_id":
		return c.Partition.ChainID, nil
	case "schedule.effective_as_of":
		return c.AsOf.UnixMilli(), nil
	case "targets.keys":
		return c.TargetKeys, nil
	}
	if name, ok := strings.CutPrefix(body, "variables."); ok {
		v, present := c.Variables[name]
		if !present {
			return nil, fmt.Errorf("binding path %q: variable not supplied", path)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown binding path %q", path)
}
