package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klaxonhq/klaxon/internal/template"
)

// Trigger types a projected instance can carry.
const (
	TriggerPeriodic = "periodic"
	TriggerOneTime  = "one_time"
	TriggerEvent    = "event"
)

// CompileFunc compiles a pinned template into its executable. Projection
// calls it when an instance references a template whose executable record
// is missing from the store.
type CompileFunc func(d *template.Draft) (*template.Executable, error)

// ProjectionError wraps a failure while projecting one instance.
type ProjectionError struct {
	InstanceID string
	Op         string
	Cause      error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("project instance %s: %s: %v", e.InstanceID, e.Op, e.Cause)
}

func (e *ProjectionError) Unwrap() error { return e.Cause }

// Projector publishes templates, executables and instances into the
// runtime store. It is the store's only writer.
type Projector struct {
	store   Store
	compile CompileFunc
	log     *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithProjectorLogger sets the logger.
func WithProjectorLogger(log *slog.Logger) ProjectorOption {
	return func(p *Projector) { p.log = log }
}

// WithClock overrides the schedule clock.
func WithClock(now func() time.Time) ProjectorOption {
	return func(p *Projector) { p.now = now }
}

// NewProjector builds a projector over store. compile may be nil when
// every referenced executable is already published.
func NewProjector(store Store, compile CompileFunc, opts ...ProjectorOption) *Projector {
	p := &Projector{
		store:   store,
		compile: compile,
		log:     slog.Default(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// lockInstance serializes projection of one instance id. Distinct ids
// proceed independently.
func (p *Projector) lockInstance(id string) func() {
	p.mu.Lock()
	m, ok := p.locks[id]
	if !ok {
		m = &sync.Mutex{}
		p.locks[id] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ProjectTemplateBundle publishes a pinned template and its compiled
// executable in one batch. Re-publishing the same version overwrites with
// identical content, so the call is idempotent.
func (p *Projector) ProjectTemplateBundle(ctx context.Context, tpl *template.Draft, exe *template.Executable) error {
	if tpl.TemplateID == "" {
		return errors.New("template bundle: empty template id")
	}
	tplRaw, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template %s: %w", tpl.TemplateID, err)
	}
	exeRaw, err := json.Marshal(exe)
	if err != nil {
		return fmt.Errorf("marshal executable %s: %w", exe.ExecutableID, err)
	}

	err = p.store.Batch(ctx, func(pipe Pipe) {
		pipe.Set(TemplateKey(tpl.TemplateID, tpl.TemplateVersion), tplRaw)
		pipe.Set(ExecutableKey(tpl.TemplateID, tpl.TemplateVersion), exeRaw)
	})
	if err != nil {
		return fmt.Errorf("publish template bundle %s v%d: %w", tpl.TemplateID, tpl.TemplateVersion, err)
	}

	p.log.Info("published template bundle",
		"template_id", tpl.TemplateID,
		"template_version", tpl.TemplateVersion,
		"executable_id", exe.ExecutableID)
	return nil
}

// ProjectInstance brings the store in line with one instance's desired
// state. Disabled instances are withdrawn entirely; enabled instances get
// their record, index memberships and schedule entry written in a single
// batch, with stale memberships from any previous projection removed in
// the same batch.
func (p *Projector) ProjectInstance(ctx context.Context, inst *template.Instance) error {
	if inst.InstanceID == "" {
		return &ProjectionError{InstanceID: "", Op: "validate", Cause: errors.New("empty instance id")}
	}
	unlock := p.lockInstance(inst.InstanceID)
	defer unlock()

	prev, err := p.loadInstance(ctx, inst.InstanceID)
	if err != nil {
		return &ProjectionError{InstanceID: inst.InstanceID, Op: "load previous record", Cause: err}
	}

	if !inst.Enabled {
		return p.withdraw(ctx, inst.InstanceID, prev)
	}

	tpl, exe, err := p.resolveBundle(ctx, inst.TemplateID, inst.TemplateVersion)
	if err != nil {
		return &ProjectionError{InstanceID: inst.InstanceID, Op: "resolve executable", Cause: err}
	}

	rec := p.buildRecord(inst, tpl, exe)
	raw, err := rec.marshal()
	if err != nil {
		return &ProjectionError{InstanceID: inst.InstanceID, Op: "marshal record", Cause: err}
	}

	newIdx := indexMemberships(rec.TargetSelector)
	var stale []string
	if prev != nil {
		stale = diffMemberships(indexMemberships(prev.TargetSelector), newIdx)
	}

	err = p.store.Batch(ctx, func(pipe Pipe) {
		pipe.Set(InstanceKey(inst.InstanceID), raw)
		for _, key := range stale {
			pipe.SRem(key, inst.InstanceID)
		}
		for _, key := range newIdx {
			pipe.SAdd(key, inst.InstanceID)
		}
		p.schedule(pipe, rec, inst)
	})
	if err != nil {
		return &ProjectionError{InstanceID: inst.InstanceID, Op: "commit batch", Cause: err}
	}

	p.log.Info("projected instance",
		"instance_id", inst.InstanceID,
		"template_id", inst.TemplateID,
		"template_version", inst.TemplateVersion,
		"trigger_type", rec.TriggerType,
		"index_sets", len(newIdx),
		"stale_sets", len(stale))
	return nil
}

// withdraw removes an instance's record, memberships and schedule entries
// in one batch. Safe to call for instances that were never projected.
func (p *Projector) withdraw(ctx context.Context, instanceID string, prev *RuntimeInstance) error {
	err := p.store.Batch(ctx, func(pipe Pipe) {
		pipe.Delete(InstanceKey(instanceID))
		if prev != nil {
			for _, key := range indexMemberships(prev.TargetSelector) {
				pipe.SRem(key, instanceID)
			}
		}
		pipe.ZRem(SchedulePeriodicKey, instanceID)
		pipe.ZRem(ScheduleOneTimeKey, instanceID)
	})
	if err != nil {
		return &ProjectionError{InstanceID: instanceID, Op: "withdraw", Cause: err}
	}
	p.log.Info("withdrew instance", "instance_id", instanceID)
	return nil
}

// schedule queues the instance's schedule-set mutations. The entry it
// does not belong to is removed so trigger-mode changes never leave a
// stale schedule behind.
func (p *Projector) schedule(pipe Pipe, rec *RuntimeInstance, inst *template.Instance) {
	switch rec.TriggerType {
	case TriggerPeriodic:
		next := p.now().Unix() + cadenceSeconds(rec.TriggerConfig)
		pipe.ZAdd(SchedulePeriodicKey, float64(next), inst.InstanceID)
		pipe.ZRem(ScheduleOneTimeKey, inst.InstanceID)
	case TriggerOneTime:
		pipe.ZAdd(ScheduleOneTimeKey, float64(inst.FireAt), inst.InstanceID)
		pipe.ZRem(SchedulePeriodicKey, inst.InstanceID)
	default:
		pipe.ZRem(SchedulePeriodicKey, inst.InstanceID)
		pipe.ZRem(ScheduleOneTimeKey, inst.InstanceID)
	}
}

// cadenceSeconds reads the periodic cadence from a trigger config.
// Freshly built records carry an int; records that went through a JSON
// round-trip carry float64 or json.Number.
func cadenceSeconds(cfg map[string]any) int64 {
	switch v := cfg["cadence_seconds"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// buildRecord flattens instance + template + executable into the record
// the evaluator reads.
func (p *Projector) buildRecord(inst *template.Instance, tpl *template.Draft, exe *template.Executable) *RuntimeInstance {
	rec := &RuntimeInstance{
		InstanceID:      inst.InstanceID,
		Enabled:         true,
		Priority:        inst.Priority,
		TemplateID:      inst.TemplateID,
		TemplateVersion: inst.TemplateVersion,
		ExecutableID:    exe.ExecutableID,
		TargetSelector:  inst.TargetSelector,
		VariableValues:  inst.VariableValues,
		Notification:    exe.Notification,
		Action:          exe.Action,
	}
	rec.TriggerType, rec.TriggerConfig = triggerOf(tpl, inst)
	return rec
}

// triggerOf derives the runtime trigger from the pinned template and the
// instance. A one-time fire-at on the instance wins over the template's
// cadence.
func triggerOf(tpl *template.Draft, inst *template.Instance) (string, map[string]any) {
	if inst.FireAt > 0 {
		return TriggerOneTime, map[string]any{"fire_at": inst.FireAt}
	}
	if tpl != nil && tpl.Trigger.CronCadenceSecs > 0 {
		return TriggerPeriodic, map[string]any{"cadence_seconds": tpl.Trigger.CronCadenceSecs}
	}
	return TriggerEvent, nil
}

// resolveBundle loads the pinned template and its executable. A missing
// executable is compiled on demand from the stored template and published
// back, so projection self-heals after a partial publish.
func (p *Projector) resolveBundle(ctx context.Context, templateID string, version int) (*template.Draft, *template.Executable, error) {
	tplRaw, err := p.store.Get(ctx, TemplateKey(templateID, version))
	if err != nil {
		return nil, nil, fmt.Errorf("load template %s v%d: %w", templateID, version, err)
	}
	tpl, err := template.ParseDraft(tplRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode template %s v%d: %w", templateID, version, err)
	}

	exeRaw, err := p.store.Get(ctx, ExecutableKey(templateID, version))
	switch {
	case err == nil:
		var exe template.Executable
		if err := json.Unmarshal(exeRaw, &exe); err != nil {
			return nil, nil, fmt.Errorf("decode executable for %s v%d: %w", templateID, version, err)
		}
		return tpl, &exe, nil
	case errors.Is(err, ErrNotFound):
		if p.compile == nil {
			return nil, nil, fmt.Errorf("executable for %s v%d not published and no compiler configured", templateID, version)
		}
		exe, err := p.compile(tpl)
		if err != nil {
			return nil, nil, fmt.Errorf("compile template %s v%d: %w", templateID, version, err)
		}
		if err := p.ProjectTemplateBundle(ctx, tpl, exe); err != nil {
			return nil, nil, err
		}
		return tpl, exe, nil
	default:
		return nil, nil, fmt.Errorf("load executable for %s v%d: %w", templateID, version, err)
	}
}

// Resync re-projects a set of instances, retrying each failure once.
// Errors are collected rather than aborting the pass, so one bad instance
// does not starve the rest.
func (p *Projector) Resync(ctx context.Context, instances []*template.Instance) error {
	var errs []error
	for _, inst := range instances {
		err := p.ProjectInstance(ctx, inst)
		if err != nil {
			p.log.Warn("resync projection failed, retrying",
				"instance_id", inst.InstanceID, "error", err)
			err = p.ProjectInstance(ctx, inst)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		p.log.Error("resync finished with failures", "failed", len(errs), "total", len(instances))
	}
	return errors.Join(errs...)
}

// loadInstance reads a previously projected record, mapping ErrNotFound
// to nil.
func (p *Projector) loadInstance(ctx context.Context, instanceID string) (*RuntimeInstance, error) {
	raw, err := p.store.Get(ctx, InstanceKey(instanceID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unmarshalRuntimeInstance(raw)
}

// diffMemberships returns the keys in old that are absent from new.
func diffMemberships(old, new []string) []string {
	keep := make(map[string]struct{}, len(new))
	for _, k := range new {
		keep[k] = struct{}{}
	}
	var stale []string
	for _, k := range old {
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	return stale
}
