package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/internal/compiler"
	"github.com/klaxonhq/klaxon/internal/template"
	"github.com/klaxonhq/klaxon/internal/testutil"
)

var testEpoch = time.Unix(1700000000, 0)

func newTestProjector(t *testing.T) (*Projector, *MemoryStore, *testutil.FixedClock) {
	t.Helper()
	snap := testutil.Snapshot(t)
	compile := func(d *template.Draft) (*template.Executable, error) {
		res, err := compiler.Compile(d, snap)
		if err != nil {
			return nil, err
		}
		return res.Executable, nil
	}

	store := NewMemoryStore()
	clock := testutil.NewFixedClock(testEpoch)
	p := NewProjector(store, compile,
		WithClock(clock.Now),
		WithProjectorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return p, store, clock
}

func publishBalanceBundle(t *testing.T, p *Projector) *template.Executable {
	t.Helper()
	tpl := testutil.BalanceDraft(t)
	exe, err := p.compile(tpl)
	require.NoError(t, err)
	require.NoError(t, p.ProjectTemplateBundle(context.Background(), tpl, exe))
	return exe
}

func balanceInstance() *template.Instance {
	return &template.Instance{
		InstanceID:      "inst_1",
		Enabled:         true,
		TemplateID:      "tpl_balance_alert",
		TemplateVersion: 3,
		TargetSelector:  template.TargetSelector{Mode: "keys", Keys: []string{"0xa", "0xb"}},
		VariableValues:  map[string]any{"threshold": "1.0"},
	}
}

func loadRecord(t *testing.T, store *MemoryStore, instanceID string) *RuntimeInstance {
	t.Helper()
	raw, err := store.Get(context.Background(), InstanceKey(instanceID))
	require.NoError(t, err)
	rec, err := unmarshalRuntimeInstance(raw)
	require.NoError(t, err)
	return rec
}

func TestProjectTemplateBundle(t *testing.T) {
	p, store, _ := newTestProjector(t)
	exe := publishBalanceBundle(t, p)

	_, err := store.Get(context.Background(), TemplateKey("tpl_balance_alert", 3))
	require.NoError(t, err)

	raw, err := store.Get(context.Background(), ExecutableKey("tpl_balance_alert", 3))
	require.NoError(t, err)
	var stored template.Executable
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, exe.ExecutableID, stored.ExecutableID)
}

func TestProjectInstancePeriodic(t *testing.T) {
	p, store, _ := newTestProjector(t)
	exe := publishBalanceBundle(t, p)

	require.NoError(t, p.ProjectInstance(context.Background(), balanceInstance()))

	rec := loadRecord(t, store, "inst_1")
	assert.Equal(t, exe.ExecutableID, rec.ExecutableID)
	assert.Equal(t, TriggerPeriodic, rec.TriggerType)
	assert.EqualValues(t, 300, rec.TriggerConfig["cadence_seconds"])

	members, err := store.SMembers(context.Background(), TargetIndexKey("0xa"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inst_1"}, members)

	score, ok := store.ZScore(SchedulePeriodicKey, "inst_1")
	require.True(t, ok)
	assert.Equal(t, float64(testEpoch.Unix()+300), score)

	_, ok = store.ZScore(ScheduleOneTimeKey, "inst_1")
	assert.False(t, ok)
}

func TestProjectInstanceSelectorDiff(t *testing.T) {
	p, store, _ := newTestProjector(t)
	publishBalanceBundle(t, p)
	ctx := context.Background()

	require.NoError(t, p.ProjectInstance(ctx, balanceInstance()))

	moved := balanceInstance()
	moved.TargetSelector.Keys = []string{"0xb", "0xc"}
	require.NoError(t, p.ProjectInstance(ctx, moved))

	for key, want := range map[string][]string{
		TargetIndexKey("0xa"): {},
		TargetIndexKey("0xb"): {"inst_1"},
		TargetIndexKey("0xc"): {"inst_1"},
	} {
		members, err := store.SMembers(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, members, key)
	}
}

func TestWithdrawInstance(t *testing.T) {
	p, store, _ := newTestProjector(t)
	publishBalanceBundle(t, p)
	ctx := context.Background()

	require.NoError(t, p.ProjectInstance(ctx, balanceInstance()))

	disabled := balanceInstance()
	disabled.Enabled = false
	require.NoError(t, p.ProjectInstance(ctx, disabled))

	_, err := store.Get(ctx, InstanceKey("inst_1"))
	assert.ErrorIs(t, err, ErrNotFound)

	members, err := store.SMembers(ctx, TargetIndexKey("0xa"))
	require.NoError(t, err)
	assert.Empty(t, members)

	_, ok := store.ZScore(SchedulePeriodicKey, "inst_1")
	assert.False(t, ok)
	_, ok = store.ZScore(ScheduleOneTimeKey, "inst_1")
	assert.False(t, ok)
}

func TestWithdrawNeverProjected(t *testing.T) {
	p, _, _ := newTestProjector(t)
	disabled := balanceInstance()
	disabled.Enabled = false
	assert.NoError(t, p.ProjectInstance(context.Background(), disabled))
}

func TestCompileOnDemand(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	// Publish only the template record; the executable is missing, as
	// after a partial publish.
	tpl := testutil.BalanceDraft(t)
	raw, err := json.Marshal(tpl)
	require.NoError(t, err)
	require.NoError(t, store.Batch(ctx, func(pipe Pipe) {
		pipe.Set(TemplateKey(tpl.TemplateID, tpl.TemplateVersion), raw)
	}))

	require.NoError(t, p.ProjectInstance(ctx, balanceInstance()))

	// Projection compiled on demand and republished the executable.
	_, err = store.Get(ctx, ExecutableKey(tpl.TemplateID, tpl.TemplateVersion))
	require.NoError(t, err)
	rec := loadRecord(t, store, "inst_1")
	assert.NotEmpty(t, rec.ExecutableID)
}

func TestMissingExecutableWithoutCompiler(t *testing.T) {
	_, store, _ := newTestProjector(t)
	ctx := context.Background()

	tpl := testutil.BalanceDraft(t)
	raw, err := json.Marshal(tpl)
	require.NoError(t, err)
	require.NoError(t, store.Batch(ctx, func(pipe Pipe) {
		pipe.Set(TemplateKey(tpl.TemplateID, tpl.TemplateVersion), raw)
	}))

	p := NewProjector(store, nil,
		WithProjectorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err = p.ProjectInstance(ctx, balanceInstance())
	var pe *ProjectionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "inst_1", pe.InstanceID)
}

func TestOneTimeTrigger(t *testing.T) {
	p, store, _ := newTestProjector(t)
	publishBalanceBundle(t, p)
	ctx := context.Background()

	// A fire-at on the instance wins over the template cadence.
	inst := balanceInstance()
	inst.FireAt = testEpoch.Unix() + 900
	require.NoError(t, p.ProjectInstance(ctx, inst))

	rec := loadRecord(t, store, "inst_1")
	assert.Equal(t, TriggerOneTime, rec.TriggerType)
	score, ok := store.ZScore(ScheduleOneTimeKey, "inst_1")
	require.True(t, ok)
	assert.Equal(t, float64(inst.FireAt), score)
	_, ok = store.ZScore(SchedulePeriodicKey, "inst_1")
	assert.False(t, ok)

	// Dropping the fire-at moves it back to the periodic schedule and
	// cleans the one-time entry.
	require.NoError(t, p.ProjectInstance(ctx, balanceInstance()))
	_, ok = store.ZScore(SchedulePeriodicKey, "inst_1")
	assert.True(t, ok)
	_, ok = store.ZScore(ScheduleOneTimeKey, "inst_1")
	assert.False(t, ok)
}

func TestEventTrigger(t *testing.T) {
	p, store, _ := newTestProjector(t)
	ctx := context.Background()

	tpl := testutil.BalanceDraft(t)
	tpl.TemplateID = "tpl_balance_event"
	tpl.Trigger.EvaluationMode = "event"
	tpl.Trigger.CronCadenceSecs = 0
	exe, err := p.compile(tpl)
	require.NoError(t, err)
	require.NoError(t, p.ProjectTemplateBundle(ctx, tpl, exe))

	inst := balanceInstance()
	inst.TemplateID = "tpl_balance_event"
	require.NoError(t, p.ProjectInstance(ctx, inst))

	rec := loadRecord(t, store, "inst_1")
	assert.Equal(t, TriggerEvent, rec.TriggerType)
	_, ok := store.ZScore(SchedulePeriodicKey, "inst_1")
	assert.False(t, ok)
	_, ok = store.ZScore(ScheduleOneTimeKey, "inst_1")
	assert.False(t, ok)

	members, err := store.SMembers(ctx, TargetIndexKey("0xa"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inst_1"}, members)
}

func TestGroupSelector(t *testing.T) {
	p, store, _ := newTestProjector(t)
	publishBalanceBundle(t, p)
	ctx := context.Background()

	inst := balanceInstance()
	inst.TargetSelector = template.TargetSelector{Mode: "group", GroupID: "grp_1"}
	require.NoError(t, p.ProjectInstance(ctx, inst))

	members, err := store.SMembers(ctx, GroupIndexKey("grp_1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inst_1"}, members)

	members, err = store.SMembers(ctx, TargetIndexKey("0xa"))
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestScheduleCadenceFromDecodedRecord(t *testing.T) {
	// Records that went through a JSON round-trip carry the cadence as
	// float64; the schedule score must still land at now+cadence.
	p, store, _ := newTestProjector(t)

	rec, err := unmarshalRuntimeInstance([]byte(`{
		"instance_id": "inst_1",
		"trigger_type": "periodic",
		"trigger_config": {"cadence_seconds": 300}
	}`))
	require.NoError(t, err)

	inst := balanceInstance()
	require.NoError(t, store.Batch(context.Background(), func(pipe Pipe) {
		p.schedule(pipe, rec, inst)
	}))

	score, ok := store.ZScore(SchedulePeriodicKey, "inst_1")
	require.True(t, ok)
	assert.Equal(t, float64(testEpoch.Unix()+300), score)
}

func TestCadenceSeconds(t *testing.T) {
	for _, cfg := range []map[string]any{
		{"cadence_seconds": 300},
		{"cadence_seconds": int64(300)},
		{"cadence_seconds": float64(300)},
		{"cadence_seconds": json.Number("300")},
	} {
		assert.Equal(t, int64(300), cadenceSeconds(cfg), "%T", cfg["cadence_seconds"])
	}
	assert.Zero(t, cadenceSeconds(nil))
	assert.Zero(t, cadenceSeconds(map[string]any{"cadence_seconds": "300"}))
}

func TestProjectInstanceEmptyID(t *testing.T) {
	p, _, _ := newTestProjector(t)
	err := p.ProjectInstance(context.Background(), &template.Instance{})
	var pe *ProjectionError
	require.ErrorAs(t, err, &pe)
}

func TestResyncCollectsFailures(t *testing.T) {
	p, store, _ := newTestProjector(t)
	publishBalanceBundle(t, p)
	ctx := context.Background()

	good := balanceInstance()
	bad := balanceInstance()
	bad.InstanceID = "inst_bad"
	bad.TemplateID = "tpl_never_published"

	err := p.Resync(ctx, []*template.Instance{good, bad})
	require.Error(t, err)
	var pe *ProjectionError
	require.True(t, errors.As(err, &pe))

	// The good instance still landed.
	_, err = store.Get(ctx, InstanceKey("inst_1"))
	assert.NoError(t, err)
}
