package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/expr"
	"github.com/klaxonhq/klaxon/internal/template"
)

// DefaultSampleCap bounds the sample triggers returned in a result.
const DefaultSampleCap = 25

// DefaultTimeout bounds one whole preview batch, all datasource queries
// included.
const DefaultTimeout = 30 * time.Second

// Error is a preview-level failure: a query executor error or a batch
// timeout. Previews are all-or-nothing - no partial results are returned.
type Error struct {
	DatasourceID string
	Cause        error
}

func (e *Error) Error() string {
	if e.DatasourceID != "" {
		return fmt.Sprintf("preview: datasource %s: %v", e.DatasourceID, e.Cause)
	}
	return fmt.Sprintf("preview: %v", e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Request asks for a preview of one executable over explicit target keys.
type Request struct {
	TargetKeys []string
	Variables  map[string]any
	Partition  Partition
	AsOf       time.Time
}

// Result summarizes a preview run.
type Result struct {
	TotalEvaluated int      `json:"total_events_evaluated"`
	WouldTrigger   int      `json:"would_have_triggered"`
	TriggerRate    float64  `json:"trigger_rate"`
	Samples        []Sample `json:"sample_triggers"`
}

// Sample is one matched target with its evaluated row.
type Sample struct {
	TargetKey  string         `json:"target_key"`
	Enrichment map[string]any `json:"enrichment,omitempty"`
}

// Engine evaluates compiled executables against a query backend. The
// evaluation itself is pure; the injected QueryExecutor is the single I/O
// boundary, so the engine is testable with a stub.
type Engine struct {
	exec      QueryExecutor
	snap      *catalog.Snapshot
	sampleCap int
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampleCap overrides the sample trigger cap.
func WithSampleCap(n int) Option {
	return func(e *Engine) { e.sampleCap = n }
}

// WithTimeout overrides the batch timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds a preview engine over an injected query executor and a
// catalog snapshot.
func NewEngine(exec QueryExecutor, snap *catalog.Snapshot, opts ...Option) *Engine {
	e := &Engine{
		exec:      exec,
		snap:      snap,
		sampleCap: DefaultSampleCap,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preview executes the executable's datasource queries, assembles a
// per-target row from the results, evaluates derivations and the compiled
// condition tree per target, and summarizes the outcome.
//
// Datasource queries run concurrently - there is no ordering dependency
// between them - but all must complete before per-target evaluation
// begins. One timeout governs the whole batch; any executor error or the
// deadline expiring fails the preview as a whole.
func (e *Engine) Preview(ctx context.Context, exe *template.Executable, req Request) (*Result, error) {
	if len(req.TargetKeys) == 0 {
		return nil, &Error{Cause: fmt.Errorf("no target keys supplied")}
	}

	evalCtx := &EvalContext{
		Run:        RunInfo{RunID: fmt.Sprintf("preview-%d", req.AsOf.UnixNano()), Limit: e.sampleCap},
		Partition:  req.Partition,
		AsOf:       req.AsOf,
		TargetKeys: req.TargetKeys,
		Variables:  req.Variables,
	}

	conditions, enrichments, err := e.parsePrograms(exe)
	if err != nil {
		return nil, err
	}

	rowsByDS, err := e.fetchAll(ctx, exe, evalCtx)
	if err != nil {
		return nil, err
	}

	result := &Result{TotalEvaluated: len(req.TargetKeys)}
	for _, key := range req.TargetKeys {
		root := e.assembleRow(exe, rowsByDS, key, req)
		resolver := expr.MapResolver{Root: root, Vars: req.Variables}

		// Derivations evaluate in declared order; each output is visible
		// to the ones after it and to the condition.
		enrichOut := root["enrichment"].(map[string]any)
		for _, en := range enrichments {
			v, err := expr.Eval(en.program, resolver)
			if err != nil {
				return nil, &Error{Cause: fmt.Errorf("enrichment %s: %w", en.id, err)}
			}
			enrichOut[en.id] = expr.ToGo(v)
		}

		matched, err := evalConditions(conditions, resolver)
		if err != nil {
			return nil, &Error{Cause: err}
		}
		if !matched {
			continue
		}
		result.WouldTrigger++
		if len(result.Samples) < e.sampleCap {
			sample := Sample{TargetKey: key, Enrichment: map[string]any{}}
			for k, v := range enrichOut {
				sample.Enrichment[k] = v
			}
			result.Samples = append(result.Samples, sample)
		}
	}

	if result.TotalEvaluated > 0 {
		result.TriggerRate = float64(result.WouldTrigger) / float64(result.TotalEvaluated)
	}
	e.logger.Info("preview complete",
		"evaluated", result.TotalEvaluated,
		"triggered", result.WouldTrigger,
		"datasources", len(exe.Datasources))
	return result, nil
}

// conditionProgram is a parsed condition group set.
type conditionProgram struct {
	all []expr.Expr
	any []expr.Expr
	not []expr.Expr
}

type enrichProgram struct {
	id      string
	program expr.Expr
}

// parsePrograms normalizes the executable's stored condition and
// enrichment JSON back into canonical trees. Executables carry canonical
// forms, so this round-trip produces no warnings.
func (e *Engine) parsePrograms(exe *template.Executable) (*conditionProgram, []enrichProgram, error) {
	parse := func(raw any) (expr.Expr, error) {
		tree, _, err := expr.Normalize(raw)
		return tree, err
	}

	cp := &conditionProgram{}
	for _, group := range []struct {
		dst *[]expr.Expr
		src []any
	}{
		{&cp.all, exe.Conditions.All},
		{&cp.any, exe.Conditions.Any},
		{&cp.not, exe.Conditions.Not},
	} {
		for _, raw := range group.src {
			tree, err := parse(raw)
			if err != nil {
				return nil, nil, &Error{Cause: fmt.Errorf("parse condition: %w", err)}
			}
			*group.dst = append(*group.dst, tree)
		}
	}

	programs := make([]enrichProgram, 0, len(exe.Enrichments))
	for _, en := range exe.Enrichments {
		tree, err := parse(en.Expr)
		if err != nil {
			return nil, nil, &Error{Cause: fmt.Errorf("parse enrichment %s: %w", en.ID, err)}
		}
		programs = append(programs, enrichProgram{id: en.ID, program: tree})
	}
	return cp, programs, nil
}

// fetchAll dispatches every datasource query concurrently under one
// deadline and indexes the returned rows by target key.
func (e *Engine) fetchAll(ctx context.Context, exe *template.Executable, evalCtx *EvalContext) (map[string]map[string]Row, error) {
	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var mu sync.Mutex
	rowsByDS := make(map[string]map[string]Row, len(exe.Datasources))

	g, gctx := errgroup.WithContext(qctx)
	for _, ds := range exe.Datasources {
		entry, ok := e.snap.Resolve(ds.CatalogID)
		if !ok {
			return nil, &Error{DatasourceID: ds.ID, Cause: fmt.Errorf("catalog id %q no longer resolves", ds.CatalogID)}
		}
		req, err := e.buildRequest(ds, entry, evalCtx)
		if err != nil {
			return nil, &Error{DatasourceID: ds.ID, Cause: err}
		}

		keyCol := "target_key"
		if len(entry.Schema.KeyColumns) > 0 {
			keyCol = entry.Schema.KeyColumns[0]
		}
		dsID := ds.ID
		g.Go(func() error {
			rows, err := e.exec.Query(gctx, req)
			if err != nil {
				return &Error{DatasourceID: dsID, Cause: err}
			}
			indexed := make(map[string]Row, len(rows))
			for _, row := range rows {
				key, _ := row[keyCol].(string)
				if key == "" {
					continue
				}
				indexed[key] = row
			}
			mu.Lock()
			rowsByDS[dsID] = indexed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rowsByDS, nil
}

// buildRequest fills typed parameters for one datasource from its bindings
// and the evaluation context, in declared parameter order.
func (e *Engine) buildRequest(ds template.DatasourceBinding, entry *catalog.Entry, evalCtx *EvalContext) (QueryRequest, error) {
	params := make([]Param, 0, len(entry.Params))
	for _, p := range entry.Params {
		path, bound := ds.Bindings[p.Name]
		if !bound {
			if p.Required {
				return QueryRequest{}, fmt.Errorf("required parameter %q has no binding", p.Name)
			}
			continue
		}
		raw, err := evalCtx.Lookup(path)
		if err != nil {
			return QueryRequest{}, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		param, err := coerceParam(p.Type, raw)
		if err != nil {
			return QueryRequest{}, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		params = append(params, param)
	}

	timeoutSecs := entry.Timeouts.QueryMS / 1000
	if timeoutSecs == 0 && entry.Timeouts.QueryMS > 0 {
		timeoutSecs = 1
	}
	return QueryRequest{
		Table:       entry.Query.Table,
		Network:     evalCtx.Partition.Network,
		Subnet:      evalCtx.Partition.Subnet,
		SQL:         entry.Query.SQL,
		Params:      params,
		Limit:       evalCtx.Run.Limit,
		TimeoutSecs: timeoutSecs,
	}, nil
}

// assembleRow merges all datasource outputs for one target key into the
// evaluation row. Datasource columns also mirror under $.tx so dotted
// tx shorthand refs resolve against query output.
func (e *Engine) assembleRow(exe *template.Executable, rowsByDS map[string]map[string]Row, key string, req Request) map[string]any {
	datasources := map[string]any{}
	tx := map[string]any{}
	for _, ds := range exe.Datasources {
		row, ok := rowsByDS[ds.ID][key]
		if !ok {
			continue
		}
		cols := make(map[string]any, len(row))
		for col, val := range row {
			cols[col] = val
			tx[col] = val
		}
		datasources[ds.ID] = cols
	}

	return map[string]any{
		"datasources": datasources,
		"tx":          tx,
		"enrichment":  map[string]any{},
		"variables":   req.Variables,
		"targets":     map[string]any{"key": key},
		"partition": map[string]any{
			"network":  req.Partition.Network,
			"subnet":   req.Partition.Subnet,
			"chain_id": req.Partition.ChainID,
		},
		"schedule": map[string]any{
			"effective_as_of": req.AsOf.UnixMilli(),
		},
	}
}

// evalConditions applies the group semantics: every all-condition holds,
// at least one any-condition holds (when present), and no not-condition
// holds. Null results count as non-match.
func evalConditions(cp *conditionProgram, r expr.Resolver) (bool, error) {
	for _, cond := range cp.all {
		ok, err := expr.Matches(cond, r)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(cp.any) > 0 {
		anyMatched := false
		for _, cond := range cp.any {
			ok, err := expr.Matches(cond, r)
			if err != nil {
				return false, err
			}
			if ok {
				anyMatched = true
				break
			}
		}
		if !anyMatched {
			return false, nil
		}
	}
	for _, cond := range cp.not {
		ok, err := expr.Matches(cond, r)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}
