// Package executor answers queries: approximately from scrambles and sketches,
// or exactly by passing the statement through to the backend.
package executor

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/estimator"
	"github.com/sahithikokkula/verdict-aqe/pkg/planner"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
	"github.com/sahithikokkula/verdict-aqe/pkg/store"
)

type Executor struct {
	store   *store.Store
	meta    storage.MetaStore
	planner *planner.Planner
	opts    config.Options
}

func New(st *store.Store, meta storage.MetaStore, opts config.Options) *Executor {
	return &Executor{
		store:   st,
		meta:    meta,
		planner: planner.New(meta, st, st.Dialect(), opts),
		opts:    opts,
	}
}

func (e *Executor) Planner() *planner.Planner { return e.planner }

// ExecuteBypass runs the statement exactly after removing a leading BYPASS.
func (e *Executor) ExecuteBypass(ctx context.Context, sqlText string) (*result.Result, error) {
	return e.store.Execute(ctx, sqlast.StripBypass(sqlText))
}

// ExecuteApprox estimates an aggregate query from the best scramble of its
// table. Queries it cannot estimate fail with ErrUnsupportedQuery.
func (e *Executor) ExecuteApprox(ctx context.Context, sqlText string) (*result.Result, error) {
	plan, err := e.planner.Plan(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

// ExecuteSelect is ExecuteApprox for an already parsed query.
func (e *Executor) ExecuteSelect(ctx context.Context, q *sqlast.Select, sqlText string) (*result.Result, error) {
	plan, err := e.planner.PlanSelect(ctx, q, sqlText)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

func (e *Executor) Execute(ctx context.Context, plan *planner.Plan) (*result.Result, error) {
	start := time.Now()
	var (
		res *result.Result
		err error
	)
	switch plan.Type {
	case planner.PlanSketch:
		res, err = e.executeSketch(ctx, plan)
	case planner.PlanSample:
		res, err = e.executeSample(ctx, plan)
	default:
		res, err = e.store.Execute(ctx, plan.OriginalSQL)
	}
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"plan":     plan.Type,
		"scramble": plan.Scramble,
		"rows":     res.RowCount(),
		"elapsed":  time.Since(start),
	}).Debug("query executed")
	return res, nil
}

func (e *Executor) approximation(plan *planner.Plan) *result.Approximation {
	m := plan.Meta
	return &result.Approximation{
		Scramble:      m.Name(),
		Original:      m.Original(),
		SamplingRatio: plan.SampleFraction,
		ScannedBlocks: int(plan.ScannedBlocks),
		TotalBlocks:   int(plan.TotalBlocks),
		Method:        m.Method,
		Intervals:     map[string]estimator.CIResult{},
	}
}

// executeSketch answers from a stored sketch. Sketches are only built over
// full copies, so their counts need no scaling.
func (e *Executor) executeSketch(ctx context.Context, plan *planner.Plan) (*result.Result, error) {
	m := plan.Meta
	info, err := e.meta.GetSketch(ctx, m.Schema, m.Table, plan.SketchColumn, sketches.SketchType(plan.SketchType))
	if err != nil {
		return nil, err
	}
	sk, err := info.Decode()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidArgument, err)
	}

	var ci estimator.CIResult
	switch s := sk.(type) {
	case sketches.Cardinality:
		ci = estimator.DistinctCI(float64(s.Estimate()), s.RelativeError(), 1, e.opts.Confidence)
	case sketches.Frequency:
		ci = estimator.FrequencyCI(s.Frequency(plan.SketchValue), s.Bound(), e.opts.Confidence)
	default:
		return nil, errdefs.Newf(errdefs.ErrInvalidArgument, "unexpected sketch type %s", sk.Type())
	}

	name := plan.Outputs[0].Name
	res := result.New(
		[]result.Column{{Name: name, Type: "BIGINT"}},
		[][]any{{int64(math.Round(ci.Estimate))}},
	)
	approx := e.approximation(plan)
	approx.ScannedBlocks = 0
	approx.Intervals[name] = ci
	return res.WithApproximation(approx), nil
}
