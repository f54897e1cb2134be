package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shreyasdbz/axis/core"
)

func TestHappyPathSingleStep(t *testing.T) {
	steps := []core.PlanStep{
		{ID: "s1", Gear: "file-manager", Action: "read", Parameters: map[string]interface{}{"path": "data/a.txt"}, RiskLevel: core.RiskLow},
	}
	e := New()
	result, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		return map[string]interface{}{"content": "hi"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, AggregateCompleted, result.Status)
	require.Len(t, result.StepResults, 1)
	require.Equal(t, StepCompleted, result.StepResults[0].Status)
}

func TestDependencySkipPropagation(t *testing.T) {
	steps := []core.PlanStep{
		{ID: "s1", Gear: "g", Action: "a"},
		{ID: "s2", Gear: "g", Action: "a", DependsOn: []string{"s1"}},
		{ID: "s3", Gear: "g", Action: "a", DependsOn: []string{"s2"}},
	}
	e := New()
	result, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		if s.ID == "s1" {
			return nil, errors.New("boom")
		}
		return map[string]interface{}{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, AggregateFailed, result.Status)
	require.Equal(t, StepFailed, result.StepResults[0].Status)
	require.Equal(t, StepSkipped, result.StepResults[1].Status)
	require.Equal(t, SkipDependencyFailed, result.StepResults[1].SkipReason)
	require.Equal(t, StepSkipped, result.StepResults[2].Status)
}

func TestRefResolution(t *testing.T) {
	steps := []core.PlanStep{
		{ID: "s1", Gear: "g", Action: "a"},
		{ID: "s2", Gear: "g", Action: "a", DependsOn: []string{"s1"}, Parameters: map[string]interface{}{
			"u": "$ref:step:s1.user.id",
		}},
	}
	var observed interface{}
	e := New()
	result, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		if s.ID == "s1" {
			return map[string]interface{}{"user": map[string]interface{}{"id": float64(42)}}, nil
		}
		observed = s.Parameters["u"]
		return map[string]interface{}{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, AggregateCompleted, result.Status)
	require.Equal(t, float64(42), observed)
}

func TestCycleDetected(t *testing.T) {
	steps := []core.PlanStep{
		{ID: "s1", DependsOn: []string{"s2"}},
		{ID: "s2", DependsOn: []string{"s1"}},
	}
	e := New()
	_, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	require.Equal(t, core.KindCycleDetected, kind)
}

func TestSelfDependencyRejected(t *testing.T) {
	steps := []core.PlanStep{{ID: "s1", DependsOn: []string{"s1"}}}
	e := New()
	_, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		return nil, nil
	})
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	require.Equal(t, core.KindSelfDep, kind)
}

func TestConditionFalseDoesNotPropagate(t *testing.T) {
	steps := []core.PlanStep{
		{ID: "s1", Gear: "g", Action: "a"},
		{ID: "s2", Gear: "g", Action: "a", DependsOn: []string{"s1"}, Condition: &core.StepCondition{
			Field: "step:s1.result.ok", Operator: "eq", Value: true,
		}},
	}
	e := New()
	result, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		if s.ID == "s1" {
			return map[string]interface{}{"ok": false}, nil
		}
		return map[string]interface{}{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, StepSkipped, result.StepResults[1].Status)
	require.Equal(t, SkipConditionFalse, result.StepResults[1].SkipReason)
	// Condition-false skip must not propagate as a dependency failure.
	require.Equal(t, AggregateCompleted, result.Status)
}

func TestCircuitOpenSkipsAndPropagates(t *testing.T) {
	steps := []core.PlanStep{
		{ID: "s1", Gear: "flaky-gear", Action: "a"},
		{ID: "s2", Gear: "g", Action: "a", DependsOn: []string{"s1"}},
	}
	e := New(WithCircuitPredicate(func(gear string) bool { return gear == "flaky-gear" }))
	result, err := e.Run(context.Background(), steps, func(ctx context.Context, s core.PlanStep) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, StepSkipped, result.StepResults[0].Status)
	require.Equal(t, SkipCircuitOpen, result.StepResults[0].SkipReason)
	require.Equal(t, StepSkipped, result.StepResults[1].Status)
}

func TestExistsOperatorTruthTable(t *testing.T) {
	acc := resultAccessor{results: map[string]StepResult{
		"s1": {StepID: "s1", Status: StepCompleted, Value: map[string]interface{}{
			"zero": 0.0, "empty": "", "f": false, "n": nil,
		}},
	}}
	cases := []struct {
		field string
		want  bool
	}{
		{"step:s1.result.zero", true},
		{"step:s1.result.empty", true},
		{"step:s1.result.f", true},
		{"step:s1.result.n", false},
		{"step:s1.result.missing", false},
		{"step:unknown.result.x", false},
	}
	for _, c := range cases {
		cond := &core.StepCondition{Field: c.field, Operator: "exists"}
		require.Equal(t, c.want, evaluateCondition(cond, acc), c.field)
	}
}
