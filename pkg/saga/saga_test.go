package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_AllStepsSucceed(t *testing.T) {
	var order []string

	orch := NewOrchestrator()
	orch.AddStep(Step{
		Name:   "first",
		Action: func(ctx context.Context) error { order = append(order, "first"); return nil },
	})
	orch.AddStep(Step{
		Name:   "second",
		Action: func(ctx context.Context) error { order = append(order, "second"); return nil },
	})

	require.NoError(t, orch.Execute(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestExecute_CompensatesInReverseOrder(t *testing.T) {
	var compensated []string

	orch := NewOrchestrator()
	orch.AddStep(Step{
		Name:         "first",
		Action:       func(ctx context.Context) error { return nil },
		Compensation: func(ctx context.Context) error { compensated = append(compensated, "first"); return nil },
	})
	orch.AddStep(Step{
		Name:         "second",
		Action:       func(ctx context.Context) error { return nil },
		Compensation: func(ctx context.Context) error { compensated = append(compensated, "second"); return nil },
	})
	orch.AddStep(Step{
		Name:   "third",
		Action: func(ctx context.Context) error { return errors.New("boom") },
	})

	err := orch.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "third")
	assert.Equal(t, []string{"second", "first"}, compensated)
}

func TestExecute_ReportsCompensationFailure(t *testing.T) {
	orch := NewOrchestrator()
	orch.AddStep(Step{
		Name:         "first",
		Action:       func(ctx context.Context) error { return nil },
		Compensation: func(ctx context.Context) error { return errors.New("rollback failed") },
	})
	orch.AddStep(Step{
		Name:   "second",
		Action: func(ctx context.Context) error { return errors.New("boom") },
	})

	err := orch.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "rollback failed")
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	orch := NewOrchestrator()
	orch.AddStep(Step{
		Name:   "never",
		Action: func(ctx context.Context) error { ran = true; return nil },
	})

	err := orch.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}
